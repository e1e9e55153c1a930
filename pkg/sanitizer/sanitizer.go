// Package sanitizer normalizes free-text fields (subjects, actor ids)
// before validation and persistence.
package sanitizer

import (
	"regexp"
	"strings"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

var (
	reControlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]+`)
	reKeepWordChars = regexp.MustCompile(`[^0-9\p{L}_-]+`)
)

func stripControlChars(s string) string {
	return reControlChars.ReplaceAllString(s, " ")
}

// SanitizeSubject cleans a class or request subject for display and
// regex-free search: control characters removed, whitespace collapsed.
func SanitizeSubject(input string) string {
	p := Pipeline{
		stripControlChars,
		TrimAndNormalize,
	}
	return p.Apply(input)
}

// SanitizeActorID reduces an externally supplied requester/tutor id to
// word characters so it can never smuggle operators into a query.
func SanitizeActorID(input string) string {
	p := Pipeline{
		strings.TrimSpace,
		func(s string) string { return reKeepWordChars.ReplaceAllString(s, "") },
	}
	return p.Apply(input)
}
