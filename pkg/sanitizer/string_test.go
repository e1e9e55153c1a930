package sanitizer

import "testing"

func TestSanitizeSubject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Linear Algebra", "Linear Algebra"},
		{"surrounding whitespace", "  calculus II  ", "calculus II"},
		{"collapsed whitespace", "intro \t to\n\n go", "intro to go"},
		{"control chars stripped", "phys\x00ics\x1f 101", "phys ics 101"},
		{"empty", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSubject(tc.in); got != tc.want {
				t.Errorf("SanitizeSubject(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeActorID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "tutor-42", "tutor-42"},
		{"unicode letters kept", "métudiant_7", "métudiant_7"},
		{"operators stripped", `stu{"$gt":""}dent`, "stugtdent"},
		{"spaces stripped", " tutor 42 ", "tutor42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeActorID(tc.in); got != tc.want {
				t.Errorf("SanitizeActorID(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
