package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassFullIsConflictOutcome(t *testing.T) {
	err := ClassFull("64f000000000000000000001")

	if err.StatusCode() != http.StatusConflict {
		t.Errorf("expected 409, got %d", err.StatusCode())
	}
	if err.Code != CodeClassFull {
		t.Errorf("expected code %s, got %s", CodeClassFull, err.Code)
	}
	if !IsBusinessOutcome(err) {
		t.Error("class full must be classified as a business outcome")
	}
}

func TestAlreadyResolvedIsConflictOutcome(t *testing.T) {
	err := AlreadyResolved("64f000000000000000000002")

	if err.StatusCode() != http.StatusConflict {
		t.Errorf("expected 409, got %d", err.StatusCode())
	}
	if !IsBusinessOutcome(err) {
		t.Error("already resolved must be classified as a business outcome")
	}
}

func TestInternalIsNotBusinessOutcome(t *testing.T) {
	err := Internal("store unavailable", errors.New("connection refused"))

	if IsBusinessOutcome(err) {
		t.Error("internal errors must not be classified as business outcomes")
	}
	if err.StatusCode() != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", err.StatusCode())
	}
}

func TestAsAppErrorWrapsUnknownErrors(t *testing.T) {
	raw := errors.New("boom")
	appErr := AsAppError(raw)

	if appErr.Code != CodeInternal {
		t.Errorf("expected %s, got %s", CodeInternal, appErr.Code)
	}
	if !errors.Is(appErr, raw) {
		t.Error("wrapped error must unwrap to the original")
	}
}

func TestAsAppErrorPassesThrough(t *testing.T) {
	orig := NotFoundWithID("Booking", "abc")
	if got := AsAppError(orig); got != orig {
		t.Error("AppError input must be returned unchanged")
	}
}
