package utils

import (
	"errors"
	"testing"
)

func TestAppErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError("store.WriteVitals", "post vitals", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
	want := "store.WriteVitals: post vitals: connection refused"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAppErrorWithoutCause(t *testing.T) {
	err := NewAppError("remote.get", "base URL not configured", nil)
	if err.Error() != "remote.get: base URL not configured" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
