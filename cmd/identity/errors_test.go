package identity

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	conflict := fmt.Errorf("wrapped: %w", ConflictError{Op: "identity.CreateUser", Field: "username"})
	notFound := NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	invalid := OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: "email is required"}

	if field, ok := ConflictField(conflict); !ok || field != "username" {
		t.Fatalf("ConflictField()=(%q,%v) want=(username,true)", field, ok)
	}
	if !IsConflict(conflict) || IsConflict(notFound) {
		t.Fatalf("IsConflict misclassified")
	}
	if !IsNotFound(notFound) || IsNotFound(invalid) {
		t.Fatalf("IsNotFound misclassified")
	}
	if !IsInvalidInput(invalid) || !errors.Is(invalid, ErrInvalidInput) {
		t.Fatalf("IsInvalidInput misclassified")
	}

	if got, want := invalid.Error(), "identity.CreateUser: invalid_input: email is required"; got != want {
		t.Fatalf("Error()=%q want=%q", got, want)
	}
	if got, want := notFound.Error(), "identity.GetUserByID: not_found: user"; got != want {
		t.Fatalf("Error()=%q want=%q", got, want)
	}
}

func TestNormalize(t *testing.T) {
	if got := NormalizeUsername("  Alice "); got != "alice" {
		t.Fatalf("NormalizeUsername=%q", got)
	}
	if got := NormalizeEmail(" Bob@Example.COM "); got != "bob@example.com" {
		t.Fatalf("NormalizeEmail=%q", got)
	}
}
