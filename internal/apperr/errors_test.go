package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := Validationf("start must be >= 0, got %v", -1)

	if !errors.Is(err, Validation) {
		t.Fatalf("expected validation error to match sentinel")
	}
	if errors.Is(err, Composition) {
		t.Fatalf("validation error must not match composition sentinel")
	}

	wrapped := fmt.Errorf("submit: %w", err)
	if !errors.Is(wrapped, Validation) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if got := KindOf(wrapped); got != KindValidation {
		t.Fatalf("KindOf() = %s, want %s", got, KindValidation)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf() = %s, want %s", got, KindInternal)
	}
}

func TestWithOperationAndSegment(t *testing.T) {
	base := New(KindEngineRuntime, "exit status 1")
	err := WithSegment(WithOperation(base, "merge", "op-1"), "seg-2")

	msg := err.Error()
	for _, want := range []string{"engine_runtime", "merge", "op-1", "seg-2", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not contain %q", msg, want)
		}
	}
	if base.OperationID != "" {
		t.Errorf("annotation must not mutate the original error")
	}
	if !errors.Is(err, EngineRuntime) {
		t.Errorf("annotated error lost its kind")
	}
}

func TestWithOperationNil(t *testing.T) {
	if WithOperation(nil, "trim", "x") != nil {
		t.Fatal("expected nil")
	}
	if WithSegment(nil, "x") != nil {
		t.Fatal("expected nil")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(KindResource, cause, "remove %s", "/tmp/x")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if !errors.Is(err, Resource) {
		t.Fatal("expected resource kind")
	}
}
