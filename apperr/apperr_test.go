package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := State("contract.accept", "contract %s is no longer open", "c-1")

	if !errors.Is(err, ErrState) {
		t.Fatalf("expected state error to match ErrState")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("state error must not match ErrValidation")
	}
	if got := err.Error(); got != "contract.accept: contract c-1 is no longer open" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestErrorMatchesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("withdrawal: process: %w", InsufficientBalance("ledger.debit", "balance too low"))

	if !errors.Is(wrapped, ErrInsufficientBalance) {
		t.Fatalf("expected wrapped error to match ErrInsufficientBalance")
	}
	if KindOf(wrapped) != KindInsufficientBalance {
		t.Fatalf("expected kind %s, got %s", KindInsufficientBalance, KindOf(wrapped))
	}
}

func TestKindOfInfrastructureError(t *testing.T) {
	if kind := KindOf(errors.New("connection reset")); kind != "" {
		t.Fatalf("expected empty kind, got %s", kind)
	}
}

func TestTwoConcreteErrorsDoNotMatchEachOther(t *testing.T) {
	a := Validation("op", "a")
	b := Validation("op", "b")
	if errors.Is(a, b) {
		t.Fatalf("concrete errors should only match sentinels")
	}
}
