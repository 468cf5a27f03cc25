package contract

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusOpen, StatusPendingDeposit},
		{StatusOpen, StatusCancelled},
		{StatusPendingDeposit, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusDisputed},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s to be allowed", edge[0], edge[1])
		}
	}

	denied := [][2]Status{
		{StatusOpen, StatusInProgress},
		{StatusPendingDeposit, StatusCancelled},
		{StatusCompleted, StatusDisputed},
		{StatusCompleted, StatusInProgress},
		{StatusDisputed, StatusCompleted},
		{StatusCancelled, StatusOpen},
	}
	for _, edge := range denied {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s to be rejected", edge[0], edge[1])
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusDisputed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusOpen, StatusPendingDeposit, StatusInProgress, Status("bogus")} {
		if s.Terminal() {
			t.Fatalf("expected %s not to be terminal", s)
		}
	}
}
