package contract

type Status string

const (
	StatusOpen           Status = "open"
	StatusPendingDeposit Status = "pending_deposit"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusDisputed       Status = "disputed"
	StatusCancelled      Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusOpen:           {StatusPendingDeposit, StatusCancelled},
	StatusPendingDeposit: {StatusInProgress},
	StatusInProgress:     {StatusCompleted, StatusDisputed},
}

// CanTransition reports whether the state machine has an edge from -> to.
// A dispute opened after completion leaves the status at completed and is
// not an edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPendingDeposit, StatusInProgress, StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports statuses with no outgoing edges.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}
