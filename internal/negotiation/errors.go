package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced header or version does not exist.
	ErrNotFound = errors.New("negotiation: not found")
	// ErrHeaderExists indicates a negotiation header already exists for the contract.
	ErrHeaderExists = errors.New("negotiation: header already exists")
	// ErrInvalidTransition indicates the requested state change is not in the transition table.
	ErrInvalidTransition = errors.New("negotiation: invalid transition")
	// ErrNotYourTurn indicates the caller is not the active editor for the current state.
	ErrNotYourTurn = errors.New("negotiation: not your turn")
	// ErrConcurrentModification indicates the header moved underneath a compare-and-swap transition.
	ErrConcurrentModification = errors.New("negotiation: concurrent modification")
	// ErrEmptyDraft indicates a submission was attempted with no milestones.
	ErrEmptyDraft = errors.New("negotiation: draft has no milestones")
	// ErrInvalidAmount indicates a milestone amount is negative.
	ErrInvalidAmount = errors.New("negotiation: milestone amount must not be negative")
	// ErrInvalidTotal indicates the agreed budget total is not positive.
	ErrInvalidTotal = errors.New("negotiation: agreed total must be positive")
	// ErrDuplicateClientID indicates two milestones in one list share a client id.
	ErrDuplicateClientID = errors.New("negotiation: duplicate milestone client id")
	// ErrUnknownMilestone indicates the referenced client id is not in the draft.
	ErrUnknownMilestone = errors.New("negotiation: unknown milestone client id")
)

// BudgetMismatchError reports a submission whose milestone amounts do not sum
// to the agreed total. DeltaMinor is signed: positive means the draft is under
// budget by that many minor units, negative means over budget.
type BudgetMismatchError struct {
	DeltaMinor int64
}

func (e *BudgetMismatchError) Error() string {
	if e.DeltaMinor >= 0 {
		return fmt.Sprintf("negotiation: budget mismatch, %d minor units unallocated", e.DeltaMinor)
	}
	return fmt.Sprintf("negotiation: budget mismatch, %d minor units over budget", -e.DeltaMinor)
}

// DownstreamActivationError reports that the negotiation reached APPROVED but
// the contract activation collaborator failed. The state change has already
// committed; callers surface this as a warning, never as a rollback.
type DownstreamActivationError struct {
	ContractID string
	Err        error
}

func (e *DownstreamActivationError) Error() string {
	return fmt.Sprintf("negotiation: contract %s approved but activation failed: %v", e.ContractID, e.Err)
}

func (e *DownstreamActivationError) Unwrap() error {
	return e.Err
}
