package negotiation

import "fmt"

// Trigger names one edge of the negotiation state machine.
type Trigger string

const (
	// TriggerStudentSubmit sends the student's initial proposal to the company.
	TriggerStudentSubmit Trigger = "student_submit"
	// TriggerCompanyApprove locks the plan in and unlocks escrow funding.
	TriggerCompanyApprove Trigger = "company_approve"
	// TriggerCompanyRequestChanges opens a counter-proposal editing round.
	TriggerCompanyRequestChanges Trigger = "company_request_changes"
	// TriggerCompanySubmit sends the company's counter-proposal to the student.
	TriggerCompanySubmit Trigger = "company_submit"
	// TriggerStudentResubmit returns the (possibly edited) plan to company review.
	TriggerStudentResubmit Trigger = "student_resubmit"
)

type transitionRule struct {
	trigger Trigger
	from    State
	to      State
	actor   Role
}

// transitionTable is the authoritative transition graph. Any state change not
// listed here is an invalid transition.
var transitionTable = []transitionRule{
	{trigger: TriggerStudentSubmit, from: StateStudentEditing, to: StateWaitingCompanyReview, actor: RoleStudent},
	{trigger: TriggerCompanyApprove, from: StateWaitingCompanyReview, to: StateApproved, actor: RoleCompany},
	{trigger: TriggerCompanyRequestChanges, from: StateWaitingCompanyReview, to: StateCompanyEditing, actor: RoleCompany},
	{trigger: TriggerCompanySubmit, from: StateCompanyEditing, to: StateWaitingStudentReview, actor: RoleCompany},
	{trigger: TriggerStudentResubmit, from: StateWaitingStudentReview, to: StateWaitingCompanyReview, actor: RoleStudent},
}

// NextState resolves the successor state for a trigger fired from the given
// state, or ErrInvalidTransition when the edge does not exist.
func NextState(trigger Trigger, from State) (State, error) {
	for _, rule := range transitionTable {
		if rule.trigger == trigger && rule.from == from {
			return rule.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
}

// ActiveEditor returns the role holding the turn in the given state. The
// second return is false for the terminal state, where nobody holds a turn.
func ActiveEditor(state State) (Role, bool) {
	switch state {
	case StateStudentEditing, StateWaitingStudentReview:
		return RoleStudent, true
	case StateWaitingCompanyReview, StateCompanyEditing:
		return RoleCompany, true
	default:
		return "", false
	}
}

// submitTrigger maps a state to the trigger fired when the active editor
// submits a milestone list. WAITING_COMPANY_REVIEW has no submit edge; the
// company acts through approve or request-changes there.
func submitTrigger(state State) (Trigger, bool) {
	switch state {
	case StateStudentEditing:
		return TriggerStudentSubmit, true
	case StateCompanyEditing:
		return TriggerCompanySubmit, true
	case StateWaitingStudentReview:
		return TriggerStudentResubmit, true
	default:
		return "", false
	}
}

// ViewMode tags what a party should be shown for the current state.
type ViewMode string

const (
	// ViewEdit means the party edits a working copy of the milestone list.
	ViewEdit ViewMode = "edit"
	// ViewReview means the party reviews the other side's proposal read-only
	// and may approve it or request changes.
	ViewReview ViewMode = "review"
	// ViewWaiting means the other party holds the turn.
	ViewWaiting ViewMode = "waiting"
	// ViewApproved means the negotiation is closed.
	ViewApproved ViewMode = "approved"
)

// VersionPointer selects one of the header's version pointers.
type VersionPointer string

const (
	// PointerNone selects no version.
	PointerNone VersionPointer = ""
	// PointerCurrent selects current_version_id, the latest saved draft.
	PointerCurrent VersionPointer = "current"
	// PointerReview selects review_version_id, the student's last submission.
	PointerReview VersionPointer = "review"
	// PointerCompanyChanges selects company_changes_version_id.
	PointerCompanyChanges VersionPointer = "company_changes"
)

// ViewPlan describes what to render for one state and role: the mode, which
// pointer seeds the visible list, and which pointer (if any) is the diff base.
type ViewPlan struct {
	Mode     ViewMode
	Seed     VersionPointer
	DiffBase VersionPointer
}

type viewKey struct {
	state State
	role  Role
}

// viewTable is the routing matrix from the design: for every state and role,
// exactly one plan. Kept as data so the matrix is testable in isolation.
// Every edit view seeds from the current pointer: each submit pins it to the
// submitted version, so at state entry it equals the review or
// company-changes pointer, and mid-turn draft saves survive a reload.
var viewTable = map[viewKey]ViewPlan{
	{StateStudentEditing, RoleStudent}:       {Mode: ViewEdit, Seed: PointerCurrent},
	{StateStudentEditing, RoleCompany}:       {Mode: ViewWaiting},
	{StateWaitingCompanyReview, RoleStudent}: {Mode: ViewWaiting, Seed: PointerReview},
	{StateWaitingCompanyReview, RoleCompany}: {Mode: ViewReview, Seed: PointerReview},
	{StateCompanyEditing, RoleStudent}:       {Mode: ViewWaiting},
	{StateCompanyEditing, RoleCompany}:       {Mode: ViewEdit, Seed: PointerCurrent},
	{StateWaitingStudentReview, RoleStudent}: {Mode: ViewEdit, Seed: PointerCurrent, DiffBase: PointerReview},
	{StateWaitingStudentReview, RoleCompany}: {Mode: ViewWaiting},
	{StateApproved, RoleStudent}:             {Mode: ViewApproved, Seed: PointerReview},
	{StateApproved, RoleCompany}:             {Mode: ViewApproved, Seed: PointerReview},
}

// PlanView routes a state and role to the view plan both parties' clients
// render from. Unknown combinations fall back to a waiting placeholder.
func PlanView(state State, role Role) ViewPlan {
	if plan, ok := viewTable[viewKey{state: state, role: role}]; ok {
		return plan
	}
	return ViewPlan{Mode: ViewWaiting}
}

// resolvePointer reads the version id a pointer refers to on the header.
// Returns empty when the pointer is unset or PointerNone.
func resolvePointer(header *Header, pointer VersionPointer) string {
	if header == nil {
		return ""
	}
	switch pointer {
	case PointerCurrent:
		return header.CurrentVersionID
	case PointerReview:
		return header.ReviewVersionID
	case PointerCompanyChanges:
		return header.CompanyChangesVersionID
	default:
		return ""
	}
}
