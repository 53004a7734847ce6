package negotiation

import (
	"errors"
	"testing"
)

func TestNextStateCoversTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		from    State
		want    State
	}{
		{name: "student-submits", trigger: TriggerStudentSubmit, from: StateStudentEditing, want: StateWaitingCompanyReview},
		{name: "company-approves", trigger: TriggerCompanyApprove, from: StateWaitingCompanyReview, want: StateApproved},
		{name: "company-requests-changes", trigger: TriggerCompanyRequestChanges, from: StateWaitingCompanyReview, want: StateCompanyEditing},
		{name: "company-submits", trigger: TriggerCompanySubmit, from: StateCompanyEditing, want: StateWaitingStudentReview},
		{name: "student-resubmits", trigger: TriggerStudentResubmit, from: StateWaitingStudentReview, want: StateWaitingCompanyReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextState(tt.trigger, tt.from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNextStateRejectsEdgesOutsideTheTable(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		from    State
	}{
		{name: "approve-from-terminal", trigger: TriggerCompanyApprove, from: StateApproved},
		{name: "approve-while-student-edits", trigger: TriggerCompanyApprove, from: StateStudentEditing},
		{name: "student-submit-during-review", trigger: TriggerStudentSubmit, from: StateWaitingCompanyReview},
		{name: "company-submit-without-editing-round", trigger: TriggerCompanySubmit, from: StateWaitingCompanyReview},
		{name: "request-changes-from-terminal", trigger: TriggerCompanyRequestChanges, from: StateApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextState(tt.trigger, tt.from)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionActorsMatchTheActiveEditor(t *testing.T) {
	for _, rule := range transitionTable {
		editor, active := ActiveEditor(rule.from)
		if !active {
			t.Fatalf("edge %s starts in a terminal state %s", rule.trigger, rule.from)
		}
		if editor != rule.actor {
			t.Fatalf("edge %s: actor %s but %s holds the turn in %s", rule.trigger, rule.actor, editor, rule.from)
		}
	}
}

func TestActiveEditorPerState(t *testing.T) {
	tests := []struct {
		state      State
		wantRole   Role
		wantActive bool
	}{
		{state: StateStudentEditing, wantRole: RoleStudent, wantActive: true},
		{state: StateWaitingCompanyReview, wantRole: RoleCompany, wantActive: true},
		{state: StateCompanyEditing, wantRole: RoleCompany, wantActive: true},
		{state: StateWaitingStudentReview, wantRole: RoleStudent, wantActive: true},
		{state: StateApproved, wantActive: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			role, active := ActiveEditor(tt.state)
			if active != tt.wantActive {
				t.Fatalf("expected active=%v, got %v", tt.wantActive, active)
			}
			if active && role != tt.wantRole {
				t.Fatalf("expected %s, got %s", tt.wantRole, role)
			}
		})
	}
}

func TestPlanViewRoutingMatrix(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		role     Role
		wantMode ViewMode
		wantSeed VersionPointer
		wantBase VersionPointer
	}{
		{name: "student-edits-initial-draft", state: StateStudentEditing, role: RoleStudent, wantMode: ViewEdit, wantSeed: PointerCurrent},
		{name: "company-waits-for-initial-draft", state: StateStudentEditing, role: RoleCompany, wantMode: ViewWaiting},
		{name: "company-reviews-submission", state: StateWaitingCompanyReview, role: RoleCompany, wantMode: ViewReview, wantSeed: PointerReview},
		{name: "student-waits-during-review", state: StateWaitingCompanyReview, role: RoleStudent, wantMode: ViewWaiting, wantSeed: PointerReview},
		{name: "company-edits-counter-proposal", state: StateCompanyEditing, role: RoleCompany, wantMode: ViewEdit, wantSeed: PointerCurrent},
		{name: "student-waits-during-counter", state: StateCompanyEditing, role: RoleStudent, wantMode: ViewWaiting},
		{name: "student-reviews-changes-with-diff", state: StateWaitingStudentReview, role: RoleStudent, wantMode: ViewEdit, wantSeed: PointerCurrent, wantBase: PointerReview},
		{name: "company-waits-for-student-decision", state: StateWaitingStudentReview, role: RoleCompany, wantMode: ViewWaiting},
		{name: "student-sees-terminal-view", state: StateApproved, role: RoleStudent, wantMode: ViewApproved, wantSeed: PointerReview},
		{name: "company-sees-terminal-view", state: StateApproved, role: RoleCompany, wantMode: ViewApproved, wantSeed: PointerReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanView(tt.state, tt.role)
			if plan.Mode != tt.wantMode {
				t.Fatalf("expected mode %s, got %s", tt.wantMode, plan.Mode)
			}
			if plan.Seed != tt.wantSeed {
				t.Fatalf("expected seed %q, got %q", tt.wantSeed, plan.Seed)
			}
			if plan.DiffBase != tt.wantBase {
				t.Fatalf("expected diff base %q, got %q", tt.wantBase, plan.DiffBase)
			}
		})
	}
}

func TestResolvePointerReadsHeaderFields(t *testing.T) {
	header := &Header{
		CurrentVersionID:        "v-current",
		ReviewVersionID:         "v-review",
		CompanyChangesVersionID: "v-changes",
	}

	if got := resolvePointer(header, PointerCurrent); got != "v-current" {
		t.Fatalf("unexpected current pointer %q", got)
	}
	if got := resolvePointer(header, PointerReview); got != "v-review" {
		t.Fatalf("unexpected review pointer %q", got)
	}
	if got := resolvePointer(header, PointerCompanyChanges); got != "v-changes" {
		t.Fatalf("unexpected company changes pointer %q", got)
	}
	if got := resolvePointer(header, PointerNone); got != "" {
		t.Fatalf("expected empty for none pointer, got %q", got)
	}
	if got := resolvePointer(nil, PointerCurrent); got != "" {
		t.Fatalf("expected empty for nil header, got %q", got)
	}
}
