package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore        = errors.New("store is required")
	errMissingRoleResolver = errors.New("role resolver is required")
)

// Activator is the contract/escrow collaborator invoked once on approval.
// Implementations are expected to be idempotent per contract: this service
// cannot guarantee exactly-once delivery across retries.
type Activator interface {
	Activate(ctx context.Context, contractID string) error
}

// Notifier receives workflow events for the chat side-channel. Delivery,
// retries and read-state are the collaborator's problem, not this service's.
type Notifier interface {
	Publish(event Event)
}

// RoleResolver supplies the caller's role for a contract. The service trusts
// this input and does not authenticate parties itself.
type RoleResolver interface {
	RoleFor(ctx context.Context, contractID, partyID string) (Role, error)
}

// Event is the out-of-band notification emitted after each workflow action.
type Event struct {
	ContractID string
	Actor      Role
	Action     Trigger
	Summary    string
	OccurredAt time.Time
}

type nopActivator struct{}

func (nopActivator) Activate(context.Context, string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

// ServiceConfig describes the orchestrator's dependencies.
type ServiceConfig struct {
	Store     *Store
	Roles     RoleResolver
	Activator Activator
	Notifier  Notifier
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service orchestrates the negotiation workflow: it routes views, gates turns,
// validates budgets, persists snapshots and drives the state machine.
type Service struct {
	store     *Store
	roles     RoleResolver
	activator Activator
	notifier  Notifier
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Roles == nil {
		return nil, errMissingRoleResolver
	}
	activator := cfg.Activator
	if activator == nil {
		activator = nopActivator{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:     cfg.Store,
		roles:     cfg.Roles,
		activator: activator,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}, nil
}

// View is what one party's client renders: the routed mode, the milestone
// list the mode operates on, and the diff against the base version when the
// state calls for one.
type View struct {
	Header *Header
	Role   Role
	Mode   ViewMode
	Items  []Milestone
	Diff   []DiffEntry
}

// Initialize lazily creates the negotiation for a contract. Any participant
// of the contract may trigger it. Calling it again returns the existing
// header unchanged.
func (s *Service) Initialize(ctx context.Context, contractID ContractID, partyID PartyID, totalMinor int64) (*Header, error) {
	if _, err := s.roles.RoleFor(ctx, contractID.String(), partyID.String()); err != nil {
		return nil, err
	}
	header, err := s.store.Initialize(ctx, contractID, totalMinor)
	if errors.Is(err, ErrHeaderExists) {
		return s.store.GetHeader(ctx, contractID)
	}
	if err != nil {
		return nil, err
	}
	return header, nil
}

// Open fetches the header, resolves the caller's role and routes to the view
// for the current state, loading the seeded version and the diff when the
// plan asks for them.
func (s *Service) Open(ctx context.Context, contractID ContractID, partyID PartyID) (*View, error) {
	header, role, err := s.headerAndRole(ctx, contractID, partyID)
	if err != nil {
		return nil, err
	}

	plan := PlanView(header.State, role)
	view := &View{Header: header, Role: role, Mode: plan.Mode}

	if seedID := resolvePointer(header, plan.Seed); seedID != "" {
		versionID, err := NewVersionID(seedID)
		if err != nil {
			return nil, err
		}
		items, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		view.Items = items
	}

	if baseID := resolvePointer(header, plan.DiffBase); baseID != "" {
		versionID, err := NewVersionID(baseID)
		if err != nil {
			return nil, err
		}
		base, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		view.Diff = DiffVersions(view.Items, base)
	}

	return view, nil
}

// SaveDraft persists the in-progress milestone list without transitioning
// state. Safe to call repeatedly; each call appends a version record and
// moves only the current pointer. The list may violate the budget here.
func (s *Service) SaveDraft(ctx context.Context, contractID ContractID, partyID PartyID, items []Milestone) (string, error) {
	header, role, err := s.headerAndRole(ctx, contractID, partyID)
	if err != nil {
		return "", err
	}
	if err := s.requireTurn(header.State, role); err != nil {
		return "", err
	}
	if err := validateStructure(items); err != nil {
		return "", err
	}

	baseID := resolvePointer(header, PlanView(header.State, role).Seed)
	versionID, err := s.store.SaveVersion(ctx, contractID, baseID, role, items)
	if err != nil {
		return "", err
	}
	s.logger.Debug("draft saved",
		zap.String("contract_id", contractID.String()),
		zap.String("version_id", versionID),
		zap.String("role", string(role)))
	return versionID, nil
}

// Submit validates the budget, persists the snapshot and fires the submit
// transition for the caller's turn. Validation failures are returned before
// any write happens.
func (s *Service) Submit(ctx context.Context, contractID ContractID, partyID PartyID, items []Milestone) (*Header, error) {
	header, role, err := s.headerAndRole(ctx, contractID, partyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTurn(header.State, role); err != nil {
		return nil, err
	}
	trigger, ok := submitTrigger(header.State)
	if !ok {
		return nil, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, header.State)
	}
	if err := validateStructure(items); err != nil {
		return nil, err
	}

	draft := NewDraft(header.AgreedTotalMinor, items)
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	toState, err := NextState(trigger, header.State)
	if err != nil {
		return nil, err
	}

	baseID := resolvePointer(header, PlanView(header.State, role).Seed)
	versionID, err := s.store.SaveVersion(ctx, contractID, baseID, role, draft.Snapshot())
	if err != nil {
		return nil, err
	}

	pointers := PointerUpdates{Current: &versionID}
	switch trigger {
	case TriggerStudentSubmit, TriggerStudentResubmit:
		pointers.Review = &versionID
	case TriggerCompanySubmit:
		pointers.CompanyChanges = &versionID
	}

	updated, err := s.store.Transition(ctx, contractID, header.State, header.LockVersion, toState, pointers)
	if err != nil {
		return nil, err
	}

	s.publish(contractID, role, trigger, fmt.Sprintf("%s submitted a milestone plan of %s", role, FormatMinor(draft.SumMinor())))
	return updated, nil
}

// Approve closes the negotiation. The state change commits first; the escrow
// activation call is best-effort afterwards, and its failure is surfaced as a
// DownstreamActivationError alongside the already-approved header.
func (s *Service) Approve(ctx context.Context, contractID ContractID, partyID PartyID) (*Header, error) {
	header, role, err := s.headerAndRole(ctx, contractID, partyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTurn(header.State, role); err != nil {
		return nil, err
	}
	toState, err := NextState(TriggerCompanyApprove, header.State)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Transition(ctx, contractID, header.State, header.LockVersion, toState, PointerUpdates{})
	if err != nil {
		return nil, err
	}

	s.publish(contractID, role, TriggerCompanyApprove, "company approved the milestone plan")

	if err := s.activator.Activate(ctx, contractID.String()); err != nil {
		s.logger.Warn("contract activation failed after approval",
			zap.String("contract_id", contractID.String()),
			zap.Error(err))
		return updated, &DownstreamActivationError{ContractID: contractID.String(), Err: err}
	}
	return updated, nil
}

// RequestChanges moves the negotiation into the company's editing round. The
// company edits a copy seeded from the student's submission; no pointers move.
func (s *Service) RequestChanges(ctx context.Context, contractID ContractID, partyID PartyID) (*Header, error) {
	header, role, err := s.headerAndRole(ctx, contractID, partyID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTurn(header.State, role); err != nil {
		return nil, err
	}
	toState, err := NextState(TriggerCompanyRequestChanges, header.State)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Transition(ctx, contractID, header.State, header.LockVersion, toState, PointerUpdates{})
	if err != nil {
		return nil, err
	}

	s.publish(contractID, role, TriggerCompanyRequestChanges, "company requested changes to the milestone plan")
	return updated, nil
}

func (s *Service) headerAndRole(ctx context.Context, contractID ContractID, partyID PartyID) (*Header, Role, error) {
	header, err := s.store.GetHeader(ctx, contractID)
	if err != nil {
		return nil, "", err
	}
	role, err := s.roles.RoleFor(ctx, contractID.String(), partyID.String())
	if err != nil {
		return nil, "", err
	}
	return header, role, nil
}

// requireTurn rejects writes from the non-active party. A closed negotiation
// has no active editor, so any write there is an invalid transition rather
// than a turn violation.
func (s *Service) requireTurn(state State, role Role) error {
	editor, ok := ActiveEditor(state)
	if !ok {
		return fmt.Errorf("%w: negotiation is closed", ErrInvalidTransition)
	}
	if editor != role {
		return fmt.Errorf("%w: %s holds the turn in %s", ErrNotYourTurn, editor, state)
	}
	return nil
}

func (s *Service) publish(contractID ContractID, actor Role, action Trigger, summary string) {
	s.notifier.Publish(Event{
		ContractID: contractID.String(),
		Actor:      actor,
		Action:     action,
		Summary:    summary,
		OccurredAt: s.clock().UTC(),
	})
}

// validateStructure enforces the invariants every persisted list satisfies
// even as a draft: unique client ids and non-negative amounts.
func validateStructure(items []Milestone) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ClientID == "" {
			return fmt.Errorf("%w: empty", ErrUnknownMilestone)
		}
		if _, dup := seen[item.ClientID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateClientID, item.ClientID)
		}
		seen[item.ClientID] = struct{}{}
		if item.AmountMinor < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, item.ClientID)
		}
	}
	return nil
}
