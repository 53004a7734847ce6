package negotiation

import (
	"errors"
	"fmt"
	"strings"
)

// State enumerates the negotiation workflow states.
type State string

const (
	// StateStudentEditing means the student is drafting the initial proposal.
	StateStudentEditing State = "STUDENT_EDITING"
	// StateWaitingCompanyReview means the student has submitted and the company decides.
	StateWaitingCompanyReview State = "WAITING_COMPANY_REVIEW"
	// StateCompanyEditing means the company is drafting a counter-proposal.
	StateCompanyEditing State = "COMPANY_EDITING"
	// StateWaitingStudentReview means the company submitted changes and the student decides.
	StateWaitingStudentReview State = "WAITING_STUDENT_REVIEW"
	// StateApproved is terminal; the milestone plan is locked in.
	StateApproved State = "APPROVED"
)

// Role identifies which side of the contract a party occupies.
type Role string

const (
	// RoleStudent is the contractor side of the gig.
	RoleStudent Role = "student"
	// RoleCompany is the client side of the gig.
	RoleCompany Role = "company"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidContractID indicates that a contract identifier is empty or exceeds storage bounds.
	ErrInvalidContractID = errors.New("negotiation: invalid contract id")
	// ErrInvalidPartyID indicates that a party identifier is empty or exceeds storage bounds.
	ErrInvalidPartyID = errors.New("negotiation: invalid party id")
	// ErrInvalidVersionID indicates that a version identifier is empty or exceeds storage bounds.
	ErrInvalidVersionID = errors.New("negotiation: invalid version id")
)

// ContractID represents a validated contract identifier.
type ContractID string

// NewContractID validates raw input and returns a ContractID.
func NewContractID(rawInput string) (ContractID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContractID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContractID, maxIdentifierLength)
	}
	return ContractID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ContractID) String() string {
	return string(id)
}

// PartyID represents a validated party identifier.
type PartyID string

// NewPartyID validates raw input and returns a PartyID.
func NewPartyID(rawInput string) (PartyID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPartyID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPartyID, maxIdentifierLength)
	}
	return PartyID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PartyID) String() string {
	return string(id)
}

// VersionID represents a validated milestone version identifier.
type VersionID string

// NewVersionID validates raw input and returns a VersionID.
func NewVersionID(rawInput string) (VersionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVersionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVersionID, maxIdentifierLength)
	}
	return VersionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id VersionID) String() string {
	return string(id)
}

// Header is the single mutable row per contract under negotiation. All state
// changes go through Store.Transition; the lock_version column is the
// compare-and-swap token guarding concurrent transitions.
type Header struct {
	HeaderID                string `gorm:"column:header_id;primaryKey;size:190;not null"`
	ContractID              string `gorm:"column:contract_id;size:190;not null;uniqueIndex:idx_negotiation_contract"`
	State                   State  `gorm:"column:state;size:32;not null"`
	AgreedTotalMinor        int64  `gorm:"column:agreed_total_minor;not null"`
	CurrentVersionID        string `gorm:"column:current_version_id;size:190;not null;default:''"`
	ReviewVersionID         string `gorm:"column:review_version_id;size:190;not null;default:''"`
	CompanyChangesVersionID string `gorm:"column:company_changes_version_id;size:190;not null;default:''"`
	LockVersion             int64  `gorm:"column:lock_version;not null;default:1"`
	CreatedAtSeconds        int64  `gorm:"column:created_at_s;not null"`
	LastTransitionAtSeconds int64  `gorm:"column:last_transition_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Header) TableName() string {
	return "negotiation_headers"
}

// Version is an immutable snapshot record. Items are stored separately and
// never mutated after creation.
type Version struct {
	VersionID        string `gorm:"column:version_id;primaryKey;size:190;not null"`
	ContractID       string `gorm:"column:contract_id;size:190;not null;index:idx_versions_contract"`
	BaseVersionID    string `gorm:"column:base_version_id;size:190;not null;default:''"`
	AuthorRole       Role   `gorm:"column:author_role;size:16;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Version) TableName() string {
	return "milestone_versions"
}

// Item is one milestone row inside a version snapshot. The client id is
// assigned by the editing client and survives across versions so snapshots
// can be diffed.
type Item struct {
	VersionID   string `gorm:"column:version_id;primaryKey;size:190;not null"`
	ClientID    string `gorm:"column:client_id;primaryKey;size:190;not null"`
	Title       string `gorm:"column:title;size:512;not null"`
	AmountMinor int64  `gorm:"column:amount_minor;not null"`
	Criteria    string `gorm:"column:acceptance_criteria;type:text;not null;default:''"`
	Position    int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "milestone_items"
}

// Milestone is the value-object form of an item, used by the draft editor
// and the diff engine. Amounts are integer minor currency units end-to-end.
type Milestone struct {
	ClientID    string
	Title       string
	AmountMinor int64
	Criteria    string
	Position    int
}

// Equal reports whether the negotiated fields of two milestones match.
// Position is deliberately excluded; ordering is compared at the list level.
func (m Milestone) Equal(other Milestone) bool {
	return m.ClientID == other.ClientID &&
		m.Title == other.Title &&
		m.AmountMinor == other.AmountMinor &&
		m.Criteria == other.Criteria
}
