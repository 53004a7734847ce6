package parties

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/talentmesh/milestones-api/internal/negotiation"
)

// ErrUnknownParticipant indicates the party is not on either side of the contract.
var ErrUnknownParticipant = errors.New("parties: party is not a participant of the contract")

// ServiceConfig describes the dependencies for role resolution.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service resolves which role a party plays on a contract. It is the
// identity/role collaborator the negotiation core trusts.
type Service struct {
	db    *gorm.DB
	cache sync.Map
}

// NewService constructs the participant service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("parties: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// Register records the student/company pair for a contract. Re-registering
// the same pair is a no-op; changing an existing pair is rejected.
func (s *Service) Register(ctx context.Context, contractID, studentPartyID, companyPartyID string) error {
	contractID = strings.TrimSpace(contractID)
	studentPartyID = strings.TrimSpace(studentPartyID)
	companyPartyID = strings.TrimSpace(companyPartyID)
	if contractID == "" || studentPartyID == "" || companyPartyID == "" {
		return fmt.Errorf("parties: contract and both party identifiers are required")
	}

	var existing Participant
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Take(&existing).Error
	if err == nil {
		if existing.StudentPartyID == studentPartyID && existing.CompanyPartyID == companyPartyID {
			return nil
		}
		return fmt.Errorf("parties: contract %s already registered with different participants", contractID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	participant := Participant{
		ContractID:     contractID,
		StudentPartyID: studentPartyID,
		CompanyPartyID: companyPartyID,
	}
	if err := s.db.WithContext(ctx).Create(&participant).Error; err != nil {
		return err
	}
	s.cache.Store(contractID, participant)
	return nil
}

// RoleFor returns the role the party plays on the contract, or
// ErrUnknownParticipant when the party is on neither side.
func (s *Service) RoleFor(ctx context.Context, contractID, partyID string) (negotiation.Role, error) {
	participant, err := s.participantFor(ctx, contractID)
	if err != nil {
		return "", err
	}
	switch partyID {
	case participant.StudentPartyID:
		return negotiation.RoleStudent, nil
	case participant.CompanyPartyID:
		return negotiation.RoleCompany, nil
	default:
		return "", fmt.Errorf("%w: contract %s, party %s", ErrUnknownParticipant, contractID, partyID)
	}
}

func (s *Service) participantFor(ctx context.Context, contractID string) (Participant, error) {
	if cached, ok := s.cache.Load(contractID); ok {
		if participant, ok := cached.(Participant); ok {
			return participant, nil
		}
	}

	var participant Participant
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Participant{}, fmt.Errorf("%w: contract %s", ErrUnknownParticipant, contractID)
	}
	if err != nil {
		return Participant{}, err
	}

	s.cache.Store(contractID, participant)
	return participant, nil
}
