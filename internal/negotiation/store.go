package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreConfig describes the dependencies of the draft store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the durable, versioned persistence layer for negotiation headers
// and milestone snapshots. It owns no workflow logic; the state machine and
// the service decide, the store records.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Initialize creates the header for a contract in STUDENT_EDITING state with
// no versions yet. Returns ErrHeaderExists when the contract already has one;
// callers wanting lazy idempotent access follow up with GetHeader.
func (s *Store) Initialize(ctx context.Context, contractID ContractID, totalMinor int64) (*Header, error) {
	if totalMinor <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, totalMinor)
	}

	var existing Header
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID.String()).
		Take(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: contract %s", ErrHeaderExists, contractID.String())
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	headerID, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC().Unix()
	header := Header{
		HeaderID:                headerID,
		ContractID:              contractID.String(),
		State:                   StateStudentEditing,
		AgreedTotalMinor:        totalMinor,
		LockVersion:             1,
		CreatedAtSeconds:        now,
		LastTransitionAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&header).Error; err != nil {
		// A concurrent initialization can slip in between the existence check
		// and the insert; the unique index on contract_id rejects the loser.
		if _, lookupErr := s.GetHeader(ctx, contractID); lookupErr == nil {
			return nil, fmt.Errorf("%w: contract %s", ErrHeaderExists, contractID.String())
		}
		return nil, err
	}
	s.logger.Info("negotiation initialized",
		zap.String("contract_id", contractID.String()),
		zap.Int64("agreed_total_minor", totalMinor))
	return &header, nil
}

// GetHeader loads the negotiation header for a contract.
func (s *Store) GetHeader(ctx context.Context, contractID ContractID) (*Header, error) {
	var header Header
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID.String()).
		Take(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, contractID.String())
	}
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// SaveVersion persists an immutable snapshot of the milestone list and points
// the header's current_version_id at it. It never transitions state; this is
// the "save as draft" durability operation. baseVersionID is informational
// and may be empty.
func (s *Store) SaveVersion(ctx context.Context, contractID ContractID, baseVersionID string, author Role, items []Milestone) (string, error) {
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return "", err
	}

	version := Version{
		VersionID:        versionID,
		ContractID:       contractID.String(),
		BaseVersionID:    baseVersionID,
		AuthorRole:       author,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	rows := make([]Item, 0, len(items))
	for position, milestone := range items {
		rows = append(rows, Item{
			VersionID:   versionID,
			ClientID:    milestone.ClientID,
			Title:       milestone.Title,
			AmountMinor: milestone.AmountMinor,
			Criteria:    milestone.Criteria,
			Position:    position,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		result := tx.Model(&Header{}).
			Where("contract_id = ?", contractID.String()).
			Update("current_version_id", versionID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: contract %s", ErrNotFound, contractID.String())
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}
	return versionID, nil
}

// GetVersion returns the snapshot's milestones ordered by position.
func (s *Store) GetVersion(ctx context.Context, versionID VersionID) ([]Milestone, error) {
	var version Version
	err := s.db.WithContext(ctx).
		Where("version_id = ?", versionID.String()).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, versionID.String())
	}
	if err != nil {
		return nil, err
	}

	var rows []Item
	if err := s.db.WithContext(ctx).
		Where("version_id = ?", versionID.String()).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]Milestone, 0, len(rows))
	for _, row := range rows {
		items = append(items, Milestone{
			ClientID:    row.ClientID,
			Title:       row.Title,
			AmountMinor: row.AmountMinor,
			Criteria:    row.Criteria,
			Position:    row.Position,
		})
	}
	return items, nil
}

// PointerUpdates carries the version pointer changes applied atomically with
// a state transition. Nil fields are left untouched.
type PointerUpdates struct {
	Current        *string
	Review         *string
	CompanyChanges *string
}

// Transition atomically moves the header from the observed state to the new
// state, applying pointer updates in the same write. The update is a
// compare-and-swap keyed on both the observed state and the observed lock
// version: when another transition won the race, no row matches, nothing is
// written and ErrConcurrentModification is returned.
func (s *Store) Transition(ctx context.Context, contractID ContractID, fromState State, fromLock int64, toState State, pointers PointerUpdates) (*Header, error) {
	updates := map[string]interface{}{
		"state":                toState,
		"lock_version":         fromLock + 1,
		"last_transition_at_s": s.clock().UTC().Unix(),
	}
	if pointers.Current != nil {
		updates["current_version_id"] = *pointers.Current
	}
	if pointers.Review != nil {
		updates["review_version_id"] = *pointers.Review
	}
	if pointers.CompanyChanges != nil {
		updates["company_changes_version_id"] = *pointers.CompanyChanges
	}

	result := s.db.WithContext(ctx).Model(&Header{}).
		Where("contract_id = ? AND state = ? AND lock_version = ?", contractID.String(), fromState, fromLock).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish a vanished header from a lost race.
		if _, err := s.GetHeader(ctx, contractID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: contract %s no longer in %s", ErrConcurrentModification, contractID.String(), fromState)
	}

	header, err := s.GetHeader(ctx, contractID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("negotiation transitioned",
		zap.String("contract_id", contractID.String()),
		zap.String("from_state", string(fromState)),
		zap.String("to_state", string(toState)))
	return header, nil
}
