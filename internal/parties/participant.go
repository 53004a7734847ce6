package parties

import "time"

// Participant maps a contract to the two parties negotiating it. Seeded by
// the marketplace application when the contract is created.
type Participant struct {
	ContractID     string    `gorm:"column:contract_id;primaryKey;size:190;not null"`
	StudentPartyID string    `gorm:"column:student_party_id;size:190;not null;index"`
	CompanyPartyID string    `gorm:"column:company_party_id;size:190;not null;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing contract participants.
func (Participant) TableName() string {
	return "contract_participants"
}
