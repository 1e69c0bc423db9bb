package models

import (
	"time"

	"gorm.io/datatypes"
)

// UnitKind names the two kinds of claimable unit.
type UnitKind string

const (
	UnitObjective   UnitKind = "objective"
	UnitAchievement UnitKind = "achievement"
)

// IntentStatus tracks a claim's ledger credit.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"   // reserved, credit sent or about to be sent
	IntentConfirmed IntentStatus = "confirmed" // ledger acknowledged, unit claimed
	IntentFailed    IntentStatus = "failed"    // credit failed, unit back to completed
)

// ClaimIntent is written before the ledger is credited. Its ID is derived from
// the unit identity and doubles as the ledger idempotency key, so every retry
// of the same unit reuses it.
type ClaimIntent struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string         `gorm:"size:64;not null;index" json:"user_id"`
	UnitKind      UnitKind       `gorm:"size:16;not null" json:"unit_kind"`
	UnitID        string         `gorm:"type:uuid;not null;index" json:"unit_id"` // ObjectiveProgress.ID or AchievementUnlock.ID
	DefinitionID  uint           `gorm:"not null" json:"definition_id"`
	AccountID     string         `gorm:"size:128;not null" json:"account_id"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Status        IntentStatus   `gorm:"size:16;not null;index:idx_intent_status_attempt,priority:1" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt time.Time      `gorm:"not null;index:idx_intent_status_attempt,priority:2" json:"last_attempt_at"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	NewBalance    *float64       `json:"new_balance,omitempty"`
	LedgerReceipt datatypes.JSON `json:"ledger_receipt,omitempty"`
	ConfirmedAt   *time.Time     `gorm:"index" json:"confirmed_at,omitempty"`
	Timestamps
}
