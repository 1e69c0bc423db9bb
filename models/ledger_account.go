// models/ledger_account.go
package models

import "time"

// LedgerAccount maps an internal user to its account on the external token
// ledger. Created lazily on first balance-affecting use, immutable afterwards.
// Table name: ledger_accounts
type LedgerAccount struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"` // one mapping per user
	AccountID string    `gorm:"size:128;not null;uniqueIndex" json:"account_id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
