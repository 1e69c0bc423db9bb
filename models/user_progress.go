package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimState is the explicit state of a claimable unit.
//
//	in_progress -> completed -> claiming -> claimed
//
// claiming is held only while a ledger credit is in flight (or awaiting
// reconciliation). claimed is terminal.
type ClaimState string

const (
	StateInProgress ClaimState = "in_progress"
	StateCompleted  ClaimState = "completed"
	StateClaiming   ClaimState = "claiming"
	StateClaimed    ClaimState = "claimed"
)

// IsCompleted reports whether the unit has ever reached its requirement.
func (s ClaimState) IsCompleted() bool {
	return s != StateInProgress && s != ""
}

// CanClaim reports whether a claim may start from this state.
func (s ClaimState) CanClaim() bool {
	return s == StateCompleted
}

// DayFormat is the layout of ObjectiveProgress.Day (UTC calendar day).
const DayFormat = "2006-01-02"

// ObjectiveProgress is one user's progress on one objective for one UTC day.
type ObjectiveProgress struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string     `gorm:"not null;uniqueIndex:idx_progress_user_objective_day,priority:1" json:"user_id"`
	ObjectiveID     uint       `gorm:"not null;uniqueIndex:idx_progress_user_objective_day,priority:2" json:"objective_id"`
	Day             string     `gorm:"size:10;not null;uniqueIndex:idx_progress_user_objective_day,priority:3" json:"day"`
	CurrentProgress int64      `gorm:"not null;default:0" json:"current_progress"`
	State           ClaimState `gorm:"size:16;not null;index" json:"state"`
	ClaimKey        *string    `gorm:"type:uuid" json:"-"` // intent id while claiming/claimed
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	Timestamps
}

func (p *ObjectiveProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.State == "" {
		p.State = StateInProgress
	}
	return nil
}

// AchievementUnlock is created once when an achievement's predicate fires.
type AchievementUnlock struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string     `gorm:"not null;uniqueIndex:idx_unlock_user_achievement,priority:1" json:"user_id"`
	AchievementID uint       `gorm:"not null;uniqueIndex:idx_unlock_user_achievement,priority:2" json:"achievement_id"`
	State         ClaimState `gorm:"size:16;not null;index" json:"state"`
	ClaimKey      *string    `gorm:"type:uuid" json:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	Timestamps
}

func (u *AchievementUnlock) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.State == "" {
		u.State = StateCompleted
	}
	return nil
}

// Timestamps adds GORM auto-times. Progress and unlock rows are never deleted,
// so there is no soft-delete column.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
