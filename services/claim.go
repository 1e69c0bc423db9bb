// services/claim.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guild-quest-rewards/metrics"
	"guild-quest-rewards/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimNamespace seeds the deterministic claim keys.
var claimNamespace = uuid.MustParse("ba3c7db8-6589-4d2a-b21d-ee9c7b5ae5f6")

// ObjectiveClaimKey is the intent id and ledger idempotency key for one objective-day.
func ObjectiveClaimKey(userID string, objectiveID uint, day string) string {
	return uuid.NewSHA1(claimNamespace, []byte(fmt.Sprintf("objective/%s/%d/%s", userID, objectiveID, day))).String()
}

// AchievementClaimKey is the intent id and ledger idempotency key for one unlock.
func AchievementClaimKey(userID string, achievementID uint) string {
	return uuid.NewSHA1(claimNamespace, []byte(fmt.Sprintf("achievement/%s/%d", userID, achievementID))).String()
}

// AccountResolver yields the ledger account for a user.
type AccountResolver interface {
	Resolve(ctx context.Context, userID string) (Account, error)
}

// ClaimResult is returned once the ledger has acknowledged a credit.
type ClaimResult struct {
	IntentID   string          `json:"intent_id"`
	Kind       models.UnitKind `json:"kind"`
	Amount     int64           `json:"amount"`
	NewBalance float64         `json:"new_balance"`
	Message    string          `json:"message"`
}

// ClaimEngine pays out completed units at most once.
//
// A claim reserves the unit (completed -> claiming) and writes a pending
// intent in one transaction, credits the ledger with the intent id as the
// idempotency key, then marks the unit claimed and the intent confirmed. A
// crash between credit and confirm leaves a pending intent that Reconcile
// replays with the same key.
type ClaimEngine struct {
	DB       *gorm.DB
	Ledger   Ledger
	Accounts AccountResolver
	Now      func() time.Time
	Log      logrus.FieldLogger
}

func NewClaimEngine(db *gorm.DB, ledger Ledger, accounts AccountResolver, log logrus.FieldLogger) *ClaimEngine {
	return &ClaimEngine{
		DB:       db,
		Ledger:   ledger,
		Accounts: accounts,
		Now:      time.Now,
		Log:      log.WithField("component", "claims"),
	}
}

type claimUnit struct {
	kind         models.UnitKind
	rowID        string
	userID       string
	definitionID uint
	amount       int64
	state        models.ClaimState
	key          string
}

// ClaimObjective pays today's reward for a completed objective.
func (e *ClaimEngine) ClaimObjective(ctx context.Context, userID string, objectiveID uint) (*ClaimResult, error) {
	if userID == "" {
		return nil, validationError("user id is required")
	}

	var def models.ObjectiveDefinition
	if err := e.DB.WithContext(ctx).First(&def, objectiveID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: objective %d", ErrNotFound, objectiveID)
		}
		return nil, err
	}

	day := e.Now().UTC().Format(models.DayFormat)
	var row models.ObjectiveProgress
	if err := e.DB.WithContext(ctx).
		Where("user_id = ? AND objective_id = ? AND day = ?", userID, objectiveID, day).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordClaim(string(models.UnitObjective), "not_completed")
			return nil, ErrNotCompleted
		}
		return nil, err
	}

	return e.claim(ctx, claimUnit{
		kind:         models.UnitObjective,
		rowID:        row.ID,
		userID:       userID,
		definitionID: def.ID,
		amount:       def.RewardAmount,
		state:        row.State,
		key:          ObjectiveClaimKey(userID, objectiveID, day),
	})
}

// ClaimAchievement pays the reward for an unlocked achievement.
func (e *ClaimEngine) ClaimAchievement(ctx context.Context, userID string, achievementID uint) (*ClaimResult, error) {
	if userID == "" {
		return nil, validationError("user id is required")
	}

	var def models.AchievementDefinition
	if err := e.DB.WithContext(ctx).First(&def, achievementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: achievement %d", ErrNotFound, achievementID)
		}
		return nil, err
	}

	var row models.AchievementUnlock
	if err := e.DB.WithContext(ctx).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordClaim(string(models.UnitAchievement), "not_completed")
			return nil, ErrNotCompleted
		}
		return nil, err
	}

	return e.claim(ctx, claimUnit{
		kind:         models.UnitAchievement,
		rowID:        row.ID,
		userID:       userID,
		definitionID: def.ID,
		amount:       def.RewardAmount,
		state:        row.State,
		key:          AchievementClaimKey(userID, achievementID),
	})
}

func (e *ClaimEngine) claim(ctx context.Context, u claimUnit) (*ClaimResult, error) {
	kind := string(u.kind)
	log := e.Log.WithFields(logrus.Fields{
		"user_id":   u.userID,
		"unit":      kind,
		"unit_id":   u.rowID,
		"intent_id": u.key,
	})

	// Gate before anything else: a unit that cannot be claimed never causes
	// ledger traffic.
	switch u.state {
	case models.StateCompleted:
	case models.StateClaiming, models.StateClaimed:
		metrics.RecordClaim(kind, "already_claimed")
		return nil, ErrAlreadyClaimed
	default:
		metrics.RecordClaim(kind, "not_completed")
		return nil, ErrNotCompleted
	}

	acct, err := e.Accounts.Resolve(ctx, u.userID)
	if err != nil {
		metrics.RecordClaim(kind, "account_unavailable")
		if errors.Is(err, ErrAccountUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	if acct.Placeholder {
		metrics.RecordClaim(kind, "ledger_unavailable")
		return nil, fmt.Errorf("%w: ledger account not provisioned yet", ErrLedgerUnavailable)
	}

	if err := e.reserve(ctx, u, acct.AccountID); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			metrics.RecordClaim(kind, "already_claimed")
		}
		return nil, err
	}

	receipt, err := e.Ledger.Credit(ctx, acct.AccountID, u.amount, u.key)

	// Bookkeeping must land even if the caller hung up after the credit.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		err = classifyLedgerError(err)
		if rerr := e.release(bg, u.kind, u.rowID, u.key, err.Error()); rerr != nil {
			log.WithError(rerr).Error("failed to release claim reservation, reconciler will retry")
		} else {
			log.WithError(err).Warn("ledger credit failed, claim released")
		}
		if errors.Is(err, ErrLedgerRejected) {
			metrics.RecordClaim(kind, "ledger_rejected")
		} else {
			metrics.RecordClaim(kind, "ledger_unavailable")
		}
		return nil, err
	}

	if err := e.confirm(bg, u.kind, u.rowID, u.key, receipt); err != nil {
		// The user has been paid; the pending intent is finished by Reconcile.
		log.WithError(err).Error("ledger credited but confirm failed")
	} else {
		log.WithFields(logrus.Fields{"amount": u.amount, "balance": receipt.Balance}).Info("💰 reward claimed")
	}
	metrics.RecordClaim(kind, "claimed")

	return &ClaimResult{
		IntentID:   u.key,
		Kind:       u.kind,
		Amount:     u.amount,
		NewBalance: receipt.Balance,
		Message:    fmt.Sprintf("Claimed %d coins!", u.amount),
	}, nil
}

// reserve moves the unit to claiming and upserts its pending intent.
func (e *ClaimEngine) reserve(ctx context.Context, u claimUnit, accountID string) error {
	now := e.Now().UTC()
	intent := models.ClaimIntent{
		ID:            u.key,
		UserID:        u.userID,
		UnitKind:      u.kind,
		UnitID:        u.rowID,
		DefinitionID:  u.definitionID,
		AccountID:     accountID,
		Amount:        u.amount,
		Status:        models.IntentPending,
		Attempts:      1,
		LastAttemptAt: now,
	}

	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(unitModel(u.kind)).
			Where("id = ? AND state = ?", u.rowID, models.StateCompleted).
			Updates(map[string]any{"state": models.StateClaiming, "claim_key": u.key})
		if res.Error != nil {
			return fmt.Errorf("reserve unit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent claim of the same unit.
			return ErrAlreadyClaimed
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":          models.IntentPending,
				"account_id":      accountID,
				"amount":          u.amount,
				"attempts":        gorm.Expr("claim_intents.attempts + 1"),
				"last_attempt_at": now,
				"last_error":      nil,
				"updated_at":      now,
			}),
		}).Create(&intent).Error; err != nil {
			return fmt.Errorf("write claim intent: %w", err)
		}
		return nil
	})
}

// confirm marks the unit claimed and the intent confirmed.
func (e *ClaimEngine) confirm(ctx context.Context, kind models.UnitKind, rowID, intentID string, receipt *LedgerReceipt) error {
	now := e.Now().UTC()
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(unitModel(kind)).
			Where("id = ? AND state = ? AND claim_key = ?", rowID, models.StateClaiming, intentID).
			Updates(map[string]any{"state": models.StateClaimed, "claimed_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark unit claimed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("unit %s is not reserved by intent %s", rowID, intentID)
		}

		updates := map[string]any{
			"status":       models.IntentConfirmed,
			"new_balance":  receipt.Balance,
			"confirmed_at": now,
			"last_error":   nil,
		}
		if len(receipt.Raw) > 0 {
			updates["ledger_receipt"] = datatypes.JSON(receipt.Raw)
		}
		return tx.Model(&models.ClaimIntent{}).
			Where("id = ? AND status = ?", intentID, models.IntentPending).
			Updates(updates).Error
	})
}

// release returns a reserved unit to completed and fails its intent.
func (e *ClaimEngine) release(ctx context.Context, kind models.UnitKind, rowID, intentID, reason string) error {
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(unitModel(kind)).
			Where("id = ? AND state = ? AND claim_key = ?", rowID, models.StateClaiming, intentID).
			Updates(map[string]any{"state": models.StateCompleted, "claim_key": nil}).Error; err != nil {
			return fmt.Errorf("revert unit: %w", err)
		}
		return tx.Model(&models.ClaimIntent{}).
			Where("id = ? AND status = ?", intentID, models.IntentPending).
			Updates(map[string]any{"status": models.IntentFailed, "last_error": reason}).Error
	})
}

func unitModel(kind models.UnitKind) any {
	if kind == models.UnitAchievement {
		return &models.AchievementUnlock{}
	}
	return &models.ObjectiveProgress{}
}

// classifyLedgerError makes sure a ledger failure matches one of the two
// ledger sentinels.
func classifyLedgerError(err error) error {
	if errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrLedgerRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}
