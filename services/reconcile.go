package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guild-quest-rewards/metrics"
	"guild-quest-rewards/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconcileOptions bounds one sweep over pending intents.
type ReconcileOptions struct {
	StaleAfter  time.Duration // must exceed the ledger timeout
	MaxAttempts int
	BatchSize   int
}

// ReconcileReport counts what one sweep did.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Retrying  int `json:"retrying"`
	Rejected  int `json:"rejected"`
	Abandoned int `json:"abandoned"`
}

const (
	replayConfirmed = "confirmed"
	replayRetrying  = "retrying"
	replayRejected  = "rejected"
	replayAbandoned = "abandoned"
)

// Reconcile replays pending intents whose last attempt is older than
// StaleAfter. Each replay reuses the intent id as the idempotency key, so a
// credit that already landed is not paid twice.
func (e *ClaimEngine) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	var report ReconcileReport
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	cutoff := e.Now().UTC().Add(-opts.StaleAfter)
	var intents []models.ClaimIntent
	if err := e.DB.WithContext(ctx).
		Where("status = ? AND last_attempt_at < ?", models.IntentPending, cutoff).
		Order("last_attempt_at").
		Limit(opts.BatchSize).
		Find(&intents).Error; err != nil {
		return report, fmt.Errorf("load pending intents: %w", err)
	}

	var errs []error
	for _, in := range intents {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report.Scanned++
		outcome, err := e.replay(ctx, in, opts.MaxAttempts)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", in.ID, err))
			continue
		}
		metrics.RecordReconcile(outcome)
		switch outcome {
		case replayConfirmed:
			report.Confirmed++
		case replayRetrying:
			report.Retrying++
		case replayRejected:
			report.Rejected++
		case replayAbandoned:
			report.Abandoned++
		}
	}

	if report.Scanned > 0 {
		e.Log.WithFields(logrus.Fields{
			"scanned":   report.Scanned,
			"confirmed": report.Confirmed,
			"retrying":  report.Retrying,
			"rejected":  report.Rejected,
			"abandoned": report.Abandoned,
		}).Info("reconcile sweep finished")
	}
	return report, errors.Join(errs...)
}

func (e *ClaimEngine) replay(ctx context.Context, in models.ClaimIntent, maxAttempts int) (string, error) {
	log := e.Log.WithFields(logrus.Fields{
		"intent_id": in.ID,
		"user_id":   in.UserID,
		"unit":      in.UnitKind,
		"attempts":  in.Attempts,
	})

	if in.Attempts >= maxAttempts {
		reason := fmt.Sprintf("abandoned after %d attempts", in.Attempts)
		if err := e.release(ctx, in.UnitKind, in.UnitID, in.ID, reason); err != nil {
			return "", err
		}
		log.Error("claim intent abandoned, unit returned to completed")
		return replayAbandoned, nil
	}

	// Claim the attempt before calling out, so a concurrent sweep skips it.
	now := e.Now().UTC()
	res := e.DB.WithContext(ctx).Model(&models.ClaimIntent{}).
		Where("id = ? AND status = ? AND attempts = ?", in.ID, models.IntentPending, in.Attempts).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return "", fmt.Errorf("bump attempts: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return replayRetrying, nil
	}

	receipt, err := e.Ledger.Credit(ctx, in.AccountID, in.Amount, in.ID)
	if err != nil {
		err = classifyLedgerError(err)
		if errors.Is(err, ErrLedgerRejected) {
			if rerr := e.release(ctx, in.UnitKind, in.UnitID, in.ID, err.Error()); rerr != nil {
				return "", rerr
			}
			log.WithError(err).Warn("ledger rejected replayed credit, unit returned to completed")
			return replayRejected, nil
		}
		if uerr := e.DB.WithContext(ctx).Model(&models.ClaimIntent{}).
			Where("id = ?", in.ID).
			Update("last_error", err.Error()).Error; uerr != nil {
			log.WithError(uerr).Warn("failed to record replay error")
		}
		log.WithError(err).Warn("replayed credit failed, will retry")
		return replayRetrying, nil
	}

	if err := e.confirm(ctx, in.UnitKind, in.UnitID, in.ID, receipt); err != nil {
		return "", err
	}
	log.Info("pending claim confirmed by reconciler")
	return replayConfirmed, nil
}

// ListIntents returns recent intents, optionally filtered by status.
func (e *ClaimEngine) ListIntents(ctx context.Context, status models.IntentStatus, limit int) ([]models.ClaimIntent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := e.DB.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != "" {
		switch status {
		case models.IntentPending, models.IntentConfirmed, models.IntentFailed:
		default:
			return nil, validationError("unknown intent status %q", status)
		}
		q = q.Where("status = ?", status)
	}
	var intents []models.ClaimIntent
	if err := q.Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

// ConfirmedIntents returns intents confirmed in [from, to).
func (e *ClaimEngine) ConfirmedIntents(ctx context.Context, from, to time.Time) ([]models.ClaimIntent, error) {
	var intents []models.ClaimIntent
	err := e.DB.WithContext(ctx).
		Where("status = ? AND confirmed_at >= ? AND confirmed_at < ?", models.IntentConfirmed, from.UTC(), to.UTC()).
		Order("confirmed_at").
		Find(&intents).Error
	return intents, err
}
