package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"guild-quest-rewards/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressMode selects how an incoming value combines with the stored one.
type ProgressMode string

const (
	// ModeAbsolute keeps the larger of the stored and incoming totals.
	ModeAbsolute ProgressMode = "absolute"
	// ModeIncrement adds the incoming delta to the stored total.
	ModeIncrement ProgressMode = "increment"
)

// ProgressUpdate is one activity signal for the caller's objective.
type ProgressUpdate struct {
	UserID      string
	ObjectiveID uint
	Progress    int64
	Mode        ProgressMode
}

// ProgressResult is the day's row after an update.
type ProgressResult struct {
	Progress       models.ObjectiveProgress
	Objective      models.ObjectiveDefinition
	NewlyCompleted bool
	Unlocked       []models.AchievementDefinition
}

// DailyObjective is an active objective joined with the caller's progress today.
type DailyObjective struct {
	ID              uint              `json:"id"`
	Code            string            `json:"code"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Requirement     int64             `json:"requirement"`
	RewardAmount    int64             `json:"reward_amount"`
	Icon            string            `json:"icon"`
	CurrentProgress int64             `json:"current_progress"`
	State           models.ClaimState `json:"state"`
	IsCompleted     bool              `json:"is_completed"`
	CanClaim        bool              `json:"can_claim"`
	ClaimedAt       *time.Time        `json:"claimed_at,omitempty"`
}

// ProgressService evolves per-day objective progress. It never touches the ledger.
type ProgressService struct {
	DB           *gorm.DB
	Achievements *AchievementService
	Now          func() time.Time
	Log          logrus.FieldLogger
}

func NewProgressService(db *gorm.DB, achievements *AchievementService, log logrus.FieldLogger) *ProgressService {
	return &ProgressService{
		DB:           db,
		Achievements: achievements,
		Now:          time.Now,
		Log:          log.WithField("component", "progress"),
	}
}

// Today is the UTC calendar day progress is recorded against.
func (s *ProgressService) Today() string {
	return s.Now().UTC().Format(models.DayFormat)
}

// UpdateProgress records one activity signal against today's row.
// current_progress never decreases and a completed row never reverts.
func (s *ProgressService) UpdateProgress(ctx context.Context, upd ProgressUpdate) (*ProgressResult, error) {
	if upd.UserID == "" {
		return nil, validationError("user id is required")
	}
	if upd.ObjectiveID == 0 {
		return nil, validationError("objectiveId is required")
	}
	if upd.Progress < 0 {
		return nil, validationError("progress must be a non-negative integer")
	}
	if upd.Mode == "" {
		upd.Mode = ModeAbsolute
	}
	if upd.Mode != ModeAbsolute && upd.Mode != ModeIncrement {
		return nil, validationError("unknown progress mode %q", upd.Mode)
	}

	day := s.Today()
	result := &ProgressResult{}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND is_active = ?", upd.ObjectiveID, true).
			First(&result.Objective).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: objective %d", ErrNotFound, upd.ObjectiveID)
			}
			return err
		}

		row := models.ObjectiveProgress{UserID: upd.UserID, ObjectiveID: upd.ObjectiveID, Day: day}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("create progress row: %w", err)
		}

		scope := tx.Model(&models.ObjectiveProgress{}).
			Where("user_id = ? AND objective_id = ? AND day = ?", upd.UserID, upd.ObjectiveID, day)

		var res *gorm.DB
		switch upd.Mode {
		case ModeIncrement:
			var stored models.ObjectiveProgress
			if err := tx.Select("current_progress").
				Where("user_id = ? AND objective_id = ? AND day = ?", upd.UserID, upd.ObjectiveID, day).
				First(&stored).Error; err != nil {
				return fmt.Errorf("read progress: %w", err)
			}
			if stored.CurrentProgress > math.MaxInt64-upd.Progress {
				return errProgressOverflow
			}
			res = scope.Update("current_progress", gorm.Expr("current_progress + ?", upd.Progress))
		default:
			res = scope.Where("current_progress < ?", upd.Progress).Update("current_progress", upd.Progress)
		}
		if res.Error != nil {
			if isOutOfRange(res.Error) {
				return errProgressOverflow
			}
			return fmt.Errorf("update progress: %w", res.Error)
		}

		done := tx.Model(&models.ObjectiveProgress{}).
			Where("user_id = ? AND objective_id = ? AND day = ?", upd.UserID, upd.ObjectiveID, day).
			Where("state = ? AND current_progress >= ?", models.StateInProgress, result.Objective.Requirement).
			Update("state", models.StateCompleted)
		if done.Error != nil {
			return fmt.Errorf("complete progress: %w", done.Error)
		}
		result.NewlyCompleted = done.RowsAffected > 0

		return tx.Where("user_id = ? AND objective_id = ? AND day = ?", upd.UserID, upd.ObjectiveID, day).
			First(&result.Progress).Error
	})
	if err != nil {
		return nil, err
	}

	log := s.Log.WithFields(logrus.Fields{
		"user_id":   upd.UserID,
		"objective": result.Objective.Code,
		"progress":  result.Progress.CurrentProgress,
	})
	if !result.NewlyCompleted {
		log.Debug("progress recorded")
		return result, nil
	}

	log.Info("🎯 objective completed")
	if s.Achievements != nil {
		unlocked, err := s.Achievements.EvaluateAutoUnlocks(ctx, upd.UserID)
		if err != nil {
			// Auto-unlock is re-evaluated on the next completion.
			log.WithError(err).Error("achievement auto-unlock failed")
		}
		result.Unlocked = unlocked
	}
	return result, nil
}

// ListDaily returns every active objective with the user's progress for today.
func (s *ProgressService) ListDaily(ctx context.Context, userID string) ([]DailyObjective, error) {
	var defs []models.ObjectiveDefinition
	if err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}

	var rows []models.ObjectiveProgress
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, s.Today()).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	byObjective := make(map[uint]models.ObjectiveProgress, len(rows))
	for _, r := range rows {
		byObjective[r.ObjectiveID] = r
	}

	out := make([]DailyObjective, 0, len(defs))
	for _, d := range defs {
		view := DailyObjective{
			ID:           d.ID,
			Code:         d.Code,
			Name:         d.Name,
			Description:  d.Description,
			Requirement:  d.Requirement,
			RewardAmount: d.RewardAmount,
			Icon:         d.Icon,
			State:        models.StateInProgress,
		}
		if p, ok := byObjective[d.ID]; ok {
			view.CurrentProgress = p.CurrentProgress
			view.State = p.State
			view.ClaimedAt = p.ClaimedAt
		}
		view.IsCompleted = view.State.IsCompleted()
		view.CanClaim = view.State.CanClaim()
		out = append(out, view)
	}
	return out, nil
}

var errProgressOverflow = validationError("progress total exceeds the supported range")

// isOutOfRange matches postgres numeric_value_out_of_range, raised when a
// concurrent increment pushes the bigint past its limit.
func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}
