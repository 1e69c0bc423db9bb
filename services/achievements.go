package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"guild-quest-rewards/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementView is an active achievement with the caller's unlock status.
type AchievementView struct {
	ID               uint               `json:"id"`
	Code             string             `json:"code"`
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	RequirementType  string             `json:"requirement_type"`
	RequirementValue string             `json:"requirement_value"`
	RewardAmount     int64              `json:"reward_amount"`
	Icon             string             `json:"icon"`
	IsUnlocked       bool               `json:"is_unlocked"`
	CanClaim         bool               `json:"can_claim"`
	IsClaimed        bool               `json:"is_claimed"`
	State            *models.ClaimState `json:"state,omitempty"`
	ClaimedAt        *time.Time         `json:"claimed_at,omitempty"`
}

type AchievementService struct {
	DB  *gorm.DB
	Log logrus.FieldLogger
}

func NewAchievementService(db *gorm.DB, log logrus.FieldLogger) *AchievementService {
	return &AchievementService{DB: db, Log: log.WithField("component", "achievements")}
}

// Unlock creates the user's unlock row for an active achievement. Unlocking
// twice is a no-op; created reports whether this call made the row.
func (s *AchievementService) Unlock(ctx context.Context, userID string, achievementID uint) (created bool, err error) {
	if userID == "" {
		return false, validationError("user id is required")
	}

	var def models.AchievementDefinition
	if err := s.DB.WithContext(ctx).
		Where("id = ? AND is_active = ?", achievementID, true).
		First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("%w: achievement %d", ErrNotFound, achievementID)
		}
		return false, err
	}
	return s.unlock(ctx, userID, &def)
}

func (s *AchievementService) unlock(ctx context.Context, userID string, def *models.AchievementDefinition) (bool, error) {
	row := models.AchievementUnlock{UserID: userID, AchievementID: def.ID}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("create unlock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.Log.WithFields(logrus.Fields{"user_id": userID, "achievement": def.Code}).Info("🎖️ achievement unlocked")
	return true, nil
}

// List returns active achievements, unlocked ones first, then by id.
func (s *AchievementService) List(ctx context.Context, userID string) ([]AchievementView, error) {
	var defs []models.AchievementDefinition
	if err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}

	var unlocks []models.AchievementUnlock
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&unlocks).Error; err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	byAchievement := make(map[uint]models.AchievementUnlock, len(unlocks))
	for _, u := range unlocks {
		byAchievement[u.AchievementID] = u
	}

	out := make([]AchievementView, 0, len(defs))
	for _, d := range defs {
		view := AchievementView{
			ID:               d.ID,
			Code:             d.Code,
			Name:             d.Name,
			Description:      d.Description,
			RequirementType:  d.RequirementType,
			RequirementValue: d.RequirementValue,
			RewardAmount:     d.RewardAmount,
			Icon:             d.Icon,
		}
		if u, ok := byAchievement[d.ID]; ok {
			state := u.State
			view.IsUnlocked = true
			view.CanClaim = state.CanClaim()
			view.IsClaimed = state == models.StateClaimed
			view.State = &state
			view.ClaimedAt = u.ClaimedAt
		}
		out = append(out, view)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsUnlocked && !out[j].IsUnlocked
	})
	return out, nil
}

// EvaluateAutoUnlocks unlocks every active achievement whose predicate the
// user now satisfies. Feature achievements are left to external triggers.
func (s *AchievementService) EvaluateAutoUnlocks(ctx context.Context, userID string) ([]models.AchievementDefinition, error) {
	var defs []models.AchievementDefinition
	if err := s.DB.WithContext(ctx).
		Where("is_active = ? AND requirement_type IN ?", true, []string{
			models.RequirementObjectivesCompleted,
			models.RequirementObjectiveCompleted,
		}).
		Order("id").
		Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("load auto-unlock achievements: %w", err)
	}

	var unlocked []models.AchievementDefinition
	var errs []error
	for i := range defs {
		def := &defs[i]
		ok, err := s.meetsRequirement(ctx, userID, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("achievement %s: %w", def.Code, err))
			continue
		}
		if !ok {
			continue
		}
		created, err := s.unlock(ctx, userID, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if created {
			unlocked = append(unlocked, *def)
		}
	}
	return unlocked, errors.Join(errs...)
}

func (s *AchievementService) meetsRequirement(ctx context.Context, userID string, def *models.AchievementDefinition) (bool, error) {
	completed := s.DB.WithContext(ctx).Model(&models.ObjectiveProgress{}).
		Where("user_id = ? AND state <> ?", userID, models.StateInProgress)

	switch def.RequirementType {
	case models.RequirementObjectivesCompleted:
		required, err := strconv.ParseInt(strings.TrimSpace(def.RequirementValue), 10, 64)
		if err != nil {
			return false, fmt.Errorf("bad requirement value %q", def.RequirementValue)
		}
		var count int64
		if err := completed.Count(&count).Error; err != nil {
			return false, err
		}
		return count >= required, nil

	case models.RequirementObjectiveCompleted:
		objectiveID, err := s.objectiveRef(ctx, def.RequirementValue)
		if err != nil {
			return false, err
		}
		var count int64
		if err := completed.Where("objective_id = ?", objectiveID).Count(&count).Error; err != nil {
			return false, err
		}
		return count > 0, nil
	}
	return false, nil
}

// objectiveRef accepts an objective id or code.
func (s *AchievementService) objectiveRef(ctx context.Context, value string) (uint, error) {
	value = strings.TrimSpace(value)
	if id, err := strconv.ParseUint(value, 10, 64); err == nil {
		return uint(id), nil
	}
	var def models.ObjectiveDefinition
	if err := s.DB.WithContext(ctx).Select("id").Where("code = ?", value).First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: objective %q", ErrNotFound, value)
		}
		return 0, err
	}
	return def.ID, nil
}
