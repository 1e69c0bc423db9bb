package services

import (
	"context"
	"testing"

	"guild-quest-rewards/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	require.Len(t, cat.Objectives, 5)
	assert.Equal(t, "complete-10k-steps", cat.Objectives[0].Code)
	assert.Equal(t, int64(10000), cat.Objectives[0].Requirement)

	features := map[string]string{}
	for _, a := range cat.Achievements {
		if a.RequirementType == models.RequirementFeature {
			features[a.RequirementValue] = a.Name
		}
	}
	assert.Equal(t, map[string]string{
		"step_tracking":     "First Steps",
		"exercise_tracking": "Workout Warrior",
		"sleep_tracking":    "Sleep Scholar",
		"water_tracking":    "Hydration Hero",
		"meditation":        "Mindful Master",
	}, features)
}

func TestParseCatalogRejectsBadEntries(t *testing.T) {
	_, err := ParseCatalog([]byte("objectives:\n  - name: Walk\n    requirement: 0\n"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseCatalog([]byte("objectives:\n  - name: Walk\n    requirement: 1\n  - name: walk\n    requirement: 2\n"))
	assert.ErrorIs(t, err, ErrValidation, "names slugging to the same code collide")

	_, err = ParseCatalog([]byte("achievements: [oops"))
	assert.Error(t, err)
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	require.NoError(t, SeedCatalog(ctx, gdb, cat))

	var first []models.ObjectiveDefinition
	require.NoError(t, gdb.Order("id").Find(&first).Error)
	require.Len(t, first, 5)
	assert.Equal(t, uint(1), first[0].ID)
	assert.Equal(t, "Complete 10k Steps", first[0].Name)

	cat.Objectives[0].RewardAmount = 75
	cat.Objectives[1].Inactive = true
	require.NoError(t, SeedCatalog(ctx, gdb, cat))

	var second []models.ObjectiveDefinition
	require.NoError(t, gdb.Order("id").Find(&second).Error)
	require.Len(t, second, 5)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, int64(75), second[0].RewardAmount)
	assert.False(t, second[1].IsActive)

	var achievements int64
	require.NoError(t, gdb.Model(&models.AchievementDefinition{}).Count(&achievements).Error)
	assert.Equal(t, int64(len(cat.Achievements)), achievements)
}

func TestSeedMissingKeepsOperatorEdits(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()

	custom, err := ParseCatalog([]byte(`
objectives:
  - name: Complete 10k Steps
    requirement: 12000
    reward_amount: 5
    inactive: true
`))
	require.NoError(t, err)
	require.NoError(t, SeedCatalog(ctx, gdb, custom))

	defaults, err := DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, SeedMissing(ctx, gdb, defaults))
	// A second boot changes nothing either.
	require.NoError(t, SeedMissing(ctx, gdb, defaults))

	var steps models.ObjectiveDefinition
	require.NoError(t, gdb.Where("code = ?", "complete-10k-steps").First(&steps).Error)
	assert.False(t, steps.IsActive)
	assert.Equal(t, int64(5), steps.RewardAmount)
	assert.Equal(t, int64(12000), steps.Requirement)

	var objectives, achievements int64
	require.NoError(t, gdb.Model(&models.ObjectiveDefinition{}).Count(&objectives).Error)
	require.NoError(t, gdb.Model(&models.AchievementDefinition{}).Count(&achievements).Error)
	assert.Equal(t, int64(len(defaults.Objectives)), objectives)
	assert.Equal(t, int64(len(defaults.Achievements)), achievements)
}
