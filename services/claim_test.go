package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"guild-quest-rewards/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeObjective(t *testing.T, s *stack, userID string, obj models.ObjectiveDefinition) {
	t.Helper()
	res, err := s.progress.UpdateProgress(context.Background(), ProgressUpdate{
		UserID:      userID,
		ObjectiveID: obj.ID,
		Progress:    obj.Requirement,
	})
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, res.Progress.State)
}

func TestClaimObjectiveScenario(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "complete-10k-steps", 10000, 50)

	for _, v := range []int64{6000, 4000} {
		_, err := s.progress.UpdateProgress(ctx, ProgressUpdate{UserID: "u1", ObjectiveID: obj.ID, Progress: v, Mode: ModeIncrement})
		require.NoError(t, err)
	}
	list, err := s.progress.ListDaily(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(10000), list[0].CurrentProgress)
	assert.True(t, list[0].IsCompleted)
	assert.True(t, list[0].CanClaim)

	before, err := s.wallet.Balance(ctx, "u1")
	require.NoError(t, err)

	res, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "50")
	assert.Equal(t, before.Balance+50, res.NewBalance)
	assert.Equal(t, ObjectiveClaimKey("u1", obj.ID, "2026-10-17"), res.IntentID)

	_, err = s.claims.ClaimObjective(ctx, "u1", obj.ID)
	assert.ErrorIs(t, err, ErrNotClaimable)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	calls, credits := s.ledger.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, credits)

	var row models.ObjectiveProgress
	require.NoError(t, s.db.Where("user_id = ? AND objective_id = ?", "u1", obj.ID).First(&row).Error)
	assert.Equal(t, models.StateClaimed, row.State)
	require.NotNil(t, row.ClaimedAt)

	var intent models.ClaimIntent
	require.NoError(t, s.db.First(&intent, "id = ?", res.IntentID).Error)
	assert.Equal(t, models.IntentConfirmed, intent.Status)
	assert.Equal(t, 1, intent.Attempts)
	require.NotNil(t, intent.NewBalance)
	assert.Equal(t, res.NewBalance, *intent.NewBalance)
	assert.NotEmpty(t, intent.LedgerReceipt)

	list, err = s.progress.ListDaily(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, list[0].IsCompleted)
	assert.False(t, list[0].CanClaim)
}

func TestClaimGatingNeverCallsLedger(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)

	// No progress row at all.
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	// Progress below the requirement.
	_, err = s.progress.UpdateProgress(ctx, ProgressUpdate{UserID: "u1", ObjectiveID: obj.ID, Progress: 99})
	require.NoError(t, err)
	_, err = s.claims.ClaimObjective(ctx, "u1", obj.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
	assert.ErrorIs(t, err, ErrNotClaimable)

	// Achievement never unlocked.
	ach := seedAchievement(t, s.db, "first-steps", models.RequirementFeature, "step_tracking", 100)
	_, err = s.claims.ClaimAchievement(ctx, "u1", ach.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	calls, _ := s.ledger.counts()
	assert.Zero(t, calls)
	assert.Zero(t, s.ledger.createCalls, "gating happens before account resolution")
}

func TestClaimUnknownDefinition(t *testing.T) {
	s := newStack(t)
	_, err := s.claims.ClaimObjective(context.Background(), "u1", 77)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.claims.ClaimAchievement(context.Background(), "u1", 77)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentClaimsCreditOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	completeObjective(t, s, "u1", obj)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyClaimed):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, refused)
	calls, credits := s.ledger.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, credits)
}

func TestConcurrentAchievementClaimsCreditOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	ach := seedAchievement(t, s.db, "first-steps", models.RequirementFeature, "step_tracking", 100)
	_, err := s.achievements.Unlock(ctx, "u1", ach.ID)
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.claims.ClaimAchievement(ctx, "u1", ach.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyClaimed):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, refused)
	calls, credits := s.ledger.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, credits)

	var unlock models.AchievementUnlock
	require.NoError(t, s.db.Where("user_id = ? AND achievement_id = ?", "u1", ach.ID).First(&unlock).Error)
	assert.Equal(t, models.StateClaimed, unlock.State)
}

func TestClaimLedgerFailureReleasesAndRetryReusesKey(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	completeObjective(t, s, "u1", obj)

	s.ledger.setCreditErr(errLedgerDown)
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.ErrorIs(t, err, ErrLedgerUnavailable)

	var row models.ObjectiveProgress
	require.NoError(t, s.db.Where("user_id = ?", "u1").First(&row).Error)
	assert.Equal(t, models.StateCompleted, row.State, "unit stays claimable")
	assert.Nil(t, row.ClaimKey)
	assert.Nil(t, row.ClaimedAt)

	key := ObjectiveClaimKey("u1", obj.ID, "2026-10-17")
	var intent models.ClaimIntent
	require.NoError(t, s.db.First(&intent, "id = ?", key).Error)
	assert.Equal(t, models.IntentFailed, intent.Status)
	require.NotNil(t, intent.LastError)

	s.ledger.setCreditErr(nil)
	res, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.NoError(t, err)
	assert.Equal(t, key, res.IntentID)

	require.NoError(t, s.db.First(&intent, "id = ?", key).Error)
	assert.Equal(t, models.IntentConfirmed, intent.Status)
	assert.Equal(t, 2, intent.Attempts)
	assert.Nil(t, intent.LastError)

	calls, credits := s.ledger.counts()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, credits)
}

func TestClaimLedgerRejection(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	completeObjective(t, s, "u1", obj)

	s.ledger.setCreditErr(&LedgerError{Op: "credit", StatusCode: 422, Message: "amount too large"})
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	assert.ErrorIs(t, err, ErrLedgerRejected)
	assert.NotErrorIs(t, err, ErrLedgerUnavailable)
}

func TestClaimWithPlaceholderAccountIsUnavailable(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	completeObjective(t, s, "u1", obj)

	s.ledger.createErr = errLedgerDown
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)

	calls, _ := s.ledger.counts()
	assert.Zero(t, calls)

	var row models.ObjectiveProgress
	require.NoError(t, s.db.Where("user_id = ?", "u1").First(&row).Error)
	assert.Equal(t, models.StateCompleted, row.State)
}

func TestClaimAchievement(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	ach := seedAchievement(t, s.db, "first-steps", models.RequirementFeature, "step_tracking", 100)

	_, err := s.achievements.Unlock(ctx, "u1", ach.ID)
	require.NoError(t, err)

	res, err := s.claims.ClaimAchievement(ctx, "u1", ach.ID)
	require.NoError(t, err)
	assert.Equal(t, "Claimed 100 coins!", res.Message)
	assert.Equal(t, float64(100), res.NewBalance)
	assert.Equal(t, models.UnitAchievement, res.Kind)

	_, err = s.claims.ClaimAchievement(ctx, "u1", ach.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// Re-unlocking a claimed achievement is still a silent no-op.
	created, err := s.achievements.Unlock(ctx, "u1", ach.ID)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.achievements.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsClaimed)
	assert.False(t, list[0].CanClaim)
}

func TestClaimKeysAreStable(t *testing.T) {
	assert.Equal(t, ObjectiveClaimKey("u1", 1, "2026-10-17"), ObjectiveClaimKey("u1", 1, "2026-10-17"))
	assert.NotEqual(t, ObjectiveClaimKey("u1", 1, "2026-10-17"), ObjectiveClaimKey("u1", 1, "2026-10-18"))
	assert.NotEqual(t, ObjectiveClaimKey("u1", 1, "2026-10-17"), ObjectiveClaimKey("u2", 1, "2026-10-17"))
	assert.NotEqual(t, AchievementClaimKey("u1", 1), AchievementClaimKey("u1", 2))
}
