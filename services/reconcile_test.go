package services

import (
	"context"
	"testing"
	"time"

	"guild-quest-rewards/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reconcileOpts = ReconcileOptions{StaleAfter: 5 * time.Minute, MaxAttempts: 3, BatchSize: 10}

// strandClaim reserves a unit the way a claim does and stops before the
// ledger call, as if the process died there.
func strandClaim(t *testing.T, s *stack, userID string, obj models.ObjectiveDefinition) (models.ObjectiveProgress, string) {
	t.Helper()
	ctx := context.Background()
	completeObjective(t, s, userID, obj)

	var row models.ObjectiveProgress
	require.NoError(t, s.db.Where("user_id = ? AND objective_id = ?", userID, obj.ID).First(&row).Error)

	acct, err := s.identity.Resolve(ctx, userID)
	require.NoError(t, err)

	key := ObjectiveClaimKey(userID, obj.ID, row.Day)
	require.NoError(t, s.claims.reserve(ctx, claimUnit{
		kind:         models.UnitObjective,
		rowID:        row.ID,
		userID:       userID,
		definitionID: obj.ID,
		amount:       obj.RewardAmount,
		state:        row.State,
		key:          key,
	}, acct.AccountID))
	return row, key
}

func advance(s *stack, d time.Duration) {
	now := testNow.Add(d)
	s.claims.Now = func() time.Time { return now }
}

func TestReconcileSkipsFreshIntents(t *testing.T) {
	s := newStack(t)
	obj := seedObjective(t, s.db, "steps", 100, 10)
	strandClaim(t, s, "u1", obj)

	report, err := s.claims.Reconcile(context.Background(), reconcileOpts)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestReconcileConfirmsStrandedClaim(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	row, key := strandClaim(t, s, "u1", obj)

	// While stranded the unit cannot be claimed again.
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	advance(s, 10*time.Minute)
	report, err := s.claims.Reconcile(ctx, reconcileOpts)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 1, Confirmed: 1}, report)

	require.NoError(t, s.db.First(&row, "id = ?", row.ID).Error)
	assert.Equal(t, models.StateClaimed, row.State)

	var intent models.ClaimIntent
	require.NoError(t, s.db.First(&intent, "id = ?", key).Error)
	assert.Equal(t, models.IntentConfirmed, intent.Status)
	_, credits := s.ledger.counts()
	assert.Equal(t, 1, credits)
}

func TestReconcileDoesNotPayTwiceWhenCreditLanded(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	_, key := strandClaim(t, s, "u1", obj)

	// The credit reached the ledger before the crash.
	acct, err := s.identity.Resolve(ctx, "u1")
	require.NoError(t, err)
	_, err = s.ledger.Credit(ctx, acct.AccountID, obj.RewardAmount, key)
	require.NoError(t, err)

	advance(s, 10*time.Minute)
	report, err := s.claims.Reconcile(ctx, reconcileOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)

	calls, credits := s.ledger.counts()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, credits)

	bal, err := s.ledger.Balance(ctx, acct.AccountID)
	require.NoError(t, err)
	assert.Equal(t, float64(10), bal)
}

func TestReconcileRetriesThenAbandons(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	row, key := strandClaim(t, s, "u1", obj)
	s.ledger.setCreditErr(errLedgerDown)

	// attempts: 1 (claim) -> 2 -> 3, then abandoned on the next sweep.
	for i, want := range []ReconcileReport{
		{Scanned: 1, Retrying: 1},
		{Scanned: 1, Retrying: 1},
		{Scanned: 1, Abandoned: 1},
	} {
		advance(s, time.Duration(i+1)*time.Hour)
		report, err := s.claims.Reconcile(ctx, reconcileOpts)
		require.NoError(t, err)
		assert.Equal(t, want, report, "sweep %d", i+1)
	}

	var intent models.ClaimIntent
	require.NoError(t, s.db.First(&intent, "id = ?", key).Error)
	assert.Equal(t, models.IntentFailed, intent.Status)
	assert.Equal(t, 3, intent.Attempts)
	require.NotNil(t, intent.LastError)

	require.NoError(t, s.db.First(&row, "id = ?", row.ID).Error)
	assert.Equal(t, models.StateCompleted, row.State)

	// The user can claim again with the same key once the ledger is back.
	s.ledger.setCreditErr(nil)
	res, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.NoError(t, err)
	assert.Equal(t, key, res.IntentID)
}

func TestReconcileRejectedCreditReleasesUnit(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	row, _ := strandClaim(t, s, "u1", obj)
	s.ledger.setCreditErr(&LedgerError{Op: "credit", StatusCode: 400, Message: "unknown account"})

	advance(s, time.Hour)
	report, err := s.claims.Reconcile(ctx, reconcileOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)

	require.NoError(t, s.db.First(&row, "id = ?", row.ID).Error)
	assert.Equal(t, models.StateCompleted, row.State)
}

func TestListIntents(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	strandClaim(t, s, "u1", obj)

	pending, err := s.claims.ListIntents(ctx, models.IntentPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	confirmed, err := s.claims.ListIntents(ctx, models.IntentConfirmed, 0)
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	_, err = s.claims.ListIntents(ctx, "weird", 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirmedIntentsWindow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	obj := seedObjective(t, s.db, "steps", 100, 10)
	completeObjective(t, s, "u1", obj)
	_, err := s.claims.ClaimObjective(ctx, "u1", obj.ID)
	require.NoError(t, err)

	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	got, err := s.claims.ConfirmedIntents(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.claims.ConfirmedIntents(ctx, day.Add(24*time.Hour), day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}
