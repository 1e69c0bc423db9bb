package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"guild-quest-rewards/database"
	"guild-quest-rewards/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := database.Connect("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func seedObjective(t *testing.T, gdb *gorm.DB, code string, requirement, reward int64) models.ObjectiveDefinition {
	t.Helper()
	def := models.ObjectiveDefinition{
		Code:         code,
		Name:         code,
		Requirement:  requirement,
		RewardAmount: reward,
		IsActive:     true,
	}
	require.NoError(t, gdb.Create(&def).Error)
	return def
}

func seedAchievement(t *testing.T, gdb *gorm.DB, code, reqType, reqValue string, reward int64) models.AchievementDefinition {
	t.Helper()
	def := models.AchievementDefinition{
		Code:             code,
		Name:             code,
		RequirementType:  reqType,
		RequirementValue: reqValue,
		RewardAmount:     reward,
		IsActive:         true,
	}
	require.NoError(t, gdb.Create(&def).Error)
	return def
}

// fakeLedger honours idempotency keys the way the real ledger is expected to.
type fakeLedger struct {
	mu sync.Mutex

	balances map[string]float64
	keys     map[string]bool
	nextID   int

	createCalls int
	creditCalls int
	credits     int // credits actually applied

	createErr  error
	creditErr  error
	balanceErr error
	spendErr   error

	onCreate func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]float64{}, keys: map[string]bool{}}
}

func (f *fakeLedger) CreateAccount(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.createCalls++
	err := f.createErr
	f.nextID++
	id := fmt.Sprintf("acct-%d", f.nextID)
	hook := f.onCreate
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if hook != nil {
		hook()
	}
	return id, nil
}

func (f *fakeLedger) Balance(ctx context.Context, accountID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[accountID], nil
}

func (f *fakeLedger) Credit(ctx context.Context, accountID string, amount int64, key string) (*LedgerReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditCalls++
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	if !f.keys[key] {
		f.keys[key] = true
		f.balances[accountID] += float64(amount)
		f.credits++
	}
	bal := f.balances[accountID]
	raw, _ := json.Marshal(map[string]any{"balance": bal, "message": "ok"})
	return &LedgerReceipt{Balance: bal, Message: "ok", Raw: raw}, nil
}

func (f *fakeLedger) Spend(ctx context.Context, accountID, item string, cost int64) (*LedgerReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spendErr != nil {
		return nil, f.spendErr
	}
	if f.balances[accountID] < float64(cost) {
		return nil, &LedgerError{Op: "spend", StatusCode: 400, Message: "Insufficient balance"}
	}
	f.balances[accountID] -= float64(cost)
	return &LedgerReceipt{Balance: f.balances[accountID], Message: "spent"}, nil
}

func (f *fakeLedger) Info(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (f *fakeLedger) setCreditErr(err error) {
	f.mu.Lock()
	f.creditErr = err
	f.mu.Unlock()
}

func (f *fakeLedger) counts() (creditCalls, credits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creditCalls, f.credits
}

var errLedgerDown = &LedgerError{Op: "credit", Message: "connection refused", Err: errors.New("dial tcp: connection refused")}

// stack wires the services together the way main does.
type stack struct {
	db           *gorm.DB
	ledger       *fakeLedger
	identity     *IdentityBridge
	achievements *AchievementService
	progress     *ProgressService
	claims       *ClaimEngine
	wallet       *WalletService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gdb := newTestDB(t)
	ledger := newFakeLedger()
	log := testLogger()

	s := &stack{db: gdb, ledger: ledger}
	s.identity = NewIdentityBridge(gdb, ledger, log)
	s.achievements = NewAchievementService(gdb, log)
	s.progress = NewProgressService(gdb, s.achievements, log)
	s.progress.Now = fixedClock
	s.claims = NewClaimEngine(gdb, ledger, s.identity, log)
	s.claims.Now = fixedClock
	s.wallet = NewWalletService(s.identity, ledger, log)
	return s
}
