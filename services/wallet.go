package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// BalanceView is the caller's balance. Available is false when the ledger
// could not be asked, in which case Balance is 0.
type BalanceView struct {
	Balance   float64 `json:"balance"`
	Available bool    `json:"balance_available"`
}

// WalletService fronts the ledger for balance reads and spends.
type WalletService struct {
	Accounts AccountResolver
	Ledger   Ledger
	Log      logrus.FieldLogger
}

func NewWalletService(accounts AccountResolver, ledger Ledger, log logrus.FieldLogger) *WalletService {
	return &WalletService{Accounts: accounts, Ledger: ledger, Log: log.WithField("component", "wallet")}
}

// Balance never fails because of the ledger; an outage reads as zero.
func (w *WalletService) Balance(ctx context.Context, userID string) (BalanceView, error) {
	log := w.Log.WithField("user_id", userID)

	acct, err := w.Accounts.Resolve(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("balance: account unavailable, reporting zero")
		return BalanceView{}, nil
	}
	if acct.Placeholder {
		return BalanceView{}, nil
	}

	bal, err := w.Ledger.Balance(ctx, acct.AccountID)
	if err != nil {
		log.WithError(err).Warn("balance: ledger unavailable, reporting zero")
		return BalanceView{}, nil
	}
	return BalanceView{Balance: bal, Available: true}, nil
}

// Spend debits cost tokens for item.
func (w *WalletService) Spend(ctx context.Context, userID, item string, cost int64) (*LedgerReceipt, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil, validationError("item is required")
	}
	if cost <= 0 {
		return nil, validationError("cost must be positive")
	}

	acct, err := w.Accounts.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.Placeholder {
		return nil, fmt.Errorf("%w: ledger account not provisioned yet", ErrLedgerUnavailable)
	}

	receipt, err := w.Ledger.Spend(ctx, acct.AccountID, item, cost)
	if err != nil {
		return nil, classifyLedgerError(err)
	}
	w.Log.WithFields(logrus.Fields{"user_id": userID, "item": item, "cost": cost}).Info("tokens spent")
	return receipt, nil
}

// Info passes the ledger's status document through.
func (w *WalletService) Info(ctx context.Context) (json.RawMessage, error) {
	info, err := w.Ledger.Info(ctx)
	if err != nil {
		return nil, classifyLedgerError(err)
	}
	return info, nil
}
