package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guild-quest-rewards/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlaceholderPrefix marks account ids generated locally while the ledger
// could not allocate one.
const PlaceholderPrefix = "placeholder_"

// legacyPlaceholderPrefix is how older deployments stored placeholder ids.
// Such rows are never credited.
const legacyPlaceholderPrefix = "temp_blockchain_id_"

// Account is a resolved ledger account.
type Account struct {
	AccountID   string
	Placeholder bool // true when the ledger could not allocate a real account
}

// IdentityBridge maps internal users to ledger accounts.
type IdentityBridge struct {
	DB     *gorm.DB
	Ledger Ledger
	Log    logrus.FieldLogger

	group singleflight.Group
}

func NewIdentityBridge(db *gorm.DB, ledger Ledger, log logrus.FieldLogger) *IdentityBridge {
	return &IdentityBridge{DB: db, Ledger: ledger, Log: log.WithField("component", "identity")}
}

// Resolve returns the user's ledger account, creating it on first use.
//
// Placeholder accounts are never persisted, so a later call retries the
// ledger and the stored mapping is always a real account.
func (b *IdentityBridge) Resolve(ctx context.Context, userID string) (Account, error) {
	if strings.TrimSpace(userID) == "" {
		return Account{}, validationError("user id is required")
	}

	if acct, ok, err := b.lookup(ctx, userID); err != nil {
		return Account{}, err
	} else if ok {
		return accountFor(acct.AccountID), nil
	}

	// Coalesce concurrent first-use calls within this process; the unique key
	// on user_id settles races between processes.
	v, err, _ := b.group.Do(userID, func() (any, error) {
		return b.create(ctx, userID)
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

// isPlaceholder reports whether accountID was generated locally.
func isPlaceholder(accountID string) bool {
	return strings.HasPrefix(accountID, PlaceholderPrefix) || strings.HasPrefix(accountID, legacyPlaceholderPrefix)
}

func accountFor(accountID string) Account {
	return Account{AccountID: accountID, Placeholder: isPlaceholder(accountID)}
}

func (b *IdentityBridge) lookup(ctx context.Context, userID string) (models.LedgerAccount, bool, error) {
	var acct models.LedgerAccount
	err := b.DB.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return acct, false, nil
	}
	if err != nil {
		return acct, false, fmt.Errorf("lookup ledger account: %w", err)
	}
	return acct, true, nil
}

func (b *IdentityBridge) create(ctx context.Context, userID string) (Account, error) {
	// Another caller may have finished while we waited on the group.
	if acct, ok, err := b.lookup(ctx, userID); err != nil {
		return Account{}, err
	} else if ok {
		return accountFor(acct.AccountID), nil
	}

	log := b.Log.WithField("user_id", userID)

	externalID, err := b.Ledger.CreateAccount(ctx)
	if err != nil {
		log.WithError(err).Warn("ledger account creation failed, using placeholder")
		return Account{AccountID: PlaceholderPrefix + uuid.NewString(), Placeholder: true}, nil
	}

	row := models.LedgerAccount{UserID: userID, AccountID: externalID}
	if err := b.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil {
		return Account{}, fmt.Errorf("%w: persist mapping: %v", ErrAccountUnavailable, err)
	}

	winner, ok, err := b.lookup(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, fmt.Errorf("%w: mapping vanished after insert", ErrAccountUnavailable)
	}
	if winner.AccountID != externalID {
		log.WithFields(logrus.Fields{
			"orphaned_account": externalID,
			"account_id":       winner.AccountID,
		}).Warn("lost ledger account race, external account orphaned")
	} else {
		log.WithField("account_id", externalID).Info("🔗 ledger account linked")
	}
	return accountFor(winner.AccountID), nil
}
