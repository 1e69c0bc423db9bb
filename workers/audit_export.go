// workers/audit_export.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guild-quest-rewards/models"

	"github.com/sirupsen/logrus"
)

// IntentSource lists confirmed intents in a half-open window.
type IntentSource interface {
	ConfirmedIntents(ctx context.Context, from, to time.Time) ([]models.ClaimIntent, error)
}

// Uploader stores an exported object.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// auditRecord is one JSONL line of the daily export.
type auditRecord struct {
	IntentID     string          `json:"intent_id"`
	UserID       string          `json:"user_id"`
	UnitKind     models.UnitKind `json:"unit_kind"`
	DefinitionID uint            `json:"definition_id"`
	AccountID    string          `json:"account_id"`
	Amount       int64           `json:"amount"`
	NewBalance   *float64        `json:"new_balance,omitempty"`
	Attempts     int             `json:"attempts"`
	ConfirmedAt  *time.Time      `json:"confirmed_at"`
}

// AuditExporter writes each UTC day's confirmed credits to object storage.
type AuditExporter struct {
	Source   IntentSource
	Uploader Uploader
	Prefix   string
	Now      func() time.Time
	Log      logrus.FieldLogger
}

func NewAuditExporter(source IntentSource, uploader Uploader, log logrus.FieldLogger) *AuditExporter {
	return &AuditExporter{
		Source:   source,
		Uploader: uploader,
		Prefix:   "claims",
		Now:      time.Now,
		Log:      log.WithField("worker", "audit_export"),
	}
}

// ExportPreviousDay exports the UTC day before now.
func (a *AuditExporter) ExportPreviousDay(ctx context.Context) error {
	day := a.Now().UTC().AddDate(0, 0, -1)
	_, _, err := a.Export(ctx, day)
	return err
}

// Export uploads the intents confirmed on day's UTC date as JSONL under
// <prefix>/<YYYY-MM-DD>.jsonl. Days with nothing confirmed are skipped.
func (a *AuditExporter) Export(ctx context.Context, day time.Time) (string, int, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	key := fmt.Sprintf("%s/%s.jsonl", a.Prefix, from.Format(time.DateOnly))

	intents, err := a.Source.ConfirmedIntents(ctx, from, to)
	if err != nil {
		return key, 0, fmt.Errorf("failed to load confirmed intents: %w", err)
	}
	if len(intents) == 0 {
		a.Log.WithField("day", from.Format(time.DateOnly)).Info("nothing to export")
		return key, 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, in := range intents {
		if err := enc.Encode(auditRecord{
			IntentID:     in.ID,
			UserID:       in.UserID,
			UnitKind:     in.UnitKind,
			DefinitionID: in.DefinitionID,
			AccountID:    in.AccountID,
			Amount:       in.Amount,
			NewBalance:   in.NewBalance,
			Attempts:     in.Attempts,
			ConfirmedAt:  in.ConfirmedAt,
		}); err != nil {
			return key, 0, err
		}
	}

	if err := a.Uploader.Upload(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
		return key, 0, err
	}
	a.Log.WithFields(logrus.Fields{"key": key, "count": len(intents)}).Info("✅ claim audit exported")
	return key, len(intents), nil
}
