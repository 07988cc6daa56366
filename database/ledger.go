package database

import (
	"context"
	"time"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

// Balance folds the account's append-only entries into its current balance.
// There is no stored balance column to drift out of sync.
func (d Datasource) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := d.Conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_entries WHERE account_id = $1`, accountID).Scan(&balance)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute balance", err)
	}
	return balance, nil
}

func (d Datasource) CreditEntries(ctx context.Context, accountID string) ([]model.CreditEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, account_id, amount, reason, COALESCE(job_id, ''), COALESCE(payment_id, ''), created_at
		FROM credit_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit entries", err)
	}
	defer rows.Close()

	var entries []model.CreditEntry
	for rows.Next() {
		entry := model.CreditEntry{}
		err = rows.Scan(&entry.EntryID, &entry.AccountID, &entry.Amount, &entry.Reason, &entry.JobID, &entry.PaymentID, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan credit entry", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over credit entries", err)
	}

	return entries, nil
}

// RecordEntry appends one immutable signed entry. Refunds and admin
// adjustments are new rows, never mutations of prior entries.
func (d Datasource) RecordEntry(ctx context.Context, entry *model.CreditEntry) (*model.CreditEntry, error) {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("ent")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO credit_entries(entry_id, account_id, amount, reason, job_id, payment_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.EntryID, entry.AccountID, entry.Amount, entry.Reason, entry.JobID, entry.PaymentID, entry.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record credit entry", err)
	}
	return entry, nil
}
