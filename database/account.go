package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

const accountColumns = `account_id, tier, locale, violation_count, status, updated_at, created_at`

func scanAccount(row *sql.Row) (*model.Account, error) {
	account := &model.Account{}
	err := row.Scan(&account.AccountID, &account.Tier, &account.Locale, &account.ViolationCount,
		&account.Status, &account.UpdatedAt, &account.CreatedAt)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (d Datasource) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, accountID)
	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", accountID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}
	return account, nil
}

func (d Datasource) GetOrCreateAccount(ctx context.Context, accountID string) (*model.Account, error) {
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO accounts(account_id) VALUES ($1)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING `+accountColumns, accountID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get or create account", err)
	}
	return account, nil
}

// IncrementViolationCount bumps the monotone counter and refreshes the
// cooldown anchor timestamp, returning the updated moderation view.
func (d Datasource) IncrementViolationCount(ctx context.Context, accountID string) (*model.Account, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE accounts
		SET violation_count = violation_count + 1, updated_at = NOW()
		WHERE account_id = $1
		RETURNING `+accountColumns, accountID)
	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", accountID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment violation count", err)
	}
	return account, nil
}

func (d Datasource) UpdateAccountStatus(ctx context.Context, accountID, status string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE accounts SET status = $2, updated_at = NOW() WHERE account_id = $1`, accountID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", accountID), nil)
	}
	return nil
}

func (d Datasource) InsertViolation(ctx context.Context, violation *model.Violation) error {
	if violation.CreatedAt.IsZero() {
		violation.CreatedAt = time.Now()
	}
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO violations(account_id, type, details, action, created_at) VALUES ($1,$2,$3,$4,$5)`,
		violation.AccountID, violation.Type, violation.Details, violation.Action, violation.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert violation", err)
	}
	return nil
}
