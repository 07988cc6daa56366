package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/model"
)

func accountRow(accountID string, violations int, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"account_id", "tier", "locale", "violation_count", "status", "updated_at", "created_at"}).
		AddRow(accountID, "free", "uz", violations, status, now, now)
}

func TestIncrementViolationCount(t *testing.T) {
	d, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE accounts").
		WithArgs("acc_1").
		WillReturnRows(accountRow("acc_1", 2, model.AccountStatusActive))

	account, err := d.IncrementViolationCount(context.Background(), "acc_1")
	assert.NoError(t, err)
	assert.Equal(t, 2, account.ViolationCount)
	assert.Equal(t, model.AccountStatusActive, account.Status)
}

func TestGetOrCreateAccount(t *testing.T) {
	d, mock, err := newTestDataSource()
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO accounts").
		WithArgs("acc_new").
		WillReturnRows(accountRow("acc_new", 0, model.AccountStatusActive))

	account, err := d.GetOrCreateAccount(context.Background(), "acc_new")
	assert.NoError(t, err)
	assert.Equal(t, "acc_new", account.AccountID)
	assert.Equal(t, 0, account.ViolationCount)
}
