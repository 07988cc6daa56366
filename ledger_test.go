package kpata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/model"
)

func TestGrantCredits(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)

	entry, err := k.GrantCredits(context.Background(), "acc_1", 10, model.EntryReasonPurchase, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, int64(10), entry.Amount)
	assert.Contains(t, entry.EntryID, "ent_")

	balance, err := ds.Balance(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestGrantCreditsRejectsInvalid(t *testing.T) {
	k, _, _, _ := newTestKpata(t)
	ctx := context.Background()

	_, err := k.GrantCredits(ctx, "acc_1", 0, model.EntryReasonPurchase, "")
	require.Error(t, err)

	_, err = k.GrantCredits(ctx, "acc_1", -5, model.EntryReasonPurchase, "")
	require.Error(t, err)

	// Debits only happen inside admission.
	_, err = k.GrantCredits(ctx, "acc_1", 5, model.EntryReasonGeneration, "")
	require.Error(t, err)
}

func TestGetBalanceIncludesEntries(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	seedCredits(ds, "acc_1", 5)
	seedCredits(ds, "acc_1", 3)

	view, err := k.GetBalance(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), view.Balance)
	assert.Len(t, view.Entries, 2)
}
