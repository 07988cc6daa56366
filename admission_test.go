package kpata

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

func seedCredits(ds *fakeDataSource, accountID string, amount int64) {
	ds.entries = append(ds.entries, model.CreditEntry{
		EntryID: model.GenerateUUIDWithSuffix("ent"), AccountID: accountID,
		Amount: amount, Reason: model.EntryReasonPurchase,
	})
}

func TestAdmitCreatesJobAndDebits(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	seedCredits(ds, "acc_1", 5)

	resp, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:       "acc_1",
		SourceChannel:   "telegram",
		SourceMessageID: gofakeit.UUID(),
		Category:        "clothing",
		TemplateLayout:  LayoutA,
	})
	require.NoError(t, err)
	assert.True(t, resp.WasCreated)
	assert.Equal(t, int64(4), resp.BalanceAfter)
	assert.Equal(t, model.JobStatusQueued, resp.Job.Status)
	assert.Equal(t, model.PriorityLow, resp.Job.Priority)
	assert.Contains(t, resp.Job.JobID, "job_")
}

func TestAdmitDuplicateReturnsExistingWithoutSecondDebit(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	seedCredits(ds, "acc_1", 5)

	req := &AdmissionRequest{
		AccountID:       "acc_1",
		SourceChannel:   "telegram",
		SourceMessageID: "msg-77",
		Category:        "clothing",
	}

	first, err := k.Admit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.WasCreated)

	second, err := k.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.WasCreated)
	assert.Equal(t, first.Job.JobID, second.Job.JobID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)
}

func TestAdmitInsufficientCredits(t *testing.T) {
	k, _, _, _ := newTestKpata(t)

	_, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_broke",
		SourceChannel: "telegram",
		Category:      "clothing",
	})
	require.Error(t, err)
}

func TestAdmitMannequinCostsTwo(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	seedCredits(ds, "acc_1", 5)

	resp, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_1",
		SourceChannel: "telegram",
		Category:      "clothing",
		MannequinMode: "ghost",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.BalanceAfter)
}

func TestAdmitPaidTierGetsHighPriority(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	ds.accounts["acc_paid"] = &model.Account{AccountID: "acc_paid", Tier: "paid", Locale: "uz", Status: model.AccountStatusActive, UpdatedAt: time.Now()}
	seedCredits(ds, "acc_paid", 3)

	resp, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_paid",
		SourceChannel: "telegram",
		Category:      "shoes",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, resp.Job.Priority)
}

func TestAdmitRejectsBannedAccount(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	ds.accounts["acc_banned"] = &model.Account{AccountID: "acc_banned", Tier: "free", Locale: "uz", ViolationCount: 3, Status: model.AccountStatusBanned, UpdatedAt: time.Now()}

	_, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_banned",
		SourceChannel: "telegram",
		Category:      "clothing",
	})
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrForbidden, apiErr.Code)
}

func TestAdmitRejectsDuringCooldown(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	ds.accounts["acc_cool"] = &model.Account{AccountID: "acc_cool", Tier: "free", Locale: "uz", ViolationCount: 2, Status: model.AccountStatusActive, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	seedCredits(ds, "acc_cool", 5)

	_, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_cool",
		SourceChannel: "telegram",
		Category:      "clothing",
	})
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrForbidden, apiErr.Code)
}

func TestAdmitCooldownExpiredWithoutNewViolation(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	// The second violation was over a day ago; the block lifts by itself.
	ds.accounts["acc_cool"] = &model.Account{AccountID: "acc_cool", Tier: "free", Locale: "uz", ViolationCount: 2, Status: model.AccountStatusActive, UpdatedAt: time.Now().Add(-25 * time.Hour)}
	seedCredits(ds, "acc_cool", 5)

	resp, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_cool",
		SourceChannel: "telegram",
		Category:      "clothing",
	})
	require.NoError(t, err)
	assert.True(t, resp.WasCreated)
}

func TestAdmitFlaggedImageRecordsViolation(t *testing.T) {
	k, ds, _, _ := newTestKpata(t)
	k.nsfw = &fakeNSFW{flagged: true, label: "nudity"}
	seedCredits(ds, "acc_1", 5)

	_, err := k.Admit(context.Background(), &AdmissionRequest{
		AccountID:     "acc_1",
		SourceChannel: "telegram",
		Category:      "clothing",
		ImagePayload:  []byte{0xff, 0xd8},
	})
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrRejectedContent, apiErr.Code)
	require.Len(t, ds.violations, 1)
	assert.Equal(t, "nsfw_image", ds.violations[0].Type)

	// No job and no debit for a rejected submission.
	balance, err := ds.Balance(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestAdmitValidatesInput(t *testing.T) {
	k, _, _, _ := newTestKpata(t)

	_, err := k.Admit(context.Background(), &AdmissionRequest{SourceChannel: "telegram"})
	require.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
}
