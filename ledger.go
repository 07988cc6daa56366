package kpata

import (
	"context"

	"github.com/marcdevi/kpata/internal/apierror"
	"github.com/marcdevi/kpata/model"
)

// BalanceView is an account's current balance with its recent entries.
type BalanceView struct {
	AccountID string              `json:"account_id"`
	Balance   int64               `json:"balance"`
	Entries   []model.CreditEntry `json:"entries,omitempty"`
}

// GetBalance sums the account's ledger and returns it with the entry history.
func (l *Kpata) GetBalance(ctx context.Context, accountID string) (*BalanceView, error) {
	balance, err := l.datasource.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := l.datasource.CreditEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{AccountID: accountID, Balance: balance, Entries: entries}, nil
}

// GrantCredits appends a positive entry from a purchase or an admin
// adjustment. Debits never go through here; they only happen inside
// admission.
func (l *Kpata) GrantCredits(ctx context.Context, accountID string, amount int64, reason, paymentID string) (*model.CreditEntry, error) {
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Credit amount must be positive", nil)
	}
	switch reason {
	case model.EntryReasonPurchase, model.EntryReasonAdjustment:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown credit reason", map[string]interface{}{"reason": reason})
	}

	if _, err := l.datasource.GetOrCreateAccount(ctx, accountID); err != nil {
		return nil, err
	}

	return l.datasource.RecordEntry(ctx, &model.CreditEntry{
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		PaymentID: paymentID,
	})
}
