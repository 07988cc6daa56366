package kpata

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/model"
)

// ViolationOutcome is the result of recording one content violation: the
// sanction that applies at the new count and the message to show the user.
type ViolationOutcome struct {
	Action         string `json:"action"`
	ViolationCount int    `json:"violation_count"`
	Message        string `json:"message"`
}

// AdmissionGate is the moderation status consumed by admission.
type AdmissionGate struct {
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason,omitempty"`
	CooldownUntil  time.Time `json:"cooldown_until,omitempty"`
	ViolationCount int       `json:"violation_count"`
	Status         string    `json:"status"`
}

// RecordViolation is the only mutator of an account's violation counter.
// It bumps the monotone count, derives the sanction from the new value
// (1 -> warning, 2 -> cooldown, >=3 -> ban), persists the status only when it
// changed, appends an audit row and returns the localized outcome.
func (l *Kpata) RecordViolation(ctx context.Context, accountID, violationType, details string) (*ViolationOutcome, error) {
	account, err := l.datasource.IncrementViolationCount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	action := model.SanctionFor(account.ViolationCount)
	if action == model.SanctionBan && account.Status != model.AccountStatusBanned {
		if err := l.datasource.UpdateAccountStatus(ctx, accountID, model.AccountStatusBanned); err != nil {
			return nil, err
		}
		account.Status = model.AccountStatusBanned
	}

	if err := l.datasource.InsertViolation(ctx, &model.Violation{
		AccountID: accountID,
		Type:      violationType,
		Details:   details,
		Action:    action,
	}); err != nil {
		// The sanction already took effect; a lost audit row is logged, not
		// surfaced.
		logrus.Errorf("failed to record violation audit row for %s: %v", accountID, err)
	}

	logrus.Infof("violation recorded for account %s: count=%d action=%s", accountID, account.ViolationCount, action)

	return &ViolationOutcome{
		Action:         action,
		ViolationCount: account.ViolationCount,
		Message:        l.sanctionMessage(account, action),
	}, nil
}

// CanCreateJob is the read-only moderation gate. Cooldown expiry is
// re-derived from the stored timestamp on every call; nothing is cached or
// written here.
func (l *Kpata) CanCreateJob(ctx context.Context, accountID string) (*AdmissionGate, error) {
	account, err := l.datasource.GetOrCreateAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return gateFor(account, time.Now()), nil
}

func gateFor(account *model.Account, now time.Time) *AdmissionGate {
	gate := &AdmissionGate{
		Allowed:        true,
		ViolationCount: account.ViolationCount,
		Status:         account.Status,
	}

	if account.Banned() {
		gate.Allowed = false
		gate.Reason = localizedMessage(account.Locale, "admission_banned")
		return gate
	}

	if remaining := account.CooldownRemaining(now); remaining > 0 {
		gate.Allowed = false
		gate.CooldownUntil = account.UpdatedAt.Add(model.CooldownWindow)
		gate.Reason = localizedMessage(account.Locale, "admission_cooldown", remainingHours(remaining))
	}
	return gate
}

func (l *Kpata) sanctionMessage(account *model.Account, action string) string {
	switch action {
	case model.SanctionCooldown:
		return localizedMessage(account.Locale, "moderation_cooldown", remainingHours(account.CooldownRemaining(time.Now())))
	case model.SanctionBan:
		return localizedMessage(account.Locale, "moderation_ban")
	default:
		return localizedMessage(account.Locale, "moderation_warning")
	}
}

// remainingHours rounds a duration up to whole hours so a user is never told
// zero hours while still blocked.
func remainingHours(d time.Duration) int {
	return int(math.Ceil(d.Hours()))
}
