package model

import "time"

const (
	AccountStatusActive = "active"
	AccountStatusBanned = "banned"
)

// Sanction actions in escalation order.
const (
	SanctionWarning  = "warning"
	SanctionCooldown = "cooldown"
	SanctionBan      = "ban"
)

// CooldownWindow is how long an account stays blocked after its second
// violation, anchored to the account's last-updated timestamp.
const CooldownWindow = 24 * time.Hour

// Account is the moderation view of an account: a monotonically
// non-decreasing violation counter and a stored status. The cooldown state
// is never stored; it is re-derived from UpdatedAt on every check.
type Account struct {
	ID             int64     `json:"-"`
	AccountID      string    `json:"account_id"`
	Tier           string    `json:"tier"`
	Locale         string    `json:"locale,omitempty"`
	ViolationCount int       `json:"violation_count"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// SanctionFor maps a violation count to the action taken at that count:
// 1 -> warning, 2 -> cooldown, >=3 -> ban.
func SanctionFor(violationCount int) string {
	switch {
	case violationCount >= 3:
		return SanctionBan
	case violationCount == 2:
		return SanctionCooldown
	default:
		return SanctionWarning
	}
}

// Banned reports whether the account is permanently blocked, either from the
// stored status or from a violation count that mandates a ban the status
// write has not caught up with yet.
func (a *Account) Banned() bool {
	return a.Status == AccountStatusBanned || SanctionFor(a.ViolationCount) == SanctionBan
}

// CooldownRemaining returns how much of the cooldown window is left at the
// given instant, or zero when the account is not cooling down. The expiry is
// computed from the stored timestamp every call so that a restart or clock
// skew only affects computation, never stored state.
func (a *Account) CooldownRemaining(now time.Time) time.Duration {
	if a.Banned() || a.ViolationCount != 2 {
		return 0
	}
	expiry := a.UpdatedAt.Add(CooldownWindow)
	if now.Before(expiry) {
		return expiry.Sub(now)
	}
	return 0
}

// CanCreateJob reports whether the account passes the moderation gate at the
// given instant.
func (a *Account) CanCreateJob(now time.Time) bool {
	if a.Banned() {
		return false
	}
	return a.CooldownRemaining(now) == 0
}

// HighPriority reports whether the account's tier earns the high priority
// queue lane.
func (a *Account) HighPriority() bool {
	return a.Tier == "paid" || a.Tier == "reseller"
}

// Violation is one appended audit row for a recorded content violation.
type Violation struct {
	ID        int64     `json:"-"`
	AccountID string    `json:"account_id"`
	Type      string    `json:"type"`
	Details   string    `json:"details,omitempty"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}
