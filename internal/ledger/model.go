package ledger

import "time"

// Subscription owns a user's credit balance for one purchased package.
// Soft lifecycle only: rows are deactivated, never deleted.
type Subscription struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	PackageID        string     `json:"package_id"`
	RemainingCredits int        `json:"remaining_credits"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	IsActive         bool       `json:"is_active"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

// Package is a purchasable credit bundle. It also carries the revision
// policy: how many free revisions a request gets and what each paid one
// costs once the quota is spent.
type Package struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Credits          int    `json:"credits"`
	DurationDays     int    `json:"duration_days"`
	MaxFreeRevisions int    `json:"max_free_revisions"`
	RevisionUnitCost int    `json:"revision_unit_cost"`
	IsActive         bool   `json:"is_active"`
}
