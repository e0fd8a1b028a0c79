package request

import (
	"time"

	"github.com/sudo-init-do/skillhub/internal/pricing"
)

// Status is the request lifecycle state.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusApproved          Status = "APPROVED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusDelivered         Status = "DELIVERED"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AttributeResponse answers one intake question. Text questions use Answer,
// multiselect questions use Selected.
type AttributeResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer,omitempty"`
	Selected []string `json:"selected,omitempty"`
}

// Request is a client's service order. Invariant held across every
// transition: CreditCost == BaseCreditCost + PriorityCreditCost + the sum of
// paid revision surcharges.
type Request struct {
	ID                   string              `json:"id"`
	ClientID             string              `json:"client_id"`
	ProviderID           *string             `json:"provider_id,omitempty"`
	ServiceTypeID        string              `json:"service_type_id"`
	SubscriptionID       string              `json:"subscription_id"`
	Status               Status              `json:"status"`
	Priority             pricing.Priority    `json:"priority"`
	CreditCost           int                 `json:"credit_cost"`
	BaseCreditCost       int                 `json:"base_credit_cost"`
	PriorityCreditCost   int                 `json:"priority_credit_cost"`
	CurrentRevisionCount int                 `json:"current_revision_count"`
	TotalRevisions       int                 `json:"total_revisions"`
	IsRevision           bool                `json:"is_revision"`
	RevisionType         *string             `json:"revision_type,omitempty"`
	AttributeResponses   []AttributeResponse `json:"attribute_responses"`
	Rating               *int                `json:"rating,omitempty"`
	RatingComment        *string             `json:"rating_comment,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
}
