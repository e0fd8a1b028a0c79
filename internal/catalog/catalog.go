// Package catalog is the read side of the admin-owned service type records.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/skillhub/internal/pricing"
)

var ErrNotFound = errors.New("catalog: service type not found")

// QuestionSpec describes one intake question a service type asks at request
// creation. Type is "text" or "multiselect".
type QuestionSpec struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type ServiceType struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	BaseCreditCost int                   `json:"base_credit_cost"`
	PriorityCosts  pricing.PriorityCosts `json:"priority_costs"`
	Attributes     []QuestionSpec        `json:"attributes"`
	IsActive       bool                  `json:"is_active"`
}

type Store interface {
	Get(ctx context.Context, id string) (*ServiceType, error)
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{db: db} }

func (p *PgStore) Get(ctx context.Context, id string) (*ServiceType, error) {
	var st ServiceType
	err := p.db.QueryRow(ctx,
		`SELECT id, name, base_credit_cost, priority_cost_low, priority_cost_medium,
		        priority_cost_high, attributes, is_active
		 FROM service_types WHERE id = $1`, id).
		Scan(&st.ID, &st.Name, &st.BaseCreditCost, &st.PriorityCosts.Low,
			&st.PriorityCosts.Medium, &st.PriorityCosts.High, &st.Attributes, &st.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}
