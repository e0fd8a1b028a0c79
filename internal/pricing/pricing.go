// Package pricing holds the pure credit arithmetic: creation cost, revision
// classification against the package quota, and the stored-total breakdown.
package pricing

import "fmt"

// Priority tiers map to per-service surcharges.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// InvalidPriorityError reports a priority outside {1,2,3}.
type InvalidPriorityError struct {
	Priority int
}

func (e InvalidPriorityError) Error() string {
	return fmt.Sprintf("invalid priority %d (must be 1, 2 or 3)", e.Priority)
}

// PriorityCosts is the per-service surcharge table.
type PriorityCosts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DefaultPriorityCosts applies when a service has no surcharge table set.
var DefaultPriorityCosts = PriorityCosts{Low: 0, Medium: 1, High: 2}

// For returns the surcharge for a tier.
func (p PriorityCosts) For(pr Priority) (int, error) {
	switch pr {
	case PriorityLow:
		return p.Low, nil
	case PriorityMedium:
		return p.Medium, nil
	case PriorityHigh:
		return p.High, nil
	default:
		return 0, InvalidPriorityError{Priority: int(pr)}
	}
}

// CreationCost is base cost plus the tier surcharge.
func CreationCost(baseCost int, pr Priority, table PriorityCosts) (int, error) {
	surcharge, err := table.For(pr)
	if err != nil {
		return 0, err
	}
	return baseCost + surcharge, nil
}

// RevisionKind classifies a revision as inside or past the free quota.
type RevisionKind string

const (
	RevisionFree RevisionKind = "free"
	RevisionPaid RevisionKind = "paid"
)

// RevisionQuote is the price of the next revision on a request.
type RevisionQuote struct {
	Cost int
	Kind RevisionKind
}

// QuoteRevision prices the next revision. A revision is free while the
// request's revision count is still below the package quota; after that every
// revision costs the package's unit cost.
func QuoteRevision(currentRevisionCount, freeRevisionsAllowed, paidUnitCost int) RevisionQuote {
	if currentRevisionCount < freeRevisionsAllowed {
		return RevisionQuote{Cost: 0, Kind: RevisionFree}
	}
	return RevisionQuote{Cost: paidUnitCost, Kind: RevisionPaid}
}

// Breakdown reconstructs how a stored credit total decomposes. The paid
// revision part only claims a unit multiplier when unit×count reproduces the
// stored total exactly; otherwise RevisionCount stays 0 and the raw delta is
// reported. Historical requests priced under an older unit cost fall into the
// raw branch rather than showing a multiplier that doesn't add up.
type Breakdown struct {
	Base          int  `json:"base"`
	Priority      int  `json:"priority"`
	RevisionTotal int  `json:"revision_total"`
	RevisionUnit  int  `json:"revision_unit,omitempty"`
	RevisionCount int  `json:"revision_count,omitempty"`
	Exact         bool `json:"exact"`
}

// ExplainCost derives the breakdown from the stored request figures.
func ExplainCost(creditCost, baseCost, priorityCost, revisionUnitCost int) Breakdown {
	b := Breakdown{
		Base:          baseCost,
		Priority:      priorityCost,
		RevisionTotal: creditCost - baseCost - priorityCost,
	}
	if b.RevisionTotal > 0 && revisionUnitCost > 0 && b.RevisionTotal%revisionUnitCost == 0 {
		b.RevisionUnit = revisionUnitCost
		b.RevisionCount = b.RevisionTotal / revisionUnitCost
		b.Exact = true
	}
	return b
}
