package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/catalog"
	"github.com/sudo-init-do/skillhub/internal/ledger"
	"github.com/sudo-init-do/skillhub/internal/metrics"
	"github.com/sudo-init-do/skillhub/internal/notify"
	"github.com/sudo-init-do/skillhub/internal/pricing"
)

var (
	ErrNotFound       = errors.New("request: not found")
	ErrAlreadyClaimed = errors.New("request: already claimed by another provider")
	ErrNotOwner       = errors.New("request: not the request owner")
	ErrNotAssigned    = errors.New("request: not the assigned provider")
	ErrAlreadyRated   = errors.New("request: already rated")
	ErrInvalidRating  = errors.New("request: rating must be between 1 and 5")
)

// InvalidTransitionError reports an illegal lifecycle move. These are
// business-rule violations; callers must not retry them.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.Current, e.Requested)
}

// ValidationError lists required intake questions left unanswered.
type ValidationError struct {
	Missing []string
}

func (e ValidationError) Error() string {
	return "missing required answers: " + strings.Join(e.Missing, ", ")
}

// Store is the request persistence. The multi-record operations
// (CreateWithDebit, RevisionWithDebit, CancelWithRefund) are single
// transactions pairing the request write with the subscription update; their
// bool result is the conditional-debit outcome.
type Store interface {
	Get(ctx context.Context, id string) (*Request, error)
	CreateWithDebit(ctx context.Context, req *Request) (bool, error)
	Claim(ctx context.Context, id, providerID string) (bool, error)
	Transition(ctx context.Context, id string, from, to Status, completedAt *time.Time) (bool, error)
	RevisionWithDebit(ctx context.Context, id string, from Status, subscriptionID string, debit int, kind pricing.RevisionKind) (bool, error)
	CancelWithRefund(ctx context.Context, id string, subscriptionID string, refund int) (bool, error)
	Rate(ctx context.Context, id string, rating int, comment *string) (bool, error)
	ListOpen(ctx context.Context) ([]Request, error)
	ListForUser(ctx context.Context, userID string) ([]Request, error)
}

// Ledger is the slice of the credit ledger the state machine consults.
type Ledger interface {
	Active(ctx context.Context, userID string) (*ledger.Subscription, error)
	Package(ctx context.Context, packageID string) (*ledger.Package, error)
}

// Notifier delivers durable notifications with best-effort live push.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ notify.PayloadType, title, message string, link *string) (string, error)
}

// Service runs the request lifecycle: role-gated transitions, cost
// computation, and the paired ledger movements.
type Service struct {
	store    Store
	catalog  catalog.Store
	ledger   Ledger
	notifier Notifier
	cache    cache.Invalidator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, cat catalog.Store, led Ledger, n Notifier, inv cache.Invalidator, log *slog.Logger) *Service {
	return &Service{store: store, catalog: cat, ledger: led, notifier: n, cache: inv, log: log, now: time.Now}
}

// Create validates the intake answers, prices the request, and persists it
// paired with the ledger debit. Either both the debit and the row land, or
// neither does. The new request enters PENDING unassigned.
func (s *Service) Create(ctx context.Context, clientID, serviceTypeID string, priority pricing.Priority, responses []AttributeResponse) (*Request, error) {
	st, err := s.catalog.Get(ctx, serviceTypeID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, catalog.ErrNotFound
	}

	if err := validateResponses(st.Attributes, responses); err != nil {
		return nil, err
	}

	creditCost, err := pricing.CreationCost(st.BaseCreditCost, priority, st.PriorityCosts)
	if err != nil {
		return nil, err
	}

	sub, err := s.ledger.Active(ctx, clientID)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:                 uuid.New().String(),
		ClientID:           clientID,
		ServiceTypeID:      st.ID,
		SubscriptionID:     sub.ID,
		Status:             StatusPending,
		Priority:           priority,
		CreditCost:         creditCost,
		BaseCreditCost:     st.BaseCreditCost,
		PriorityCreditCost: creditCost - st.BaseCreditCost,
		AttributeResponses: responses,
		CreatedAt:          s.now(),
	}

	ok, err := s.store.CreateWithDebit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.InsufficientCredits.Inc()
		return nil, ledger.InsufficientCreditsError{Required: req.CreditCost, Available: sub.RemainingCredits}
	}

	metrics.RequestsCreated.Inc()
	metrics.CreditsDebited.Add(float64(req.CreditCost))
	s.invalidate(ctx, req)
	s.notifyQuiet(ctx, clientID, notify.TypeGeneral, "Request received",
		fmt.Sprintf("Your %s request was created and %d credits were reserved.", st.Name, req.CreditCost), req.ID)
	return req, nil
}

// Claim assigns the request to a provider and approves it in one conditional
// update, so two providers racing the same open listing cannot both win.
func (s *Service) Claim(ctx context.Context, id, providerID string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusApproved}
	}

	ok, err := s.store.Claim(ctx, id, providerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}

	metrics.RequestTransitions.WithLabelValues(string(StatusApproved)).Inc()
	s.invalidate(ctx, req)
	s.notifyQuiet(ctx, req.ClientID, notify.TypeAssignment, "Request accepted",
		"A provider accepted your request and will start soon.", req.ID)
	return s.store.Get(ctx, id)
}

// Start moves an approved (or revision-requested) request into work. Provider
// action, restricted to the assigned provider.
func (s *Service) Start(ctx context.Context, id, providerID string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved && req.Status != StatusRevisionRequested {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusInProgress}
	}
	if req.ProviderID == nil || *req.ProviderID != providerID {
		return nil, ErrNotAssigned
	}

	if err := s.transition(ctx, req, StatusInProgress, nil); err != nil {
		return nil, err
	}
	s.notifyQuiet(ctx, req.ClientID, notify.TypeStatusChange, "Work started",
		"Your provider started working on the request.", req.ID)
	return s.store.Get(ctx, id)
}

// Deliver hands the work product back to the client for review.
func (s *Service) Deliver(ctx context.Context, id, providerID string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusInProgress {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusDelivered}
	}
	if req.ProviderID == nil || *req.ProviderID != providerID {
		return nil, ErrNotAssigned
	}

	if err := s.transition(ctx, req, StatusDelivered, nil); err != nil {
		return nil, err
	}
	s.notifyQuiet(ctx, req.ClientID, notify.TypeStatusChange, "Request delivered",
		"Your request was delivered. Review it and complete, or ask for a revision.", req.ID)
	return s.store.Get(ctx, id)
}

// Complete is the client accepting the delivery. Terminal.
func (s *Service) Complete(ctx context.Context, id, clientID string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, ErrNotOwner
	}
	if req.Status != StatusDelivered {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusCompleted}
	}

	completedAt := s.now()
	if err := s.transition(ctx, req, StatusCompleted, &completedAt); err != nil {
		return nil, err
	}
	if req.ProviderID != nil {
		s.notifyQuiet(ctx, *req.ProviderID, notify.TypeStatusChange, "Request completed",
			"The client accepted your delivery.", req.ID)
	}
	return s.store.Get(ctx, id)
}

// RequestRevision classifies the next revision against the client's package
// quota and, when paid, debits the unit cost in the same transaction that
// moves the request back to REVISION_REQUESTED. A failed debit leaves the
// request DELIVERED.
func (s *Service) RequestRevision(ctx context.Context, id, clientID, feedback string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, ErrNotOwner
	}
	if req.Status != StatusDelivered {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusRevisionRequested}
	}

	sub, err := s.ledger.Active(ctx, clientID)
	if err != nil {
		return nil, err
	}
	pkg, err := s.ledger.Package(ctx, sub.PackageID)
	if err != nil {
		return nil, err
	}

	quote := pricing.QuoteRevision(req.CurrentRevisionCount, pkg.MaxFreeRevisions, pkg.RevisionUnitCost)

	ok, err := s.store.RevisionWithDebit(ctx, id, StatusDelivered, sub.ID, quote.Cost, quote.Kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Zero rows matched either the status guard or the balance guard.
		// Distinguish them: a request that left DELIVERED (a double-submitted
		// revision, say) is a transition failure, not a funds failure.
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status != StatusDelivered {
			return nil, InvalidTransitionError{Current: cur.Status, Requested: StatusRevisionRequested}
		}
		metrics.InsufficientCredits.Inc()
		return nil, ledger.InsufficientCreditsError{Required: quote.Cost, Available: sub.RemainingCredits}
	}

	if quote.Cost > 0 {
		metrics.CreditsDebited.Add(float64(quote.Cost))
	}
	metrics.RequestTransitions.WithLabelValues(string(StatusRevisionRequested)).Inc()
	s.invalidate(ctx, req)
	if req.ProviderID != nil {
		s.notifyQuiet(ctx, *req.ProviderID, notify.TypeMessage, "Revision requested", feedback, req.ID)
	}
	return s.store.Get(ctx, id)
}

// Cancel aborts a non-terminal request and refunds the full credit cost to
// the subscription that paid, in one transaction. Allowed for the owning
// client or an admin.
func (s *Service) Cancel(ctx context.Context, id, actorID, role string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != "admin" && req.ClientID != actorID {
		return nil, ErrNotOwner
	}
	if req.Status.Terminal() {
		return nil, InvalidTransitionError{Current: req.Status, Requested: StatusCancelled}
	}

	ok, err := s.store.CancelWithRefund(ctx, id, req.SubscriptionID, req.CreditCost)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Raced into a terminal state between the read and the update.
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, InvalidTransitionError{Current: cur.Status, Requested: StatusCancelled}
	}

	metrics.RequestTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	metrics.CreditsRefunded.Add(float64(req.CreditCost))
	s.invalidate(ctx, req)
	if req.ProviderID != nil && *req.ProviderID != actorID {
		s.notifyQuiet(ctx, *req.ProviderID, notify.TypeStatusChange, "Request cancelled",
			"The request you were working on was cancelled.", req.ID)
	}
	s.notifyQuiet(ctx, req.ClientID, notify.TypeStatusChange, "Request cancelled",
		fmt.Sprintf("%d credits were refunded to your subscription.", req.CreditCost), req.ID)
	return s.store.Get(ctx, id)
}

// Rate records the client's one-time rating on a completed request.
func (s *Service) Rate(ctx context.Context, id, clientID string, rating int, comment *string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.ClientID != clientID {
		return ErrNotOwner
	}
	if req.Status != StatusCompleted {
		return InvalidTransitionError{Current: req.Status, Requested: StatusCompleted}
	}
	if req.Rating != nil {
		return ErrAlreadyRated
	}

	ok, err := s.store.Rate(ctx, id, rating, comment)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRated
	}
	s.invalidate(ctx, req)
	return nil
}

// Get loads a request, restricted to its participants (or admin).
func (s *Service) Get(ctx context.Context, id, actorID, role string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != "admin" && req.ClientID != actorID &&
		(req.ProviderID == nil || *req.ProviderID != actorID) {
		return nil, ErrNotFound
	}
	return req, nil
}

// CostBreakdown explains how a request's stored total decomposes, using the
// current package unit cost for the multiplier check.
func (s *Service) CostBreakdown(ctx context.Context, id, actorID, role string) (*pricing.Breakdown, error) {
	req, err := s.Get(ctx, id, actorID, role)
	if err != nil {
		return nil, err
	}
	unit := 0
	if sub, err := s.ledger.Active(ctx, req.ClientID); err == nil {
		if pkg, err := s.ledger.Package(ctx, sub.PackageID); err == nil {
			unit = pkg.RevisionUnitCost
		}
	}
	b := pricing.ExplainCost(req.CreditCost, req.BaseCreditCost, req.PriorityCreditCost, unit)
	return &b, nil
}

// ListOpen returns unclaimed PENDING requests, the providers' job board.
func (s *Service) ListOpen(ctx context.Context) ([]Request, error) {
	return s.store.ListOpen(ctx)
}

// ListForUser returns requests the user participates in, either side.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Request, error) {
	return s.store.ListForUser(ctx, userID)
}

func (s *Service) transition(ctx context.Context, req *Request, to Status, completedAt *time.Time) error {
	ok, err := s.store.Transition(ctx, req.ID, req.Status, to, completedAt)
	if err != nil {
		return err
	}
	if !ok {
		cur, err := s.store.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		return InvalidTransitionError{Current: cur.Status, Requested: to}
	}
	metrics.RequestTransitions.WithLabelValues(string(to)).Inc()
	s.invalidate(ctx, req)
	return nil
}

func (s *Service) invalidate(ctx context.Context, req *Request) {
	s.cache.Invalidate(ctx, "request", req.ID,
		"subscription:"+req.SubscriptionID, "user:"+req.ClientID)
}

// notifyQuiet fires a notification without letting a dispatcher failure fail
// the business operation that triggered it.
func (s *Service) notifyQuiet(ctx context.Context, userID string, typ notify.PayloadType, title, message, requestID string) {
	link := "/requests/" + requestID
	if _, err := s.notifier.Notify(ctx, userID, typ, title, message, &link); err != nil {
		s.log.Warn("notification failed", "user", userID, "title", title, "err", err)
	}
}

func validateResponses(specs []catalog.QuestionSpec, responses []AttributeResponse) error {
	byQuestion := make(map[string]AttributeResponse, len(responses))
	for _, r := range responses {
		byQuestion[r.Question] = r
	}

	var missing []string
	for _, q := range specs {
		if !q.Required {
			continue
		}
		resp, ok := byQuestion[q.ID]
		if !ok {
			missing = append(missing, q.Label)
			continue
		}
		switch q.Type {
		case "multiselect":
			if len(resp.Selected) == 0 {
				missing = append(missing, q.Label)
			}
		default:
			if strings.TrimSpace(resp.Answer) == "" {
				missing = append(missing, q.Label)
			}
		}
	}
	if len(missing) > 0 {
		return ValidationError{Missing: missing}
	}
	return nil
}
