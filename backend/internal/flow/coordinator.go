package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/metrics"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/logger"
)

// DefaultPendingTTL is how long a card waits for its context text
const DefaultPendingTTL = 30 * time.Minute

// DefaultInstance names a coordinator that was given no instance name
const DefaultInstance = "default"

// PendingStore persists pending creations in the same store as contacts
type PendingStore interface {
	GetPending(ctx context.Context, accountID, conversationKey string) (*domain.PendingCreation, error)
	PutPending(ctx context.Context, p domain.PendingCreation) (*domain.PendingCreation, error)
	DeletePending(ctx context.Context, accountID, conversationKey, pendingID string) (bool, error)
	// DeleteStalePending removes records received before cutoff and, when
	// instance is set, that instance's records from any epoch but epoch.
	DeleteStalePending(ctx context.Context, instance, epoch string, cutoff time.Time) (int, error)
}

// Contacts is what the coordinator needs from the contact service
type Contacts interface {
	NormalizeCard(card domain.ContactCard) (domain.ContactCard, error)
	FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error)
	Create(ctx context.Context, accountID string, card domain.ContactCard, contextText string, consume *domain.PendingRef) (*domain.ContactEntry, error)
}

// State is the observable flow state for one (account, conversation) key
type State struct {
	State   domain.FlowState        `json:"state"`
	Pending *domain.PendingCreation `json:"pending,omitempty"`
}

// CardOutcome is the result of accepting a card
type CardOutcome struct {
	State
	// Superseded is the card that was waiting before this one, if any
	Superseded *domain.ContactCard `json:"superseded,omitempty"`
}

// Coordinator runs the idle -> card_received -> idle state machine. It keeps
// no state of its own: every pending card lives in the store, tagged with the
// coordinator's instance and epoch. A restarted instance comes back idle for
// its own cards; cards taken by other instances only expire by TTL.
type Coordinator struct {
	pending  PendingStore
	contacts Contacts
	instance string
	epoch    string
	ttl      time.Duration
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithEpoch fixes the epoch. By default every coordinator gets a fresh one.
func WithEpoch(epoch string) Option {
	return func(c *Coordinator) {
		if epoch != "" {
			c.epoch = epoch
		}
	}
}

// WithInstance names the process. Instances sharing a store must use
// distinct names, and a restarted process must keep its name.
func WithInstance(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.instance = name
		}
	}
}

// WithTTL sets how long a pending card stays valid
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMetrics records transitions on m
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator
func NewCoordinator(pending PendingStore, contacts Contacts, opts ...Option) *Coordinator {
	c := &Coordinator{
		pending:  pending,
		contacts: contacts,
		instance: DefaultInstance,
		epoch:    uuid.New().String(),
		ttl:      DefaultPendingTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Epoch returns the coordinator's epoch
func (c *Coordinator) Epoch() string {
	return c.epoch
}

// Instance returns the coordinator's instance name
func (c *Coordinator) Instance() string {
	return c.instance
}

// State reports whether a card is waiting for context under the key
func (c *Coordinator) State(ctx context.Context, accountID, conversationKey string) (State, error) {
	if err := checkKey(accountID, conversationKey); err != nil {
		return State{}, err
	}
	p, err := c.live(ctx, accountID, conversationKey)
	if err != nil {
		return State{}, err
	}
	return stateOf(p), nil
}

// SubmitCard stores card as the pending card for the key, replacing any
// card already waiting there. Invalid and duplicate cards leave the state
// unchanged.
func (c *Coordinator) SubmitCard(ctx context.Context, accountID, conversationKey string, card domain.ContactCard) (CardOutcome, error) {
	if err := checkKey(accountID, conversationKey); err != nil {
		return CardOutcome{}, err
	}
	card, err := c.contacts.NormalizeCard(card)
	if err != nil {
		return CardOutcome{}, err
	}

	dup, matched, err := c.contacts.FindDuplicate(ctx, accountID, card)
	if err != nil {
		return CardOutcome{}, err
	}
	if dup != nil {
		c.metrics.FlowTransition("card_duplicate")
		return CardOutcome{}, apperrors.NewDuplicateContact(dup.ID, dup.Name, matched)
	}

	p := domain.PendingCreation{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		ConversationKey: conversationKey,
		Card:            card,
		ReceivedAt:      c.now(),
		Instance:        c.instance,
		Epoch:           c.epoch,
	}
	prev, err := c.pending.PutPending(ctx, p)
	if err != nil {
		return CardOutcome{}, fmt.Errorf("failed to store pending card: %w", err)
	}

	out := CardOutcome{State: stateOf(&p)}
	if prev != nil && c.isLive(prev) {
		superseded := prev.Card
		out.Superseded = &superseded
		c.metrics.FlowTransition("card_superseded")
		c.logger.Info("Pending card superseded",
			zap.String("account_id", accountID),
			zap.String("conversation_key", conversationKey),
			zap.String("previous_pending_id", prev.ID))
	} else {
		c.metrics.FlowTransition("card_received")
	}
	return out, nil
}

// SubmitContext completes the pending flow with text. Blank text is not a
// context: the card keeps waiting. A rejected creation discards the card;
// a store outage keeps it so the same call can be retried.
func (c *Coordinator) SubmitContext(ctx context.Context, accountID, conversationKey, text string) (*domain.ContactEntry, error) {
	if err := checkKey(accountID, conversationKey); err != nil {
		return nil, err
	}
	p, err := c.live(ctx, accountID, conversationKey)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NewNoPendingFlow(accountID, conversationKey)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("context", "must not be empty")
	}

	entry, err := c.contacts.Create(ctx, accountID, p.Card, text, p.Ref())
	if err == nil {
		c.metrics.FlowTransition("completed")
		return entry, nil
	}

	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeDuplicate),
		apperrors.IsErrorType(err, apperrors.ErrorTypeValidation):
		if _, delErr := c.pending.DeletePending(ctx, accountID, conversationKey, p.ID); delErr != nil {
			c.logger.Warn("Failed to discard rejected pending card",
				zap.String("account_id", accountID),
				zap.String("conversation_key", conversationKey),
				zap.Error(delErr))
		}
		c.metrics.FlowTransition("rejected")
		c.logger.Info("Pending card rejected",
			zap.String("account_id", accountID),
			zap.String("conversation_key", conversationKey),
			zap.Error(err))
	}
	return nil, err
}

// Cancel discards the pending card for the key, if any
func (c *Coordinator) Cancel(ctx context.Context, accountID, conversationKey string) (bool, error) {
	if err := checkKey(accountID, conversationKey); err != nil {
		return false, err
	}
	deleted, err := c.pending.DeletePending(ctx, accountID, conversationKey, "")
	if err != nil {
		return false, fmt.Errorf("failed to cancel flow: %w", err)
	}
	if deleted {
		c.metrics.FlowTransition("cancelled")
	}
	return deleted, nil
}

// live returns the pending record unless it expired or was left behind by an
// earlier boot of this instance. Stale records are deleted on sight.
func (c *Coordinator) live(ctx context.Context, accountID, conversationKey string) (*domain.PendingCreation, error) {
	p, err := c.pending.GetPending(ctx, accountID, conversationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending card: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	if c.isLive(p) {
		return p, nil
	}
	if _, err := c.pending.DeletePending(ctx, accountID, conversationKey, p.ID); err != nil {
		return nil, fmt.Errorf("failed to discard stale pending card: %w", err)
	}
	c.metrics.FlowTransition("expired")
	return nil, nil
}

func (c *Coordinator) isLive(p *domain.PendingCreation) bool {
	if c.now().Sub(p.ReceivedAt) >= c.ttl {
		return false
	}
	return p.Instance != c.instance || p.Epoch == c.epoch
}

func stateOf(p *domain.PendingCreation) State {
	if p == nil {
		return State{State: domain.StateIdle}
	}
	return State{State: domain.StateCardReceived, Pending: p}
}

func checkKey(accountID, conversationKey string) error {
	if strings.TrimSpace(accountID) == "" {
		return apperrors.NewValidation("account_id", "is required")
	}
	if strings.TrimSpace(conversationKey) == "" {
		return apperrors.NewValidation("conversation_key", "is required")
	}
	return nil
}
