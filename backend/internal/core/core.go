// Package core is the single entry point transports use. It resolves
// identities, drives the card/context flow and reads an account's contacts.
package core

import (
	"context"
	"time"

	"bimoi/backend/internal/contacts"
	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/flow"
	"bimoi/backend/internal/identity"
	"bimoi/backend/internal/metrics"
	"bimoi/backend/internal/phone"
)

// Store is everything the core persists: identities, contacts and pending
// cards. Both the graph repository and the memory store satisfy it.
type Store interface {
	identity.Store
	contacts.Store
	flow.PendingStore
}

// Options tune the core; zero values fall back to package defaults
type Options struct {
	Channels    []string
	PhoneRegion string
	PendingTTL  time.Duration
	Epoch       string
	Instance    string
	Metrics     *metrics.Collector
	Clock       func() time.Time
}

// Core wires the resolver, the contact service and the flow coordinator
// around one store.
type Core struct {
	identities *identity.Resolver
	contacts   *contacts.Service
	flows      *flow.Coordinator
}

// New creates a core over store
func New(store Store, opts Options) *Core {
	phones := phone.NewNormalizer(opts.PhoneRegion)

	resolverOpts := []identity.Option{
		identity.WithPhoneNormalizer(phones),
		identity.WithMetrics(opts.Metrics),
	}
	if len(opts.Channels) > 0 {
		resolverOpts = append(resolverOpts, identity.WithChannels(opts.Channels))
	}
	flowOpts := []flow.Option{
		flow.WithEpoch(opts.Epoch),
		flow.WithInstance(opts.Instance),
		flow.WithTTL(opts.PendingTTL),
		flow.WithMetrics(opts.Metrics),
	}
	if opts.Clock != nil {
		resolverOpts = append(resolverOpts, identity.WithClock(opts.Clock))
		flowOpts = append(flowOpts, flow.WithClock(opts.Clock))
	}

	resolver := identity.NewResolver(store, resolverOpts...)
	svc := contacts.NewService(store, resolver, phones, opts.Metrics)
	if opts.Clock != nil {
		svc.SetClock(opts.Clock)
	}

	return &Core{
		identities: resolver,
		contacts:   svc,
		flows:      flow.NewCoordinator(store, svc, flowOpts...),
	}
}

// Flows exposes the coordinator for the reaper loop
func (c *Core) Flows() *flow.Coordinator {
	return c.flows
}

// ResolveIdentity returns the account bound to (channel, externalID),
// creating it on first sight.
func (c *Core) ResolveIdentity(ctx context.Context, channel, externalID, seedName string) (domain.Resolution, error) {
	return c.identities.Resolve(ctx, channel, externalID, seedName)
}

// FlowState reports idle or the card waiting for context
func (c *Core) FlowState(ctx context.Context, accountID, conversationKey string) (flow.State, error) {
	return c.flows.State(ctx, accountID, conversationKey)
}

// SubmitCard parks card until its context arrives
func (c *Core) SubmitCard(ctx context.Context, accountID, conversationKey string, card domain.ContactCard) (flow.CardOutcome, error) {
	return c.flows.SubmitCard(ctx, accountID, conversationKey, card)
}

// SubmitContext creates the contact from the waiting card and text
func (c *Core) SubmitContext(ctx context.Context, accountID, conversationKey, text string) (*domain.ContactEntry, error) {
	return c.flows.SubmitContext(ctx, accountID, conversationKey, text)
}

// CancelFlow drops the waiting card. It succeeds when nothing is pending.
func (c *Core) CancelFlow(ctx context.Context, accountID, conversationKey string) error {
	_, err := c.flows.Cancel(ctx, accountID, conversationKey)
	return err
}

// HandleEvent routes a classified transport event through the flow
func (c *Core) HandleEvent(ctx context.Context, accountID, conversationKey string, ev flow.Event) (flow.Outcome, error) {
	return c.flows.Handle(ctx, accountID, conversationKey, ev)
}

// CreateContact records a contact directly, without a pending card
func (c *Core) CreateContact(ctx context.Context, accountID string, card domain.ContactCard, contextText string) (*domain.ContactEntry, error) {
	return c.contacts.Create(ctx, accountID, card, contextText, nil)
}

// ListContacts returns the account's contacts oldest first
func (c *Core) ListContacts(ctx context.Context, accountID string) ([]domain.ContactEntry, error) {
	return c.contacts.List(ctx, accountID)
}

// SearchContacts filters contacts by context text
func (c *Core) SearchContacts(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error) {
	return c.contacts.Search(ctx, accountID, keyword)
}

// GetContact returns one contact of the account
func (c *Core) GetContact(ctx context.Context, accountID, contactID string) (*domain.ContactEntry, error) {
	return c.contacts.Get(ctx, accountID, contactID)
}

// AppendContext adds to an existing relationship note
func (c *Core) AppendContext(ctx context.Context, accountID, contactID, text string) (*domain.ContactEntry, error) {
	return c.contacts.AppendContext(ctx, accountID, contactID, text)
}

// Profile returns the account's own profile
func (c *Core) Profile(ctx context.Context, accountID string) (*domain.Account, error) {
	return c.identities.Profile(ctx, accountID)
}

// UpdateProfile sets the given profile fields
func (c *Core) UpdateProfile(ctx context.Context, accountID string, u domain.ProfileUpdate) (*domain.Account, error) {
	return c.identities.UpdateProfile(ctx, accountID, u)
}
