// Package memory is an in-process store with the same transactional
// semantics as the graph repository. Every operation holds one mutex, which
// plays the role of a transaction. It backs unit tests and STORE_BACKEND=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/logger"
)

type person struct {
	id         string
	name       string
	phone      string
	externalID string
	channel    string
	createdAt  time.Time
	registered bool
}

type knows struct {
	targetID string
	card     domain.ContactCard
	context  domain.RelationshipContext
}

type bindingKey struct{ channel, externalID string }

type pendingKey struct{ accountID, conversationKey string }

// Store keeps accounts, contacts and pending flows in memory
type Store struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	bindings map[bindingKey]domain.ChannelIdentity
	people   map[string]*person
	edges    map[string][]*knows // owner account id -> edges in creation order
	pending  map[pendingKey]domain.PendingCreation
	logger   *zap.Logger
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		bindings: make(map[bindingKey]domain.ChannelIdentity),
		people:   make(map[string]*person),
		edges:    make(map[string][]*knows),
		pending:  make(map[pendingKey]domain.PendingCreation),
		logger:   logger.Get(),
	}
}

// ============================================================================
// Identity Operations
// ============================================================================

// LookupIdentity returns the account bound to (channel, externalID)
func (s *Store) LookupIdentity(ctx context.Context, channel, externalID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, apperrors.NewStorageUnavailable("lookup_identity", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingKey{channel, externalID}]
	return b.AccountID, ok, nil
}

// CreateIdentity binds (channel, externalID) to a new account, promoting the
// oldest unregistered contact node with the same identifiers when one exists.
// If the binding already exists the bound account is returned with created=false.
func (s *Store) CreateIdentity(ctx context.Context, ci domain.ChannelIdentity, seedName, newAccountID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, apperrors.NewStorageUnavailable("create_identity", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{ci.Channel, ci.ExternalID}
	if b, ok := s.bindings[key]; ok {
		return b.AccountID, false, nil
	}

	accountID := newAccountID
	if candidate := s.promotionCandidate(ci.Channel, ci.ExternalID); candidate != nil {
		accountID = candidate.id
		candidate.registered = true
		if seedName != "" {
			candidate.name = seedName
		}
		s.accounts[accountID] = &domain.Account{ID: accountID, Name: candidate.name, PhoneNumber: candidate.phone, CreatedAt: ci.CreatedAt}
		s.logger.Info("Contact promoted to account",
			zap.String("account_id", accountID),
			zap.String("channel", ci.Channel))
	} else {
		s.people[accountID] = &person{id: accountID, name: seedName, createdAt: ci.CreatedAt, registered: true}
		s.accounts[accountID] = &domain.Account{ID: accountID, Name: seedName, CreatedAt: ci.CreatedAt}
	}

	ci.AccountID = accountID
	s.bindings[key] = ci
	return accountID, true, nil
}

func (s *Store) promotionCandidate(channel, externalID string) *person {
	var best *person
	for _, p := range s.people {
		if p.registered || p.channel != channel || p.externalID != externalID {
			continue
		}
		if best == nil || p.createdAt.Before(best.createdAt) {
			best = p
		}
	}
	return best
}

// GetAccount returns an account profile
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("get_account", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, apperrors.NewAccountNotFound(accountID)
	}
	out := *a
	return &out, nil
}

// UpdateAccount sets the non-nil profile fields
func (s *Store) UpdateAccount(ctx context.Context, accountID string, u domain.ProfileUpdate) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("update_account", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, apperrors.NewAccountNotFound(accountID)
	}
	if u.Name != nil {
		a.Name = *u.Name
		s.people[accountID].name = *u.Name
	}
	if u.Bio != nil {
		a.Bio = *u.Bio
	}
	if u.PhoneNumber != nil {
		a.PhoneNumber = *u.PhoneNumber
		s.people[accountID].phone = *u.PhoneNumber
	}
	out := *a
	return &out, nil
}

// ============================================================================
// Contact Operations
// ============================================================================

// FindDuplicate returns the first contact of accountID matching card
func (s *Store) FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", apperrors.NewStorageUnavailable("find_duplicate", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, matched := s.findDuplicateLocked(accountID, card)
	return c, matched, nil
}

func (s *Store) findDuplicateLocked(accountID string, card domain.ContactCard) (*domain.Contact, string) {
	for _, e := range s.edges[accountID] {
		c := s.contactFrom(e)
		if matched := domain.MatchCard(c, card); matched != "" {
			return &c, matched
		}
	}
	return nil, ""
}

// CreateContact creates the KNOWS edge, and the Contact node unless the draft
// reuses a registered account node. The pending record named by the draft is
// consumed in the same step.
func (s *Store) CreateContact(ctx context.Context, d domain.ContactDraft) (*domain.ContactEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("create_contact", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[d.AccountID]; !ok {
		return nil, apperrors.NewAccountNotFound(d.AccountID)
	}

	var pk pendingKey
	if d.Consume != nil {
		pk = pendingKey{d.AccountID, d.Consume.ConversationKey}
		p, ok := s.pending[pk]
		if !ok || p.ID != d.Consume.PendingID {
			return nil, apperrors.NewNoPendingFlow(d.AccountID, d.Consume.ConversationKey)
		}
	}

	if dup, matched := s.findDuplicateLocked(d.AccountID, d.Card); dup != nil {
		return nil, apperrors.NewDuplicateContact(dup.ID, dup.Name, matched)
	}

	targetID := d.ContactID
	if d.ReuseAccountID != "" {
		target, ok := s.people[d.ReuseAccountID]
		if !ok || !target.registered {
			return nil, apperrors.NewAccountNotFound(d.ReuseAccountID)
		}
		targetID = target.id
	} else {
		s.people[targetID] = &person{
			id:         targetID,
			name:       d.Card.Name,
			phone:      d.Card.PhoneNumber,
			externalID: d.Card.ExternalID,
			channel:    d.Card.Channel,
			createdAt:  d.Now,
		}
	}

	e := &knows{
		targetID: targetID,
		card:     d.Card,
		context: domain.RelationshipContext{
			ID:        d.ContextID,
			Text:      d.ContextText,
			CreatedAt: d.Now,
			UpdatedAt: d.Now,
		},
	}
	s.edges[d.AccountID] = append(s.edges[d.AccountID], e)

	if d.Consume != nil {
		delete(s.pending, pk)
	}

	entry := s.entryFrom(e)
	return &entry, nil
}

// ListContacts returns the account's contacts by creation time
func (s *Store) ListContacts(ctx context.Context, accountID string) ([]domain.ContactEntry, error) {
	return s.SearchContacts(ctx, accountID, "")
}

// SearchContacts filters the account's contacts by a case-insensitive
// substring of the context text. A blank keyword matches everything.
func (s *Store) SearchContacts(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("search_contacts", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(keyword))
	entries := make([]domain.ContactEntry, 0, len(s.edges[accountID]))
	for _, e := range s.edges[accountID] {
		if needle != "" && !strings.Contains(strings.ToLower(e.context.Text), needle) {
			continue
		}
		entries = append(entries, s.entryFrom(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Contact, entries[j].Contact
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return entries, nil
}

// GetContact returns one of the account's contacts
func (s *Store) GetContact(ctx context.Context, accountID, contactID string) (*domain.ContactEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("get_contact", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.edges[accountID] {
		if e.targetID == contactID {
			entry := s.entryFrom(e)
			return &entry, nil
		}
	}
	return nil, apperrors.NewContactNotFound(accountID, contactID)
}

// AppendContext appends text to the relationship note on the edge
func (s *Store) AppendContext(ctx context.Context, accountID, contactID, text string, now time.Time) (*domain.ContactEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("append_context", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.edges[accountID] {
		if e.targetID != contactID {
			continue
		}
		e.context.Text = domain.AppendNote(e.context.Text, text)
		e.context.UpdatedAt = now
		entry := s.entryFrom(e)
		return &entry, nil
	}
	return nil, apperrors.NewContactNotFound(accountID, contactID)
}

func (s *Store) contactFrom(e *knows) domain.Contact {
	c := domain.Contact{
		ID:          e.targetID,
		Name:        e.card.Name,
		PhoneNumber: e.card.PhoneNumber,
		ExternalID:  e.card.ExternalID,
		Channel:     e.card.Channel,
		CreatedAt:   e.context.CreatedAt,
	}
	if p, ok := s.people[e.targetID]; ok {
		c.IsRegistered = p.registered
	}
	return c
}

func (s *Store) entryFrom(e *knows) domain.ContactEntry {
	return domain.ContactEntry{Contact: s.contactFrom(e), Context: e.context}
}

// ============================================================================
// Pending Operations
// ============================================================================

// GetPending returns the pending record for the key, or nil
func (s *Store) GetPending(ctx context.Context, accountID, conversationKey string) (*domain.PendingCreation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("get_pending", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[pendingKey{accountID, conversationKey}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// PutPending stores p, replacing and returning any record for the same key
func (s *Store) PutPending(ctx context.Context, p domain.PendingCreation) (*domain.PendingCreation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageUnavailable("put_pending", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{p.AccountID, p.ConversationKey}
	prev, had := s.pending[key]
	s.pending[key] = p
	if !had {
		return nil, nil
	}
	return &prev, nil
}

// DeletePending removes the record for the key. When pendingID is non-empty
// only that exact record is removed.
func (s *Store) DeletePending(ctx context.Context, accountID, conversationKey, pendingID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.NewStorageUnavailable("delete_pending", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{accountID, conversationKey}
	p, ok := s.pending[key]
	if !ok || (pendingID != "" && p.ID != pendingID) {
		return false, nil
	}
	delete(s.pending, key)
	return true, nil
}

// DeleteStalePending removes records received before cutoff and, when
// instance is set, that instance's records from other epochs.
func (s *Store) DeleteStalePending(ctx context.Context, instance, epoch string, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStorageUnavailable("reap_pending", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, p := range s.pending {
		orphaned := instance != "" && p.Instance == instance && p.Epoch != epoch
		if orphaned || p.ReceivedAt.Before(cutoff) {
			delete(s.pending, k)
			n++
		}
	}
	return n, nil
}

// Stats reports node counts; tests use it to check node reuse
func (s *Store) Stats() (people, accounts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.people), len(s.accounts)
}
