package contacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/metrics"
	"bimoi/backend/internal/phone"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/logger"
)

// Store is the aggregate persistence the service needs
type Store interface {
	DuplicateFinder
	CreateContact(ctx context.Context, d domain.ContactDraft) (*domain.ContactEntry, error)
	ListContacts(ctx context.Context, accountID string) ([]domain.ContactEntry, error)
	SearchContacts(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error)
	GetContact(ctx context.Context, accountID, contactID string) (*domain.ContactEntry, error)
	AppendContext(ctx context.Context, accountID, contactID, text string, now time.Time) (*domain.ContactEntry, error)
}

// IdentityLookup resolves a card's channel identity to a registered account
type IdentityLookup interface {
	Lookup(ctx context.Context, channel, externalID string) (string, bool, error)
}

// Service creates, reads, lists and searches an account's contacts
type Service struct {
	store    Store
	detector *Detector
	accounts IdentityLookup
	phones   *phone.Normalizer
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a contact service. accounts may be nil, which disables
// node reuse.
func NewService(store Store, accounts IdentityLookup, phones *phone.Normalizer, m *metrics.Collector) *Service {
	if phones == nil {
		phones = phone.NewNormalizer("")
	}
	return &Service{
		store:    store,
		detector: NewDetector(store),
		accounts: accounts,
		phones:   phones,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Get(),
	}
}

// SetClock overrides time.Now; tests use it for deterministic ordering
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// NormalizeCard trims a card, validates it and canonicalizes identifiers
// so duplicate detection compares like with like.
func (s *Service) NormalizeCard(card domain.ContactCard) (domain.ContactCard, error) {
	card = card.Trimmed()
	card.Channel = strings.ToLower(card.Channel)
	if err := domain.Validate(card); err != nil {
		return domain.ContactCard{}, err
	}
	card.PhoneNumber = s.phones.Canonical(card.PhoneNumber)
	return card, nil
}

// FindDuplicate checks a raw card against the account's contacts
func (s *Service) FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error) {
	card, err := s.NormalizeCard(card)
	if err != nil {
		return nil, "", err
	}
	return s.detector.FindDuplicate(ctx, accountID, card)
}

// Create stores a contact with its relationship context. When consume is set
// the referenced pending record is deleted in the same transaction.
func (s *Service) Create(ctx context.Context, accountID string, card domain.ContactCard, contextText string, consume *domain.PendingRef) (*domain.ContactEntry, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.NewValidation("account_id", "is required")
	}
	card, err := s.NormalizeCard(card)
	if err != nil {
		return nil, err
	}
	text, err := domain.ValidateContextText(contextText)
	if err != nil {
		return nil, err
	}

	dup, matched, err := s.detector.FindDuplicate(ctx, accountID, card)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		s.metrics.DuplicateRejected(matched)
		return nil, apperrors.NewDuplicateContact(dup.ID, dup.Name, matched)
	}

	reuseID, err := s.reuseTarget(ctx, accountID, card)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.CreateContact(ctx, domain.ContactDraft{
		AccountID:      accountID,
		Card:           card,
		ContextText:    text,
		ReuseAccountID: reuseID,
		Consume:        consume,
		ContactID:      uuid.New().String(),
		ContextID:      uuid.New().String(),
		Now:            s.now(),
	})
	if dupErr, ok := apperrors.AsDuplicate(err); ok {
		// lost a race against a concurrent submission of the same person
		s.metrics.DuplicateRejected(dupErr.MatchedOn)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}

	s.metrics.ContactCreated(reuseID != "")
	s.logger.Info("Contact created",
		zap.String("account_id", accountID),
		zap.String("contact_id", entry.Contact.ID),
		zap.Bool("reused_node", reuseID != ""))
	return entry, nil
}

// reuseTarget returns the registered account the card points at, if any
func (s *Service) reuseTarget(ctx context.Context, accountID string, card domain.ContactCard) (string, error) {
	if s.accounts == nil || card.ExternalID == "" {
		return "", nil
	}
	id, found, err := s.accounts.Lookup(ctx, card.Channel, card.ExternalID)
	if err != nil {
		if apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
			// channels outside the identity set cannot be registered accounts
			return "", nil
		}
		return "", fmt.Errorf("failed to look up registered account: %w", err)
	}
	if !found {
		return "", nil
	}
	if id == accountID {
		return "", apperrors.NewValidation("external_id", "you cannot add yourself as a contact")
	}
	return id, nil
}

// List returns the account's contacts, oldest first
func (s *Service) List(ctx context.Context, accountID string) ([]domain.ContactEntry, error) {
	entries, err := s.store.ListContacts(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return entries, nil
}

// Search returns the account's contacts whose context contains keyword,
// case-insensitively. A blank keyword behaves like List.
func (s *Service) Search(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return s.List(ctx, accountID)
	}
	entries, err := s.store.SearchContacts(ctx, accountID, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	return entries, nil
}

// Get returns one of the account's contacts
func (s *Service) Get(ctx context.Context, accountID, contactID string) (*domain.ContactEntry, error) {
	return s.store.GetContact(ctx, accountID, strings.TrimSpace(contactID))
}

// AppendContext adds text to an existing relationship note. It is not
// reachable from the conversation flow.
func (s *Service) AppendContext(ctx context.Context, accountID, contactID, text string) (*domain.ContactEntry, error) {
	text, err := domain.ValidateContextText(text)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.AppendContext(ctx, accountID, contactID, text, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to append context: %w", err)
	}
	s.logger.Info("Context appended",
		zap.String("account_id", accountID),
		zap.String("contact_id", contactID))
	return entry, nil
}
