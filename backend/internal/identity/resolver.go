package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/metrics"
	"bimoi/backend/internal/phone"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/logger"
)

const (
	// maxConflictRetries bounds re-reads after losing a first-seen race
	maxConflictRetries = 3
	maxSeedNameLength  = 500

	// sharedResolveTimeout bounds a coalesced resolution, which runs detached
	// from any single caller's context
	sharedResolveTimeout = 15 * time.Second
)

// flight is a coalesced resolution; leader identifies the caller that ran it
type flight struct {
	res    domain.Resolution
	leader *byte
}

// Store is the persistence the resolver needs
type Store interface {
	LookupIdentity(ctx context.Context, channel, externalID string) (string, bool, error)
	CreateIdentity(ctx context.Context, ci domain.ChannelIdentity, seedName, newAccountID string) (string, bool, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, accountID string, u domain.ProfileUpdate) (*domain.Account, error)
}

// Resolver maps (channel, external_id) to a stable account id
type Resolver struct {
	store    Store
	channels map[string]struct{}
	phones   *phone.Normalizer
	metrics  *metrics.Collector
	group    singleflight.Group
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithChannels restricts the accepted channel tags. An empty list accepts any.
func WithChannels(channels []string) Option {
	return func(r *Resolver) {
		r.channels = make(map[string]struct{}, len(channels))
		for _, c := range channels {
			r.channels[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
	}
}

// WithPhoneNormalizer sets the normalizer used for profile phone numbers
func WithPhoneNormalizer(n *phone.Normalizer) Option {
	return func(r *Resolver) { r.phones = n }
}

// WithMetrics records resolutions on c
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = c }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over store
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		phones: phone.NewNormalizer(""),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the account bound to (channel, externalID), creating it on
// first contact. Concurrent first-time calls for the same key in this process
// share one store round trip; across processes the store's unique binding
// decides the winner and losers re-read it.
func (r *Resolver) Resolve(ctx context.Context, channel, externalID, seedName string) (domain.Resolution, error) {
	channel, externalID, err := r.normalizeKey(channel, externalID)
	if err != nil {
		return domain.Resolution{}, err
	}
	seedName = truncate(strings.TrimSpace(seedName), maxSeedNameLength)

	key := channel + "\x00" + externalID
	self := new(byte)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// one caller giving up must not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedResolveTimeout)
		defer cancel()
		res, err := r.resolve(fctx, channel, externalID, seedName)
		return flight{res: res, leader: self}, err
	})

	select {
	case <-ctx.Done():
		return domain.Resolution{}, apperrors.NewStorageUnavailable("resolve_identity", ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			return domain.Resolution{}, out.Err
		}
		f := out.Val.(flight)
		res := f.res
		// only the caller that created the account sees it as new
		if f.leader != self {
			res.IsNewAccount = false
		}
		return res, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, channel, externalID, seedName string) (domain.Resolution, error) {
	var lastErr error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		accountID, found, err := r.store.LookupIdentity(ctx, channel, externalID)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("failed to look up identity: %w", err)
		}
		if found {
			r.metrics.IdentityResolved(false)
			return domain.Resolution{AccountID: accountID}, nil
		}

		ci := domain.ChannelIdentity{Channel: channel, ExternalID: externalID, CreatedAt: r.now()}
		accountID, created, err := r.store.CreateIdentity(ctx, ci, seedName, uuid.New().String())
		var conflict *apperrors.ErrIdentityConflict
		if stderrors.As(err, &conflict) {
			lastErr = err
			r.logger.Debug("Identity binding race lost, re-reading",
				zap.String("channel", channel),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("failed to create identity: %w", err)
		}

		r.metrics.IdentityResolved(created)
		if created {
			r.logger.Info("Account created",
				zap.String("account_id", accountID),
				zap.String("channel", channel))
		}
		return domain.Resolution{AccountID: accountID, IsNewAccount: created}, nil
	}
	return domain.Resolution{}, apperrors.NewStorageUnavailable("resolve_identity", lastErr)
}

// Lookup returns the account bound to (channel, externalID) without creating it
func (r *Resolver) Lookup(ctx context.Context, channel, externalID string) (string, bool, error) {
	channel, externalID, err := r.normalizeKey(channel, externalID)
	if err != nil {
		return "", false, err
	}
	return r.store.LookupIdentity(ctx, channel, externalID)
}

// Profile returns the account's profile
func (r *Resolver) Profile(ctx context.Context, accountID string) (*domain.Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.NewValidation("account_id", "is required")
	}
	return r.store.GetAccount(ctx, accountID)
}

// UpdateProfile sets the provided profile fields. A provided blank value
// clears its field.
func (r *Resolver) UpdateProfile(ctx context.Context, accountID string, u domain.ProfileUpdate) (*domain.Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.NewValidation("account_id", "is required")
	}
	if u.Empty() {
		return r.store.GetAccount(ctx, accountID)
	}
	u.Name = trimmedPtr(u.Name)
	u.Bio = trimmedPtr(u.Bio)
	u.PhoneNumber = trimmedPtr(u.PhoneNumber)
	if err := domain.Validate(u); err != nil {
		return nil, err
	}
	if u.PhoneNumber != nil && *u.PhoneNumber != "" {
		e164, ok := r.phones.E164(*u.PhoneNumber)
		if !ok {
			return nil, apperrors.NewValidation("phone_number", "is not a valid phone number")
		}
		u.PhoneNumber = &e164
	}

	acc, err := r.store.UpdateAccount(ctx, accountID, u)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	r.logger.Info("Profile updated", zap.String("account_id", accountID))
	return acc, nil
}

func (r *Resolver) normalizeKey(channel, externalID string) (string, string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	externalID = strings.TrimSpace(externalID)
	if channel == "" {
		return "", "", apperrors.NewValidation("channel", "is required")
	}
	if externalID == "" {
		return "", "", apperrors.NewValidation("external_id", "is required")
	}
	if len(r.channels) > 0 {
		if _, ok := r.channels[channel]; !ok {
			return "", "", apperrors.NewValidation("channel", fmt.Sprintf("unsupported channel %q", channel))
		}
	}
	return channel, externalID, nil
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
