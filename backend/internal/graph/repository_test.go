package graph

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
)

// Integration tests require a running Neo4j instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables.
func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}

	ctx := context.Background()
	driver, err := createTestDriver(uri)
	require.NoError(t, err, "Failed to create driver")

	repo := NewRepository(driver)
	require.NoError(t, repo.EnsureSchema(ctx, false))

	// a unique channel keeps runs apart
	channel := "test-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)
		_, _ = session.Run(ctx, `
			MATCH (i:ChannelIdentity {channel: $channel})-[:IDENTIFIES]->(a:Account)
			OPTIONAL MATCH (a)-[:KNOWS]->(p:Person:Contact)
			OPTIONAL MATCH (pc:PendingCreation {account_id: a.id})
			DETACH DELETE i, a, p, pc
		`, map[string]any{"channel": channel})
		_, _ = session.Run(ctx, `MATCH (p:Person:Contact {channel: $channel}) DETACH DELETE p`,
			map[string]any{"channel": channel})
		_ = repo.Close()
	})
	return repo, channel
}

func createTestDriver(uri string) (neo4j.DriverWithContext, error) {
	user := os.Getenv("NEO4J_USER")
	if user == "" {
		user = "neo4j"
	}
	password := os.Getenv("NEO4J_PASSWORD")
	if password == "" {
		password = "password"
	}
	return NewDriver(context.Background(), uri, user, password)
}

func newAccount(t *testing.T, repo *Repository, channel, externalID, name string) string {
	t.Helper()
	id, created, err := repo.CreateIdentity(context.Background(), domain.ChannelIdentity{
		Channel:    channel,
		ExternalID: externalID,
		CreatedAt:  time.Now().UTC(),
	}, name, uuid.NewString())
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestRepository_CreateIdentityIsIdempotent(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()

	id := newAccount(t, repo, channel, "u1", "Ann")

	again, created, err := repo.CreateIdentity(ctx, domain.ChannelIdentity{Channel: channel, ExternalID: "u1", CreatedAt: time.Now()}, "", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	found, ok, err := repo.LookupIdentity(ctx, channel, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = repo.LookupIdentity(ctx, channel, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_ProfileUpdate(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	id := newAccount(t, repo, channel, "u1", "Ann")

	bio := "climber"
	acct, err := repo.UpdateAccount(ctx, id, domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Ann", acct.Name)
	assert.Equal(t, "climber", acct.Bio)

	_, err = repo.GetAccount(ctx, uuid.NewString())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestRepository_ContactLifecycle(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	base := time.Now().UTC().Truncate(time.Millisecond)
	draft := func(name, phone, text string, offset time.Duration) domain.ContactDraft {
		return domain.ContactDraft{
			AccountID:   owner,
			Card:        domain.ContactCard{Name: name, PhoneNumber: phone},
			ContextText: text,
			ContactID:   uuid.NewString(),
			ContextID:   uuid.NewString(),
			Now:         base.Add(offset),
		}
	}

	first, err := repo.CreateContact(ctx, draft("Bob", "+15550001", "met at a React meetup", 0))
	require.NoError(t, err)
	assert.False(t, first.Contact.IsRegistered)

	_, err = repo.CreateContact(ctx, draft("Robert", "+15550002", "gym", time.Second))
	require.NoError(t, err)

	_, err = repo.CreateContact(ctx, draft("Bobby", "+15550001", "again", 2*time.Second))
	dup, ok := apperrors.AsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, first.Contact.ID, dup.ExistingContactID)
	assert.Equal(t, domain.MatchPhoneNumber, dup.MatchedOn)

	list, err := repo.ListContacts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bob", list[0].Contact.Name)
	assert.Equal(t, "Robert", list[1].Contact.Name)

	hits, err := repo.SearchContacts(ctx, owner, "react")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, first.Contact.ID, hits[0].Contact.ID)

	updated, err := repo.AppendContext(ctx, owner, first.Contact.ID, "works at Acme", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "met at a React meetup"+domain.NoteSeparator+"works at Acme", updated.Context.Text)

	_, err = repo.GetContact(ctx, owner, uuid.NewString())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound))
}

func TestRepository_ConcurrentCreateHasOneWinner(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreateContact(ctx, domain.ContactDraft{
				AccountID:   owner,
				Card:        domain.ContactCard{Name: "Dana", PhoneNumber: "+15559999"},
				ContextText: "same person",
				ContactID:   uuid.NewString(),
				ContextID:   uuid.NewString(),
				Now:         time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeDuplicate), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestRepository_PromotionAndReuse(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	entry, err := repo.CreateContact(ctx, domain.ContactDraft{
		AccountID:   owner,
		Card:        domain.ContactCard{Name: "Eve", ExternalID: "eve", Channel: channel},
		ContextText: "from the conference",
		ContactID:   uuid.NewString(),
		ContextID:   uuid.NewString(),
		Now:         time.Now().UTC(),
	})
	require.NoError(t, err)

	eve, created, err := repo.CreateIdentity(ctx, domain.ChannelIdentity{Channel: channel, ExternalID: "eve", CreatedAt: time.Now()}, "", uuid.NewString())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entry.Contact.ID, eve, "contact node promoted in place")

	got, err := repo.GetContact(ctx, owner, eve)
	require.NoError(t, err)
	assert.True(t, got.Contact.IsRegistered)
}

func TestRepository_PendingRoundTrip(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	p := domain.PendingCreation{
		ID:              uuid.NewString(),
		AccountID:       owner,
		ConversationKey: "chat-1",
		Card:            domain.ContactCard{Name: "Finn"},
		ReceivedAt:      time.Now().UTC(),
		Instance:        channel,
		Epoch:           "e1",
	}
	prev, err := repo.PutPending(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, prev)

	replacement := p
	replacement.ID = uuid.NewString()
	replacement.Card.Name = "Finley"
	prev, err = repo.PutPending(ctx, replacement)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "Finn", prev.Card.Name)

	got, err := repo.GetPending(ctx, owner, "chat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, replacement.ID, got.ID)

	_, err = repo.CreateContact(ctx, domain.ContactDraft{
		AccountID:   owner,
		Card:        got.Card,
		ContextText: "old card",
		Consume:     p.Ref(),
		ContactID:   uuid.NewString(),
		ContextID:   uuid.NewString(),
		Now:         time.Now().UTC(),
	})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation), "stale ref is rejected")

	ok, err := repo.DeletePending(ctx, owner, "chat-1", p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.DeleteStalePending(ctx, "other-"+channel, "e2", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	got, err = repo.GetPending(ctx, owner, "chat-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "another instance's live card is kept")

	n, err := repo.DeleteStalePending(ctx, channel, "e2", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err = repo.GetPending(ctx, owner, "chat-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_ReplacedCardRacingContextIsNotSaved(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("race-%d", i)
		first := domain.PendingCreation{
			ID:              uuid.NewString(),
			AccountID:       owner,
			ConversationKey: key,
			Card:            domain.ContactCard{Name: "First", PhoneNumber: fmt.Sprintf("+1555100%04d", i)},
			ReceivedAt:      time.Now().UTC(),
			Instance:        channel,
			Epoch:           "e1",
		}
		_, err := repo.PutPending(ctx, first)
		require.NoError(t, err)

		second := first
		second.ID = uuid.NewString()
		second.Card = domain.ContactCard{Name: "Second", PhoneNumber: fmt.Sprintf("+1555200%04d", i)}

		var (
			wg        sync.WaitGroup
			prev      *domain.PendingCreation
			putErr    error
			createErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, createErr = repo.CreateContact(ctx, domain.ContactDraft{
				AccountID:   owner,
				Card:        first.Card,
				ContextText: "context for the first card",
				Consume:     first.Ref(),
				ContactID:   uuid.NewString(),
				ContextID:   uuid.NewString(),
				Now:         time.Now().UTC(),
			})
		}()
		go func() {
			defer wg.Done()
			prev, putErr = repo.PutPending(ctx, second)
		}()
		wg.Wait()
		require.NoError(t, putErr)

		dup, _, err := repo.FindDuplicate(ctx, owner, first.Card)
		require.NoError(t, err)
		if prev != nil && prev.ID == first.ID {
			// the second card replaced the first before it was consumed
			assert.True(t, apperrors.IsErrorType(createErr, apperrors.ErrorTypeValidation), "round %d: %v", i, createErr)
			assert.Nil(t, dup, "round %d: replaced card was saved", i)
		} else {
			require.NoError(t, createErr, "round %d", i)
			assert.NotNil(t, dup)
		}

		waiting, err := repo.GetPending(ctx, owner, key)
		require.NoError(t, err)
		require.NotNil(t, waiting)
		assert.Equal(t, second.ID, waiting.ID)
	}
}

func TestRepository_ConcurrentFirstCardsOnOneKey(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.PutPending(ctx, domain.PendingCreation{
				ID:              uuid.NewString(),
				AccountID:       owner,
				ConversationKey: "busy-chat",
				Card:            domain.ContactCard{Name: fmt.Sprintf("Card %d", i)},
				ReceivedAt:      time.Now().UTC(),
				Instance:        channel,
				Epoch:           "e1",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, apperrors.IsRetryable(err), "unexpected error: %v", err)
		}
	}
	got, err := repo.GetPending(ctx, owner, "busy-chat")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRepository_ListTieBreakByID(t *testing.T) {
	repo, channel := newTestRepository(t)
	ctx := context.Background()
	owner := newAccount(t, repo, channel, "owner", "Owner")

	at := time.Now().UTC()
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		_, err := repo.CreateContact(ctx, domain.ContactDraft{
			AccountID:   owner,
			Card:        domain.ContactCard{Name: id},
			ContextText: "same instant",
			ContactID:   id,
			ContextID:   uuid.NewString(),
			Now:         at,
		})
		require.NoError(t, err)
	}
	sort.Strings(ids)

	list, err := repo.ListContacts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, e := range list {
		assert.Equal(t, ids[i], e.Contact.ID)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `
		// leading comment
		CREATE INDEX a IF NOT EXISTS FOR (n:A) ON (n.x);
		/* block
		   comment */
		CREATE INDEX b IF NOT EXISTS FOR (n:B) ON (n.y); // trailing
		;
	`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE INDEX a IF NOT EXISTS FOR (n:A) ON (n.x)", stmts[0])
	assert.Equal(t, "CREATE INDEX b IF NOT EXISTS FOR (n:B) ON (n.y)", stmts[1])
}

func TestMigrationsSplitCleanly(t *testing.T) {
	for _, m := range migrations {
		for _, stmt := range splitStatements(m.query) {
			assert.Contains(t, stmt, "IF NOT EXISTS", "migration %q", m.name)
		}
	}
}
