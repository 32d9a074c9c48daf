package graph

import (
	"context"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
)

// ============================================================================
// Contact Operations
// ============================================================================

// FindDuplicate returns the first contact of accountID matching card
func (r *Repository) FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error) {
	type match struct {
		contact *domain.Contact
		on      string
	}
	res, err := r.read(ctx, "find_duplicate", func(tx neo4j.ManagedTransaction) (any, error) {
		c, on, err := findDuplicate(ctx, tx, accountID, card)
		return match{c, on}, err
	})
	if err != nil {
		return nil, "", err
	}
	m := res.(match)
	return m.contact, m.on, nil
}

func findDuplicate(ctx context.Context, tx neo4j.ManagedTransaction, accountID string, card domain.ContactCard) (*domain.Contact, string, error) {
	if card.PhoneNumber == "" && card.ExternalID == "" {
		return nil, "", nil
	}
	result, err := tx.Run(ctx, `
		MATCH (a:Account {id: $account_id})-[r:KNOWS]->(p:Person)
		WHERE ($phone_number <> '' AND r.phone_number = $phone_number)
		   OR ($external_id <> '' AND r.external_id = $external_id)
		RETURN `+contactColumns+`
		ORDER BY created_at ASC, id ASC
	`, map[string]any{
		"account_id":   accountID,
		"phone_number": card.PhoneNumber,
		"external_id":  card.ExternalID,
	})
	if err != nil {
		return nil, "", err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, "", err
	}
	// the query narrows candidates; MatchCard applies the channel scoping
	for _, record := range records {
		c := entryFromRecord(record).Contact
		if on := domain.MatchCard(c, card); on != "" {
			return &c, on, nil
		}
	}
	return nil, "", nil
}

// CreateContact creates the KNOWS edge, and the Contact node unless the draft
// reuses a registered account node, in one transaction. Writing to the owner
// node first serializes concurrent creations for the same account, so the
// duplicate check and the insert cannot interleave.
func (r *Repository) CreateContact(ctx context.Context, d domain.ContactDraft) (*domain.ContactEntry, error) {
	res, err := r.write(ctx, "create_contact", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $account_id})
			SET a.last_contact_write = datetime($now)
			RETURN a.id AS id
		`, map[string]any{"account_id": d.AccountID, "now": now(d.Now)})
		if err != nil {
			return nil, err
		}
		owners, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(owners) == 0 {
			return nil, apperrors.NewAccountNotFound(d.AccountID)
		}

		// consume first: a card replaced meanwhile no longer matches the id
		if d.Consume != nil {
			deleted, err := deletePending(ctx, tx, d.AccountID, d.Consume.ConversationKey, d.Consume.PendingID)
			if err != nil {
				return nil, err
			}
			if !deleted {
				return nil, apperrors.NewNoPendingFlow(d.AccountID, d.Consume.ConversationKey)
			}
		}

		dup, matched, err := findDuplicate(ctx, tx, d.AccountID, d.Card)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return nil, apperrors.NewDuplicateContact(dup.ID, dup.Name, matched)
		}

		params := map[string]any{
			"account_id":   d.AccountID,
			"contact_id":   d.ContactID,
			"reuse_id":     d.ReuseAccountID,
			"name":         d.Card.Name,
			"phone_number": d.Card.PhoneNumber,
			"external_id":  d.Card.ExternalID,
			"channel":      d.Card.Channel,
			"context_id":   d.ContextID,
			"context":      d.ContextText,
			"now":          now(d.Now),
		}

		target := `
			CREATE (p:Person:Contact {
				id: $contact_id,
				name: $name,
				phone_number: $phone_number,
				external_id: $external_id,
				channel: $channel,
				created_at: datetime($now),
				registered: false
			})
		`
		if d.ReuseAccountID != "" {
			target = `
				MATCH (p:Person:Account {id: $reuse_id})
				WHERE p.registered = true
			`
		}
		result, err = tx.Run(ctx, `
			MATCH (a:Account {id: $account_id})
		`+target+`
			CREATE (a)-[r:KNOWS {
				name: $name,
				phone_number: $phone_number,
				external_id: $external_id,
				channel: $channel,
				created_at: datetime($now),
				context_id: $context_id,
				context_description: $context,
				context_created_at: datetime($now),
				context_updated_at: datetime($now)
			}]->(p)
			RETURN `+contactColumns, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, apperrors.NewAccountNotFound(d.ReuseAccountID)
		}
		entry := entryFromRecord(records[0])
		return &entry, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ContactEntry), nil
}

// ListContacts returns the account's contacts by creation time
func (r *Repository) ListContacts(ctx context.Context, accountID string) ([]domain.ContactEntry, error) {
	return r.SearchContacts(ctx, accountID, "")
}

// SearchContacts filters the account's contacts by a case-insensitive
// substring of the context text. A blank keyword matches everything.
func (r *Repository) SearchContacts(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error) {
	res, err := r.read(ctx, "search_contacts", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $account_id})-[r:KNOWS]->(p:Person)
			WHERE $keyword = '' OR toLower(coalesce(r.context_description, '')) CONTAINS toLower($keyword)
			RETURN `+contactColumns+`
			ORDER BY created_at ASC, id ASC
		`, map[string]any{"account_id": accountID, "keyword": strings.TrimSpace(keyword)})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return entriesFromRecords(records), nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.ContactEntry), nil
}

// GetContact returns one of the account's contacts
func (r *Repository) GetContact(ctx context.Context, accountID, contactID string) (*domain.ContactEntry, error) {
	res, err := r.read(ctx, "get_contact", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $account_id})-[r:KNOWS]->(p:Person {id: $contact_id})
			RETURN `+contactColumns, map[string]any{"account_id": accountID, "contact_id": contactID})
		if err != nil {
			return nil, err
		}
		return singleEntry(ctx, result, accountID, contactID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ContactEntry), nil
}

// AppendContext appends text to the relationship note on the edge
func (r *Repository) AppendContext(ctx context.Context, accountID, contactID, text string, at time.Time) (*domain.ContactEntry, error) {
	res, err := r.write(ctx, "append_context", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $account_id})-[r:KNOWS]->(p:Person {id: $contact_id})
			SET r.context_description = CASE
					WHEN coalesce(r.context_description, '') = '' THEN $text
					ELSE r.context_description + $separator + $text
				END,
				r.context_updated_at = datetime($now)
			RETURN `+contactColumns, map[string]any{
			"account_id": accountID,
			"contact_id": contactID,
			"text":       text,
			"separator":  domain.NoteSeparator,
			"now":        now(at),
		})
		if err != nil {
			return nil, err
		}
		return singleEntry(ctx, result, accountID, contactID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.ContactEntry), nil
}

func singleEntry(ctx context.Context, result neo4j.ResultWithContext, accountID, contactID string) (*domain.ContactEntry, error) {
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewContactNotFound(accountID, contactID)
	}
	entry := entryFromRecord(records[0])
	return &entry, nil
}
