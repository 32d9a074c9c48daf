package graph

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"bimoi/backend/internal/domain"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	return toTime(val)
}

func getStringFromMap(m map[string]interface{}, key string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getTimeFromMap(m map[string]interface{}, key string) time.Time {
	val, ok := m[key]
	if !ok || val == nil {
		return time.Time{}
	}
	return toTime(val)
}

// toTime converts Neo4j temporal values; datetime values come as time.Time
func toTime(val interface{}) time.Time {
	switch t := val.(type) {
	case time.Time:
		return t.UTC()
	case neo4j.LocalDateTime:
		return t.Time().UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// contactColumns projects a KNOWS edge r to target p into the columns
// entryFromRecord reads.
const contactColumns = `
	p.id AS id,
	r.name AS name,
	r.phone_number AS phone_number,
	r.external_id AS external_id,
	r.channel AS channel,
	r.created_at AS created_at,
	coalesce(p.registered, false) AS registered,
	r.context_id AS context_id,
	r.context_description AS context,
	r.context_created_at AS context_created_at,
	r.context_updated_at AS context_updated_at
`

func entryFromRecord(record *neo4j.Record) domain.ContactEntry {
	return domain.ContactEntry{
		Contact: domain.Contact{
			ID:           getStringFromRecord(record, "id"),
			Name:         getStringFromRecord(record, "name"),
			PhoneNumber:  getStringFromRecord(record, "phone_number"),
			ExternalID:   getStringFromRecord(record, "external_id"),
			Channel:      getStringFromRecord(record, "channel"),
			CreatedAt:    getTimeFromRecord(record, "created_at"),
			IsRegistered: getBoolFromRecord(record, "registered"),
		},
		Context: domain.RelationshipContext{
			ID:        getStringFromRecord(record, "context_id"),
			Text:      getStringFromRecord(record, "context"),
			CreatedAt: getTimeFromRecord(record, "context_created_at"),
			UpdatedAt: getTimeFromRecord(record, "context_updated_at"),
		},
	}
}

func entriesFromRecords(records []*neo4j.Record) []domain.ContactEntry {
	entries := make([]domain.ContactEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, entryFromRecord(record))
	}
	return entries
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return stderrors.As(err, &neoErr) && neoErr.Code == constraintViolation
}

// lockOwner write-locks the account node for the rest of the transaction.
// Contact creation and pending writes for one account queue up behind it.
func lockOwner(ctx context.Context, tx neo4j.ManagedTransaction, accountID string, at time.Time) error {
	result, err := tx.Run(ctx, `
		OPTIONAL MATCH (a:Account {id: $account_id})
		FOREACH (_ IN CASE WHEN a IS NULL THEN [] ELSE [1] END |
			SET a.last_contact_write = datetime($now))
	`, map[string]any{"account_id": accountID, "now": now(at)})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
