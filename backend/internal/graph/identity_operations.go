package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// ============================================================================
// Identity Operations
// ============================================================================

// LookupIdentity returns the account bound to (channel, externalID)
func (r *Repository) LookupIdentity(ctx context.Context, channel, externalID string) (string, bool, error) {
	res, err := r.read(ctx, "lookup_identity", func(tx neo4j.ManagedTransaction) (any, error) {
		return lookupIdentity(ctx, tx, channel, externalID)
	})
	if err != nil {
		return "", false, err
	}
	id := res.(string)
	return id, id != "", nil
}

func lookupIdentity(ctx context.Context, tx neo4j.ManagedTransaction, channel, externalID string) (string, error) {
	result, err := tx.Run(ctx, `
		MATCH (i:ChannelIdentity {channel: $channel, external_id: $external_id})-[:IDENTIFIES]->(a:Account)
		RETURN a.id AS account_id
	`, map[string]any{"channel": channel, "external_id": externalID})
	if err != nil {
		return "", err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return getStringFromRecord(records[0], "account_id"), nil
}

type identityResult struct {
	accountID string
	created   bool
	promoted  bool
}

// CreateIdentity binds (channel, externalID) to a new account, promoting the
// oldest unregistered contact node with the same identifiers when one exists.
// A concurrent binding of the same identity surfaces as IdentityConflict.
func (r *Repository) CreateIdentity(ctx context.Context, ci domain.ChannelIdentity, seedName, newAccountID string) (string, bool, error) {
	res, err := r.write(ctx, "create_identity", func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := lookupIdentity(ctx, tx, ci.Channel, ci.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			return identityResult{accountID: existing}, nil
		}

		candidate, err := promotionCandidate(ctx, tx, ci.Channel, ci.ExternalID)
		if err != nil {
			return nil, err
		}
		accountID := newAccountID
		if candidate != "" {
			accountID = candidate
		}

		params := map[string]any{
			"channel":     ci.Channel,
			"external_id": ci.ExternalID,
			"account_id":  accountID,
			"name":        seedName,
			"now":         now(ci.CreatedAt),
		}

		// The binding goes first so a racing transaction fails on the
		// uniqueness constraint before touching any Person node.
		result, err := tx.Run(ctx, `
			CREATE (i:ChannelIdentity {
				channel: $channel,
				external_id: $external_id,
				account_id: $account_id,
				created_at: datetime($now)
			})
		`, params)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if isConstraintViolation(err) {
				return nil, apperrors.NewIdentityConflict(ci.Channel, ci.ExternalID, err)
			}
			return nil, err
		}

		query := `
			CREATE (a:Person:Account {
				id: $account_id,
				name: $name,
				bio: '',
				phone_number: '',
				created_at: datetime($now),
				registered_at: datetime($now),
				registered: true
			})
			WITH a
			MATCH (i:ChannelIdentity {channel: $channel, external_id: $external_id})
			CREATE (i)-[:IDENTIFIES]->(a)
		`
		if candidate != "" {
			query = `
				MATCH (a:Person:Contact {id: $account_id})
				REMOVE a:Contact
				SET a:Account,
					a.registered = true,
					a.registered_at = datetime($now),
					a.bio = coalesce(a.bio, ''),
					a.name = CASE WHEN $name <> '' THEN $name ELSE a.name END
				WITH a
				MATCH (i:ChannelIdentity {channel: $channel, external_id: $external_id})
				CREATE (i)-[:IDENTIFIES]->(a)
			`
		}
		if _, err := tx.Run(ctx, query, params); err != nil {
			return nil, err
		}
		return identityResult{accountID: accountID, created: true, promoted: candidate != ""}, nil
	})
	if err != nil {
		return "", false, err
	}

	out := res.(identityResult)
	if out.promoted {
		r.logger.Info("Contact promoted to account",
			zap.String("account_id", out.accountID),
			zap.String("channel", ci.Channel))
	}
	return out.accountID, out.created, nil
}

func promotionCandidate(ctx context.Context, tx neo4j.ManagedTransaction, channel, externalID string) (string, error) {
	result, err := tx.Run(ctx, `
		MATCH (p:Person:Contact {channel: $channel, external_id: $external_id})
		WHERE coalesce(p.registered, false) = false
		RETURN p.id AS id
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT 1
	`, map[string]any{"channel": channel, "external_id": externalID})
	if err != nil {
		return "", err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return getStringFromRecord(records[0], "id"), nil
}

// GetAccount returns an account profile
func (r *Repository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	res, err := r.read(ctx, "get_account", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $id})
			RETURN a.id AS id, a.name AS name, a.bio AS bio, a.phone_number AS phone_number, a.created_at AS created_at
		`, map[string]any{"id": accountID})
		if err != nil {
			return nil, err
		}
		return accountFromResult(ctx, result, accountID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.Account), nil
}

// UpdateAccount sets the non-nil profile fields
func (r *Repository) UpdateAccount(ctx context.Context, accountID string, u domain.ProfileUpdate) (*domain.Account, error) {
	res, err := r.write(ctx, "update_account", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Account {id: $id})
			SET a.name = coalesce($name, a.name),
				a.bio = coalesce($bio, a.bio),
				a.phone_number = coalesce($phone_number, a.phone_number),
				a.updated_at = datetime($now)
			RETURN a.id AS id, a.name AS name, a.bio AS bio, a.phone_number AS phone_number, a.created_at AS created_at
		`, map[string]any{
			"id":           accountID,
			"name":         optional(u.Name),
			"bio":          optional(u.Bio),
			"phone_number": optional(u.PhoneNumber),
			"now":          now(time.Now()),
		})
		if err != nil {
			return nil, err
		}
		return accountFromResult(ctx, result, accountID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.Account), nil
}

func accountFromResult(ctx context.Context, result neo4j.ResultWithContext, accountID string) (*domain.Account, error) {
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewAccountNotFound(accountID)
	}
	record := records[0]
	return &domain.Account{
		ID:          getStringFromRecord(record, "id"),
		Name:        getStringFromRecord(record, "name"),
		Bio:         getStringFromRecord(record, "bio"),
		PhoneNumber: getStringFromRecord(record, "phone_number"),
		CreatedAt:   getTimeFromRecord(record, "created_at"),
	}, nil
}

// optional maps a nil pointer to a Cypher null
func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
