package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"bimoi/backend/internal/domain"
	apperrors "bimoi/backend/pkg/errors"
)

// ============================================================================
// Pending Operations
// ============================================================================

// GetPending returns the pending record for the key, or nil
func (r *Repository) GetPending(ctx context.Context, accountID, conversationKey string) (*domain.PendingCreation, error) {
	res, err := r.read(ctx, "get_pending", func(tx neo4j.ManagedTransaction) (any, error) {
		return getPending(ctx, tx, accountID, conversationKey)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.PendingCreation), nil
}

func getPending(ctx context.Context, tx neo4j.ManagedTransaction, accountID, conversationKey string) (*domain.PendingCreation, error) {
	result, err := tx.Run(ctx, `
		MATCH (pc:PendingCreation {account_id: $account_id, conversation_key: $conversation_key})
		RETURN pc {.*} AS pending
	`, map[string]any{"account_id": accountID, "conversation_key": conversationKey})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	val, _ := records[0].Get("pending")
	props, ok := val.(map[string]any)
	if !ok {
		return nil, nil
	}
	return pendingFromMap(props), nil
}

func pendingFromMap(m map[string]any) *domain.PendingCreation {
	return &domain.PendingCreation{
		ID:              getStringFromMap(m, "id"),
		AccountID:       getStringFromMap(m, "account_id"),
		ConversationKey: getStringFromMap(m, "conversation_key"),
		Card: domain.ContactCard{
			Name:        getStringFromMap(m, "name"),
			PhoneNumber: getStringFromMap(m, "phone_number"),
			ExternalID:  getStringFromMap(m, "external_id"),
			Channel:     getStringFromMap(m, "channel"),
		},
		ReceivedAt: getTimeFromMap(m, "received_at"),
		Instance:   getStringFromMap(m, "instance"),
		Epoch:      getStringFromMap(m, "epoch"),
	}
}

// PutPending stores p, replacing and returning any record for the same key.
// It takes the owner lock first, so it serializes with CreateContact and with
// other cards for the same account.
func (r *Repository) PutPending(ctx context.Context, p domain.PendingCreation) (*domain.PendingCreation, error) {
	res, err := r.write(ctx, "put_pending", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := lockOwner(ctx, tx, p.AccountID, p.ReceivedAt); err != nil {
			return nil, err
		}
		prev, err := getPending(ctx, tx, p.AccountID, p.ConversationKey)
		if err != nil {
			return nil, err
		}
		result, err := tx.Run(ctx, `
			MERGE (pc:PendingCreation {account_id: $account_id, conversation_key: $conversation_key})
			SET pc.id = $id,
				pc.name = $name,
				pc.phone_number = $phone_number,
				pc.external_id = $external_id,
				pc.channel = $channel,
				pc.received_at = datetime($received_at),
				pc.instance = $instance,
				pc.epoch = $epoch
		`, map[string]any{
			"account_id":       p.AccountID,
			"conversation_key": p.ConversationKey,
			"id":               p.ID,
			"name":             p.Card.Name,
			"phone_number":     p.Card.PhoneNumber,
			"external_id":      p.Card.ExternalID,
			"channel":          p.Card.Channel,
			"received_at":      now(p.ReceivedAt),
			"instance":         p.Instance,
			"epoch":            p.Epoch,
		})
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if isConstraintViolation(err) {
				// a concurrent first card for the key won the MERGE
				return nil, apperrors.NewStorageUnavailable("put_pending", err)
			}
			return nil, err
		}
		return prev, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.PendingCreation), nil
}

// DeletePending removes the record for the key. When pendingID is non-empty
// only that exact record is removed. The record is write-locked before its id
// is compared, so a card replaced concurrently is never removed by mistake.
func (r *Repository) DeletePending(ctx context.Context, accountID, conversationKey, pendingID string) (bool, error) {
	res, err := r.write(ctx, "delete_pending", func(tx neo4j.ManagedTransaction) (any, error) {
		return deletePending(ctx, tx, accountID, conversationKey, pendingID)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func deletePending(ctx context.Context, tx neo4j.ManagedTransaction, accountID, conversationKey, pendingID string) (bool, error) {
	result, err := tx.Run(ctx, `
		MATCH (pc:PendingCreation {account_id: $account_id, conversation_key: $conversation_key})
		SET pc._lock = true
		REMOVE pc._lock
		WITH pc
		WHERE $id = '' OR pc.id = $id
		DELETE pc
		RETURN count(*) AS deleted
	`, map[string]any{"account_id": accountID, "conversation_key": conversationKey, "id": pendingID})
	if err != nil {
		return false, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, err
	}
	return getInt64FromRecord(record, "deleted") > 0, nil
}

// DeleteStalePending removes records received before cutoff and, when
// instance is set, that instance's records from other epochs.
func (r *Repository) DeleteStalePending(ctx context.Context, instance, epoch string, cutoff time.Time) (int, error) {
	res, err := r.write(ctx, "reap_pending", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (pc:PendingCreation)
			WHERE pc.received_at < datetime($cutoff)
				OR ($instance <> '' AND pc.instance = $instance AND pc.epoch <> $epoch)
			DELETE pc
			RETURN count(*) AS deleted
		`, map[string]any{"instance": instance, "epoch": epoch, "cutoff": now(cutoff)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return int(getInt64FromRecord(record, "deleted")), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}
