package contacts

import (
	"context"
	"fmt"

	"bimoi/backend/internal/domain"
)

// DuplicateFinder is the read the detector delegates to the store
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error)
}

// Detector decides whether a candidate card is already a contact of an
// account. The card must already be normalized.
type Detector struct {
	finder DuplicateFinder
}

// NewDetector creates a detector over finder
func NewDetector(finder DuplicateFinder) *Detector {
	return &Detector{finder: finder}
}

// FindDuplicate returns the matching contact and which identifier matched,
// or nil when the card is new to the account.
func (d *Detector) FindDuplicate(ctx context.Context, accountID string, card domain.ContactCard) (*domain.Contact, string, error) {
	if card.PhoneNumber == "" && card.ExternalID == "" {
		return nil, "", nil
	}
	c, matched, err := d.finder.FindDuplicate(ctx, accountID, card)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check duplicates: %w", err)
	}
	return c, matched, nil
}
