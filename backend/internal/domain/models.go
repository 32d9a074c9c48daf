package domain

import (
	"strings"
	"time"
)

// ============================================================================
// Accounts & identities
// ============================================================================

// Account is one real end user, independent of any single channel
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChannelIdentity binds a channel-scoped user id to an Account
type ChannelIdentity struct {
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id"`
	AccountID  string    `json:"account_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Resolution is the result of resolving a ChannelIdentity
type Resolution struct {
	AccountID    string `json:"account_id"`
	IsNewAccount bool   `json:"is_new_account"`
}

// ProfileUpdate carries the optional profile fields to set. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=500"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=2000"`
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
}

// Empty reports whether the update sets nothing
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Bio == nil && u.PhoneNumber == nil
}

// ============================================================================
// Contacts
// ============================================================================

// ContactCard is a shared identity card: the raw identifiers of a person
// someone wants to record.
type ContactCard struct {
	Name        string `json:"name" validate:"required,max=500"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
	ExternalID  string `json:"external_id,omitempty" validate:"omitempty,max=256"`
	Channel     string `json:"channel,omitempty" validate:"required_with=ExternalID,max=64"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field
func (c ContactCard) Trimmed() ContactCard {
	return ContactCard{
		Name:        strings.TrimSpace(c.Name),
		PhoneNumber: strings.TrimSpace(c.PhoneNumber),
		ExternalID:  strings.TrimSpace(c.ExternalID),
		Channel:     strings.TrimSpace(c.Channel),
	}
}

// Contact is a person known to an Account, as seen through that account's
// KNOWS edge.
type Contact struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	IsRegistered bool      `json:"is_registered"`
}

// RelationshipContext is the free text explaining why a Contact matters
type RelationshipContext struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactEntry is one row of an account's contact list
type ContactEntry struct {
	Contact Contact             `json:"contact"`
	Context RelationshipContext `json:"context"`
}

// Duplicate match reasons
const (
	MatchPhoneNumber = "phone_number"
	MatchExternalID  = "external_id"
)

// MatchCard reports which identifier of card matches an existing contact, or
// "" when none does. Absent fields never match and the name is never
// considered. External ids only match within the same channel.
func MatchCard(existing Contact, card ContactCard) string {
	if card.PhoneNumber != "" && existing.PhoneNumber == card.PhoneNumber {
		return MatchPhoneNumber
	}
	if card.ExternalID != "" && existing.ExternalID == card.ExternalID && existing.Channel == card.Channel {
		return MatchExternalID
	}
	return ""
}

// PendingRef identifies the pending record a creation consumes
type PendingRef struct {
	ConversationKey string
	PendingID       string
}

// ContactDraft is a validated, normalized creation request handed to a store
type ContactDraft struct {
	AccountID   string
	Card        ContactCard
	ContextText string
	// ReuseAccountID is the registered account node the edge should point at,
	// empty when a new Contact node is needed.
	ReuseAccountID string
	// Consume, when set, is deleted in the same transaction; the creation
	// fails if it no longer exists.
	Consume   *PendingRef
	ContactID string
	ContextID string
	Now       time.Time
}

// ============================================================================
// Pending flows
// ============================================================================

// FlowState names the coordinator states
type FlowState string

const (
	StateIdle         FlowState = "idle"
	StateCardReceived FlowState = "card_received"
)

// PendingCreation is a card waiting for its context text
type PendingCreation struct {
	ID              string      `json:"id"`
	AccountID       string      `json:"account_id"`
	ConversationKey string      `json:"conversation_key"`
	Card            ContactCard `json:"card"`
	ReceivedAt      time.Time   `json:"received_at"`
	Instance        string      `json:"-"` // process that took the card
	Epoch           string      `json:"-"` // boot of that process
}

// Ref returns the reference used to consume this record
func (p *PendingCreation) Ref() *PendingRef {
	return &PendingRef{ConversationKey: p.ConversationKey, PendingID: p.ID}
}

// NoteSeparator joins appended text to an existing relationship note
const NoteSeparator = "\n\n— "

// AppendNote returns note with text appended after NoteSeparator
func AppendNote(note, text string) string {
	if note == "" {
		return text
	}
	return note + NoteSeparator + text
}
