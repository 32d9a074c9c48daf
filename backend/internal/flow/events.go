package flow

import (
	"context"

	"bimoi/backend/internal/domain"
)

// Event is an inbound message already classified by the transport
type Event interface {
	isEvent()
}

// CardEvent carries a shared contact card
type CardEvent struct {
	Card domain.ContactCard
}

// TextEvent carries free text. AsContext tells the coordinator the transport
// decided the text is the awaited relationship context.
type TextEvent struct {
	Text      string
	AsContext bool
}

// OtherEvent is any input the flow does not understand (stickers, files)
type OtherEvent struct {
	Kind string
}

func (CardEvent) isEvent()  {}
func (TextEvent) isEvent()  {}
func (OtherEvent) isEvent() {}

// Reply tells the caller what happened to an event
type Reply string

const (
	ReplyCardAccepted    Reply = "card_accepted"
	ReplyCardReplaced    Reply = "card_replaced"
	ReplyContactCreated  Reply = "contact_created"
	ReplyAwaitingContext Reply = "awaiting_context"
	ReplyIgnored         Reply = "ignored"
)

// Outcome is the result of handling an event. Rejections (validation or
// duplicate) come back as errors for the caller to report to the user.
type Outcome struct {
	Reply      Reply
	State      State
	Superseded *domain.ContactCard
	Contact    *domain.ContactEntry
}

// Handle routes a classified event through the state machine
func (c *Coordinator) Handle(ctx context.Context, accountID, conversationKey string, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case CardEvent:
		res, err := c.SubmitCard(ctx, accountID, conversationKey, e.Card)
		if err != nil {
			return Outcome{}, err
		}
		reply := ReplyCardAccepted
		if res.Superseded != nil {
			reply = ReplyCardReplaced
		}
		return Outcome{Reply: reply, State: res.State, Superseded: res.Superseded}, nil

	case TextEvent:
		if e.AsContext {
			entry, err := c.SubmitContext(ctx, accountID, conversationKey, e.Text)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Reply: ReplyContactCreated, State: State{State: domain.StateIdle}, Contact: entry}, nil
		}
		return c.unrelated(ctx, accountID, conversationKey)

	default:
		return c.unrelated(ctx, accountID, conversationKey)
	}
}

// unrelated leaves the flow untouched and reports whether context is awaited
func (c *Coordinator) unrelated(ctx context.Context, accountID, conversationKey string) (Outcome, error) {
	st, err := c.State(ctx, accountID, conversationKey)
	if err != nil {
		return Outcome{}, err
	}
	if st.State == domain.StateCardReceived {
		return Outcome{Reply: ReplyAwaitingContext, State: st}, nil
	}
	return Outcome{Reply: ReplyIgnored, State: st}, nil
}
