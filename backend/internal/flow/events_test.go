package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bimoi/backend/internal/domain"
)

func TestHandle(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()
	ctx := context.Background()
	owner := h.account(t, "1")

	out, err := c.Handle(ctx, owner, "chat", TextEvent{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, ReplyIgnored, out.Reply)

	out, err = c.Handle(ctx, owner, "chat", CardEvent{Card: domain.ContactCard{Name: "Ann"}})
	require.NoError(t, err)
	assert.Equal(t, ReplyCardAccepted, out.Reply)

	out, err = c.Handle(ctx, owner, "chat", OtherEvent{Kind: "sticker"})
	require.NoError(t, err)
	assert.Equal(t, ReplyAwaitingContext, out.Reply)
	assert.Equal(t, "Ann", out.State.Pending.Card.Name)

	out, err = c.Handle(ctx, owner, "chat", TextEvent{Text: "not for you"})
	require.NoError(t, err)
	assert.Equal(t, ReplyAwaitingContext, out.Reply, "text not marked as context leaves the card waiting")

	out, err = c.Handle(ctx, owner, "chat", CardEvent{Card: domain.ContactCard{Name: "Bob"}})
	require.NoError(t, err)
	assert.Equal(t, ReplyCardReplaced, out.Reply)
	assert.Equal(t, "Ann", out.Superseded.Name)

	out, err = c.Handle(ctx, owner, "chat", TextEvent{Text: "Bob runs the bakery", AsContext: true})
	require.NoError(t, err)
	assert.Equal(t, ReplyContactCreated, out.Reply)
	assert.Equal(t, "Bob", out.Contact.Contact.Name)
	assert.Equal(t, domain.StateIdle, out.State.State)
}
