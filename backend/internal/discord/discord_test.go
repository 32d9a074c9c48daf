package discord

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bimoi/backend/internal/core"
	"bimoi/backend/internal/flow"
	"bimoi/backend/internal/memory"
)

const botID = "bot"

var (
	alice = &discordgo.User{ID: "100", Username: "alice"}
	bob   = &discordgo.User{ID: "200", Username: "bob", GlobalName: "Bob B"}
	carol = &discordgo.User{ID: "300", Username: "carol"}
	robot = &discordgo.User{ID: "900", Username: "robot", Bot: true}
	self  = &discordgo.User{ID: botID, Username: "bimoi", Bot: true}
)

func dm(content string, mentions ...*discordgo.User) *discordgo.Message {
	return &discordgo.Message{ChannelID: "dm-1", Author: alice, Content: content, Mentions: mentions}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
		want Classified
	}{
		{
			name: "single mention is a card",
			msg:  dm("<@200>", bob),
			want: Classified{Event: flow.CardEvent{Card: cardFor(bob)}},
		},
		{
			name: "bot mention does not count as a card",
			msg:  dm("<@bot> <@200>", self, bob),
			want: Classified{Event: flow.CardEvent{Card: cardFor(bob)}},
		},
		{
			name: "two people is just text",
			msg:  dm("<@200> and <@300> are friends", bob, carol),
			want: Classified{Event: flow.TextEvent{Text: "and are friends", AsContext: true}},
		},
		{
			name: "bots are never cards",
			msg:  dm("<@900> is handy", robot),
			want: Classified{Event: flow.TextEvent{Text: "is handy", AsContext: true}},
		},
		{
			name: "command",
			msg:  dm("!search  React dev"),
			want: Classified{Command: &Command{Name: CommandSearch, Arg: "React dev"}},
		},
		{
			name: "unknown command is text",
			msg:  dm("!dance"),
			want: Classified{Event: flow.TextEvent{Text: "!dance", AsContext: true}},
		},
		{
			name: "attachment only",
			msg:  &discordgo.Message{Author: alice, Attachments: []*discordgo.MessageAttachment{{ID: "a"}}},
			want: Classified{Event: flow.OtherEvent{Kind: "attachment"}},
		},
		{
			name: "empty",
			msg:  dm("   "),
			want: Classified{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(botID, tt.msg))
		})
	}
}

func TestCardUsesGlobalName(t *testing.T) {
	assert.Equal(t, "Bob B", cardFor(bob).Name)
	assert.Equal(t, "carol", cardFor(carol).Name)
	assert.Equal(t, "discord", cardFor(carol).Channel)
}

func TestAddressed(t *testing.T) {
	assert.True(t, addressed(botID, dm("hi")))
	guild := &discordgo.Message{GuildID: "g", Author: alice, Content: "hi"}
	assert.False(t, addressed(botID, guild))
	guild.Mentions = []*discordgo.User{self}
	assert.True(t, addressed(botID, guild))
}

func newTestHandler() *Handler {
	c := core.New(memory.NewStore(), core.Options{Channels: []string{"discord"}})
	return NewHandler(c, 0, zap.NewNop())
}

func TestRespond_CardThenContextThenList(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	reply, ok := h.Respond(ctx, botID, dm("<@200>", bob))
	require.True(t, ok)
	assert.Contains(t, reply, "**Bob B**")

	reply, ok = h.Respond(ctx, botID, dm("we met at a Go meetup"))
	require.True(t, ok)
	assert.Contains(t, reply, "Saved")

	reply, ok = h.Respond(ctx, botID, dm("<@200>", bob))
	require.True(t, ok)
	assert.Contains(t, reply, "already have")

	reply, ok = h.Respond(ctx, botID, dm("!list"))
	require.True(t, ok)
	assert.Contains(t, reply, "1. **Bob B**: we met at a Go meetup")

	reply, ok = h.Respond(ctx, botID, dm("!search meetup"))
	require.True(t, ok)
	assert.Contains(t, reply, "Bob B")

	reply, ok = h.Respond(ctx, botID, dm("!search cooking"))
	require.True(t, ok)
	assert.Contains(t, reply, "No contacts match")
}

func TestRespond_TextWithoutCardShowsHelp(t *testing.T) {
	h := newTestHandler()
	reply, ok := h.Respond(context.Background(), botID, dm("hello there"))
	require.True(t, ok)
	assert.Equal(t, helpText, reply)
}

func TestRespond_CancelAndSupersede(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	_, _ = h.Respond(ctx, botID, dm("<@200>", bob))
	reply, _ := h.Respond(ctx, botID, dm("<@300>", carol))
	assert.Contains(t, reply, "Replaced **Bob B** with **carol**")

	reply, _ = h.Respond(ctx, botID, &discordgo.Message{ChannelID: "dm-1", Author: alice, Attachments: []*discordgo.MessageAttachment{{ID: "x"}}})
	assert.Contains(t, reply, "Still waiting")

	reply, _ = h.Respond(ctx, botID, dm("!cancel"))
	assert.Contains(t, reply, "Cancelled")

	reply, _ = h.Respond(ctx, botID, dm("!list"))
	assert.Contains(t, reply, "no contacts")
}

func TestRespond_IgnoresBotsAndUnaddressed(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()

	_, ok := h.Respond(ctx, botID, &discordgo.Message{Author: robot, Content: "hi"})
	assert.False(t, ok)
	_, ok = h.Respond(ctx, botID, &discordgo.Message{GuildID: "g", Author: alice, Content: "hi"})
	assert.False(t, ok)
}

func TestSplitMessage(t *testing.T) {
	line := strings.Repeat("a", 30)
	content := strings.Join([]string{line, line, line, line}, "\n")
	chunks := splitMessage(content, 70)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 70)
	}
	assert.Equal(t, content, strings.Join(chunks, "\n"))

	long := strings.Repeat("é", 150)
	chunks = splitMessage(long, 70)
	require.Len(t, chunks, 3)
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestFormatBoldEscapes(t *testing.T) {
	assert.Equal(t, `**a\*b**`, FormatBold("a*b"))
	assert.Equal(t, "1. x\n2. y", FormatList([]string{"x", "y"}, true))
}
