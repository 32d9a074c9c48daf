package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"bimoi/backend/internal/constants"
	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/flow"
)

// Command names
const (
	CommandList   = "list"
	CommandSearch = "search"
	CommandCancel = "cancel"
	CommandHelp   = "help"
)

// Command is a bot command typed by the user
type Command struct {
	Name string
	Arg  string
}

// Classified is the transport's reading of one message: either a command,
// a flow event, or nothing at all.
type Classified struct {
	Command *Command
	Event   flow.Event
}

// Ignored reports a message the bot should not react to
func (c Classified) Ignored() bool {
	return c.Command == nil && c.Event == nil
}

// Classify turns a message addressed to the bot into a command or a flow
// event. A message mentioning exactly one other non-bot user shares that
// user as a contact card. Any other text is offered as context.
func Classify(botID string, m *discordgo.Message) Classified {
	content := stripMention(strings.TrimSpace(m.Content), botID)

	if strings.HasPrefix(content, constants.DiscordCommandPrefix) {
		name, arg, _ := strings.Cut(strings.TrimPrefix(content, constants.DiscordCommandPrefix), " ")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case CommandList, CommandSearch, CommandCancel, CommandHelp:
			return Classified{Command: &Command{Name: name, Arg: strings.TrimSpace(arg)}}
		}
	}

	var shared []*discordgo.User
	for _, u := range m.Mentions {
		if u == nil || u.Bot || u.ID == botID || (m.Author != nil && u.ID == m.Author.ID) {
			continue
		}
		shared = append(shared, u)
	}
	if len(shared) == 1 {
		return Classified{Event: flow.CardEvent{Card: cardFor(shared[0])}}
	}

	if text := stripAllMentions(content); text != "" {
		return Classified{Event: flow.TextEvent{Text: text, AsContext: true}}
	}
	if len(m.Attachments) > 0 || len(m.StickerItems) > 0 {
		return Classified{Event: flow.OtherEvent{Kind: "attachment"}}
	}
	return Classified{}
}

func cardFor(u *discordgo.User) domain.ContactCard {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return domain.ContactCard{
		Name:       name,
		ExternalID: u.ID,
		Channel:    constants.ChannelDiscord,
	}
}

// addressed reports whether the bot should look at m at all: DMs always,
// guild messages only when the bot is mentioned.
func addressed(botID string, m *discordgo.Message) bool {
	if m.GuildID == "" {
		return true
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return false
}

func stripMention(content, userID string) string {
	for _, tag := range []string{"<@" + userID + ">", "<@!" + userID + ">"} {
		content = strings.ReplaceAll(content, tag, "")
	}
	return strings.TrimSpace(content)
}

// stripAllMentions drops any remaining <@id> tokens
func stripAllMentions(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "<@")
		if start < 0 {
			b.WriteString(content)
			break
		}
		end := strings.Index(content[start:], ">")
		if end < 0 {
			b.WriteString(content)
			break
		}
		b.WriteString(content[:start])
		content = content[start+end+1:]
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
