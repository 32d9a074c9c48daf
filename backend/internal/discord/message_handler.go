package discord

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"bimoi/backend/internal/constants"
	"bimoi/backend/internal/domain"
	"bimoi/backend/internal/flow"
	apperrors "bimoi/backend/pkg/errors"
)

// Service is the part of the core the bot drives
type Service interface {
	ResolveIdentity(ctx context.Context, channel, externalID, seedName string) (domain.Resolution, error)
	HandleEvent(ctx context.Context, accountID, conversationKey string, ev flow.Event) (flow.Outcome, error)
	CancelFlow(ctx context.Context, accountID, conversationKey string) error
	ListContacts(ctx context.Context, accountID string) ([]domain.ContactEntry, error)
	SearchContacts(ctx context.Context, accountID, keyword string) ([]domain.ContactEntry, error)
}

// Handler handles Discord message processing
type Handler struct {
	core    Service
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a new Discord message handler
func NewHandler(core Service, timeout time.Duration, logger *zap.Logger) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{core: core, timeout: timeout, logger: logger}
}

// HandleMessage processes a Discord message
func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State == nil || s.State.User == nil || m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	reply, ok := h.Respond(ctx, s.State.User.ID, m.Message)
	if !ok {
		return
	}
	h.sendLongMessage(s, m.ChannelID, reply)
}

// Respond computes the bot's reply to m. The conversation key is the
// Discord channel, so a DM and a guild channel run separate flows.
func (h *Handler) Respond(ctx context.Context, botID string, m *discordgo.Message) (string, bool) {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot || !addressed(botID, m) {
		return "", false
	}
	classified := Classify(botID, m)
	if classified.Ignored() {
		return "", false
	}

	h.logger.Info("Processing Discord message",
		zap.String("user_id", m.Author.ID),
		zap.String("channel_id", m.ChannelID),
		zap.Bool("is_dm", m.GuildID == ""),
	)

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	res, err := h.core.ResolveIdentity(ctx, constants.ChannelDiscord, m.Author.ID, name)
	if err != nil {
		return h.errorReply(err), true
	}
	accountID, key := res.AccountID, m.ChannelID

	if cmd := classified.Command; cmd != nil {
		return h.runCommand(ctx, accountID, key, *cmd), true
	}

	out, err := h.core.HandleEvent(ctx, accountID, key, classified.Event)
	if err != nil {
		return h.errorReply(err), true
	}
	return outcomeReply(out), true
}

func (h *Handler) runCommand(ctx context.Context, accountID, key string, cmd Command) string {
	switch cmd.Name {
	case CommandList:
		entries, err := h.core.ListContacts(ctx, accountID)
		if err != nil {
			return h.errorReply(err)
		}
		if len(entries) == 0 {
			return "You have no contacts yet. Mention someone to add them."
		}
		return formatEntries("Your contacts", entries)

	case CommandSearch:
		if cmd.Arg == "" {
			return "Usage: `!search <keyword>`"
		}
		entries, err := h.core.SearchContacts(ctx, accountID, cmd.Arg)
		if err != nil {
			return h.errorReply(err)
		}
		if len(entries) == 0 {
			return fmt.Sprintf("No contacts match %s.", FormatBold(cmd.Arg))
		}
		return formatEntries(fmt.Sprintf("Contacts matching %s", FormatBold(cmd.Arg)), entries)

	case CommandCancel:
		if err := h.core.CancelFlow(ctx, accountID, key); err != nil {
			return h.errorReply(err)
		}
		return "Cancelled. Nothing was saved."

	default:
		return helpText
	}
}

const helpText = "Mention someone to save them as a contact, then tell me how you know them.\n" +
	"`!list` shows your contacts\n" +
	"`!search <keyword>` searches what you wrote about them\n" +
	"`!cancel` drops the person you just shared"

func outcomeReply(out flow.Outcome) string {
	switch out.Reply {
	case flow.ReplyCardAccepted:
		return fmt.Sprintf("Got %s. How do you know them?", FormatBold(pendingName(out)))
	case flow.ReplyCardReplaced:
		return fmt.Sprintf("Replaced %s with %s. How do you know them?",
			FormatBold(out.Superseded.Name), FormatBold(pendingName(out)))
	case flow.ReplyContactCreated:
		return fmt.Sprintf("Saved %s.", FormatBold(out.Contact.Contact.Name))
	case flow.ReplyAwaitingContext:
		return fmt.Sprintf("Still waiting to hear how you know %s, or `!cancel`.", FormatBold(pendingName(out)))
	default:
		return helpText
	}
}

func pendingName(out flow.Outcome) string {
	if out.State.Pending == nil {
		return "them"
	}
	return out.State.Pending.Card.Name
}

// errorReply turns a core error into a user-facing message
func (h *Handler) errorReply(err error) string {
	if dup, ok := apperrors.AsDuplicate(err); ok {
		return fmt.Sprintf("You already have %s (same %s).", FormatBold(dup.ExistingName), strings.ReplaceAll(dup.MatchedOn, "_", " "))
	}
	if apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		var noFlow *apperrors.ErrNoPendingFlow
		if stderrors.As(err, &noFlow) {
			return helpText
		}
		if v, ok := apperrors.AsValidation(err); ok {
			return fmt.Sprintf("That didn't work: %s %s.", strings.ReplaceAll(v.Field, "_", " "), v.Reason)
		}
	}
	if apperrors.IsRetryable(err) {
		h.logger.Warn("Store unavailable for Discord message", zap.Error(err))
		return "I can't reach my storage right now. Please try again in a moment."
	}
	h.logger.Error("Failed to process message", zap.Error(err))
	return "Sorry, I encountered an error processing your message."
}
