package discord

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"bimoi/backend/internal/constants"
)

// sendLongMessage splits a message into chunks if it exceeds Discord's character limit
func (h *Handler) sendLongMessage(s *discordgo.Session, channelID, content string) {
	maxLength := constants.DiscordMaxMessageLength

	if utf8.RuneCountInString(content) <= maxLength {
		if _, err := s.ChannelMessageSend(channelID, content); err != nil {
			h.logger.Error("Failed to send message",
				zap.Error(err),
				zap.String("channel_id", channelID),
			)
		}
		return
	}

	// Part indicator "*(Part X/Y)*" needs about 15 chars
	const partIndicatorReserve = 20
	chunks := splitMessage(content, maxLength-partIndicatorReserve)

	for i, chunk := range chunks {
		message := chunk + "\n" + fmt.Sprintf("*(Part %d/%d)*", i+1, len(chunks))
		if _, err := s.ChannelMessageSend(channelID, message); err != nil {
			h.logger.Error("Failed to send message chunk",
				zap.Error(err),
				zap.String("channel_id", channelID),
				zap.Int("chunk", i+1),
				zap.Int("total_chunks", len(chunks)),
			)
			break
		}

		// pause between chunks to stay under the rate limit
		if i < len(chunks)-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// splitMessage splits content into chunks of at most maxLength runes,
// breaking on line boundaries where possible.
func splitMessage(content string, maxLength int) []string {
	if utf8.RuneCountInString(content) <= maxLength {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.Split(content, "\n") {
		runes := []rune(line)
		// a single line longer than a chunk is cut hard
		for len(runes) > maxLength {
			flush()
			chunks = append(chunks, string(runes[:maxLength]))
			runes = runes[maxLength:]
		}

		needed := len(runes)
		if currentLen > 0 {
			needed++
		}
		if currentLen+needed > maxLength {
			flush()
			needed = len(runes)
		}
		if currentLen > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(string(runes))
		currentLen += needed
	}
	flush()
	return chunks
}
