package discord

import (
	"fmt"
	"strings"

	"bimoi/backend/internal/domain"
)

// maxContextPreview caps the context shown per list entry
const maxContextPreview = 200

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

// EscapeMarkdown keeps user text from being read as Discord markdown
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// FormatBold formats text as bold in Discord
func FormatBold(text string) string {
	return "**" + EscapeMarkdown(text) + "**"
}

// FormatList formats items as a Discord list
func FormatList(items []string, ordered bool) string {
	list := make([]string, 0, len(items))
	for i, item := range items {
		if ordered {
			list = append(list, fmt.Sprintf("%d. %s", i+1, item))
		} else {
			list = append(list, "• "+item)
		}
	}
	return strings.Join(list, "\n")
}

// formatEntries renders contacts with a short preview of each context
func formatEntries(title string, entries []domain.ContactEntry) string {
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		item := FormatBold(e.Contact.Name)
		if e.Contact.IsRegistered {
			item += " ✓"
		}
		if preview := previewText(e.Context.Text, maxContextPreview); preview != "" {
			item += ": " + EscapeMarkdown(preview)
		}
		items = append(items, item)
	}
	return title + "\n" + FormatList(items, true)
}

func previewText(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}
