package constants

// Channel tags
const (
	ChannelDiscord  = "discord"
	ChannelTelegram = "telegram"
	ChannelWeb      = "web"
)

// Discord constants
const (
	// DiscordMaxMessageLength is the maximum character limit for Discord messages
	DiscordMaxMessageLength = 2000

	// DiscordCommandPrefix starts a bot command (!list, !search)
	DiscordCommandPrefix = "!"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "bimoi"
