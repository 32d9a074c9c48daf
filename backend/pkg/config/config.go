package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	apperrors "bimoi/backend/pkg/errors"
)

// Store backends
const (
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Store
	StoreBackend  string // "neo4j" or "memory"
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	StoreTimeout  time.Duration

	// Circuit breaker around the store
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// Pending flows
	FlowPendingTTL   time.Duration
	FlowReapInterval time.Duration
	FlowEpoch        string // empty means a fresh epoch per boot
	FlowInstance     string // empty means the binary name

	// Identity
	IdentityChannels   []string
	PhoneDefaultRegion string

	// Discord
	DiscordBotToken string
}

// fileConfig mirrors the optional TOML file named by CONFIG_PATH.
// Durations are strings such as "30m".
type fileConfig struct {
	Port  string `toml:"port"`
	Env   string `toml:"env"`
	Store struct {
		Backend string `toml:"backend"`
		Timeout string `toml:"timeout"`
	} `toml:"store"`
	Neo4j struct {
		URI      string `toml:"uri"`
		User     string `toml:"user"`
		Password string `toml:"password"`
		Database string `toml:"database"`
	} `toml:"neo4j"`
	Breaker struct {
		MaxFailures uint32 `toml:"max_failures"`
		OpenTimeout string `toml:"open_timeout"`
	} `toml:"breaker"`
	Flow struct {
		PendingTTL   string `toml:"pending_ttl"`
		ReapInterval string `toml:"reap_interval"`
		Epoch        string `toml:"epoch"`
		Instance     string `toml:"instance"`
	} `toml:"flow"`
	Identity struct {
		Channels           []string `toml:"channels"`
		PhoneDefaultRegion string   `toml:"phone_default_region"`
	} `toml:"identity"`
	Discord struct {
		BotToken string `toml:"bot_token"`
	} `toml:"discord"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:               "8080",
		Env:                "development",
		StoreBackend:       StoreNeo4j,
		Neo4jURI:           "bolt://localhost:7687",
		Neo4jUser:          "neo4j",
		Neo4jPassword:      "password",
		StoreTimeout:       5 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
		FlowPendingTTL:     30 * time.Minute,
		FlowReapInterval:   time.Minute,
		IdentityChannels:   []string{"telegram", "discord", "web"},
	}
}

// Load reads configuration from defaults, an optional TOML file and then
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.applyTOML(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.Env, fc.Env)
	setString(&c.StoreBackend, fc.Store.Backend)
	setString(&c.Neo4jURI, fc.Neo4j.URI)
	setString(&c.Neo4jUser, fc.Neo4j.User)
	setString(&c.Neo4jPassword, fc.Neo4j.Password)
	setString(&c.Neo4jDatabase, fc.Neo4j.Database)
	setString(&c.FlowEpoch, fc.Flow.Epoch)
	setString(&c.FlowInstance, fc.Flow.Instance)
	setString(&c.PhoneDefaultRegion, fc.Identity.PhoneDefaultRegion)
	setString(&c.DiscordBotToken, fc.Discord.BotToken)
	if fc.Breaker.MaxFailures > 0 {
		c.BreakerMaxFailures = fc.Breaker.MaxFailures
	}
	if len(fc.Identity.Channels) > 0 {
		c.IdentityChannels = fc.Identity.Channels
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"store.timeout", fc.Store.Timeout, &c.StoreTimeout},
		{"breaker.open_timeout", fc.Breaker.OpenTimeout, &c.BreakerOpenTimeout},
		{"flow.pending_ttl", fc.Flow.PendingTTL, &c.FlowPendingTTL},
		{"flow.reap_interval", fc.Flow.ReapInterval, &c.FlowReapInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return apperrors.NewConfigValidationFailed(d.field, err.Error())
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.Neo4jURI = getEnv("NEO4J_URI", c.Neo4jURI)
	c.Neo4jUser = getEnv("NEO4J_USER", c.Neo4jUser)
	c.Neo4jPassword = getEnv("NEO4J_PASSWORD", c.Neo4jPassword)
	c.Neo4jDatabase = getEnv("NEO4J_DATABASE", c.Neo4jDatabase)
	c.StoreTimeout = getEnvDuration("STORE_TIMEOUT", c.StoreTimeout)
	c.BreakerMaxFailures = uint32(getEnvInt("BREAKER_MAX_FAILURES", int(c.BreakerMaxFailures)))
	c.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", c.BreakerOpenTimeout)
	c.FlowPendingTTL = getEnvDuration("FLOW_PENDING_TTL", c.FlowPendingTTL)
	c.FlowReapInterval = getEnvDuration("FLOW_REAP_INTERVAL", c.FlowReapInterval)
	c.FlowEpoch = getEnv("FLOW_EPOCH", c.FlowEpoch)
	c.FlowInstance = getEnv("FLOW_INSTANCE", c.FlowInstance)
	c.IdentityChannels = getEnvList("IDENTITY_CHANNELS", c.IdentityChannels)
	c.PhoneDefaultRegion = getEnv("PHONE_DEFAULT_REGION", c.PhoneDefaultRegion)
	c.DiscordBotToken = getEnv("DISCORD_BOT_TOKEN", c.DiscordBotToken)
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	case StoreMemory:
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}
	if c.StoreTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("STORE_TIMEOUT", "must be positive")
	}
	if c.FlowPendingTTL <= 0 {
		return apperrors.NewConfigValidationFailed("FLOW_PENDING_TTL", "must be positive")
	}
	if c.FlowReapInterval <= 0 {
		return apperrors.NewConfigValidationFailed("FLOW_REAP_INTERVAL", "must be positive")
	}
	if len(c.IdentityChannels) == 0 {
		return apperrors.NewConfigMissingRequired("IDENTITY_CHANNELS")
	}
	// Discord token is optional; only cmd/bot requires it
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
