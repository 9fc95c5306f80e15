package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"
)

const (
	DefaultStoreDriver       = "sqlite"
	DefaultMongoDatabase     = "discord"
	DefaultMongoCollection   = "circle"
	DefaultRecacheCron       = "*/30 * * * *"
	DefaultRepostCron        = ""
	DefaultHTTPAddr          = "127.0.0.1:18791"
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5
	DefaultBufSize           = 100
)

type Config struct {
	Discord     DiscordConfig  `json:"discord"`
	Circles     CirclesConfig  `json:"circles"`
	Store       StoreConfig    `json:"store"`
	Telegram    TelegramConfig `json:"telegram"`
	HTTP        HTTPConfig     `json:"http"`
	DiscordRate RateConfig     `json:"discordRate"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guildId"`
	AppID   string `json:"appId,omitempty"`
}

type CirclesConfig struct {
	JoinChannel    string `json:"joinChannel"`
	ParentCategory string `json:"parentCategory"`
	LeaderChannel  string `json:"leaderChannel,omitempty"`
	RepostCron     string `json:"repostCron,omitempty"`
	RecacheCron    string `json:"recacheCron,omitempty"`
	HeaderImage    string `json:"headerImage,omitempty"`
	ApplyURL       string `json:"applyUrl,omitempty"`
	// Activity is shown as the bot's "Watching ..." presence.
	Activity string `json:"activity,omitempty"`
}

type StoreConfig struct {
	Driver     string `json:"driver"` // "sqlite" (default) or "mongo"
	Path       string `json:"path,omitempty"`
	URI        string `json:"uri,omitempty"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	ChatID    int64    `json:"chatId,omitempty"`
	Proxy     string   `json:"proxy,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type RateConfig struct {
	// RequestsPerSecond of 0 turns pacing off.
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:     DefaultStoreDriver,
			Path:       filepath.Join(ConfigDir(), "data", "circles.db"),
			Database:   DefaultMongoDatabase,
			Collection: DefaultMongoCollection,
		},
		Circles: CirclesConfig{
			RecacheCron: DefaultRecacheCron,
			RepostCron:  DefaultRepostCron,
		},
		HTTP: HTTPConfig{
			Addr: DefaultHTTPAddr,
		},
		DiscordRate: RateConfig{
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("CIRCLEBOT_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".circlebot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Hand-edited configs may carry comments and trailing commas.
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("CIRCLEBOT_DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if guild := os.Getenv("CIRCLEBOT_GUILD_ID"); guild != "" {
		cfg.Discord.GuildID = guild
	}
	if driver := os.Getenv("CIRCLEBOT_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if uri := os.Getenv("CIRCLEBOT_STORE_URI"); uri != "" {
		cfg.Store.URI = uri
	}
	if path := os.Getenv("CIRCLEBOT_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if token := os.Getenv("CIRCLEBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := os.Getenv("CIRCLEBOT_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Telegram.ChatID = parsed
		}
	}
	if addr := os.Getenv("CIRCLEBOT_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultConfig().Store.Path
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = DefaultMongoDatabase
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = DefaultMongoCollection
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.DiscordRate.RequestsPerSecond < 0 {
		cfg.DiscordRate.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.DiscordRate.Burst <= 0 {
		cfg.DiscordRate.Burst = DefaultBurst
	}

	return cfg, nil
}

// Validate reports settings the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord token is required (set CIRCLEBOT_DISCORD_TOKEN)"))
	}
	if c.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord guildId is required (set CIRCLEBOT_GUILD_ID)"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store path is required for the sqlite driver"))
		}
	case "mongo":
		if c.Store.URI == "" {
			errs = append(errs, errors.New("store uri is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required when telegram is enabled"))
	}
	return errors.Join(errs...)
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
