// Package config loads environment variables and provides a typed Config used
// across the alerter. It applies sensible defaults so the binary can run
// locally with minimal setup; use ValidateTwitchReady / ValidateTelegramReady
// for the required credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TokenDir           string

	// Watch lists
	UserListFile     string
	PriorityListFile string

	// Polling
	RefreshInterval  time.Duration
	PriorityInterval time.Duration

	// Alerts
	SendThumbnail bool
	NewAlertsOnly bool

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// HTTP status server; empty disables it
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Missing credentials
// don't fail here; the Validate helpers gate the features that need them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TokenDir = os.Getenv("TOKEN_DIR")
	if cfg.TokenDir == "" {
		cfg.TokenDir = "."
	}

	cfg.UserListFile = os.Getenv("USER_LIST_FILE")
	if cfg.UserListFile == "" {
		cfg.UserListFile = "livealert.txt"
	}
	cfg.PriorityListFile = os.Getenv("PRIORITY_LIST_FILE")
	if cfg.PriorityListFile == "" {
		cfg.PriorityListFile = "livealert-priority.txt"
	}

	cfg.RefreshInterval = 30 * time.Second
	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL %q", v)
		}
		cfg.RefreshInterval = d
	}
	if v := os.Getenv("PRIORITY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid PRIORITY_INTERVAL %q", v)
		}
		cfg.PriorityInterval = d
	}

	cfg.SendThumbnail = boolEnv("SEND_THUMBNAIL", true)
	cfg.NewAlertsOnly = boolEnv("NEW_ALERTS_ONLY", true)

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q", v)
		}
		cfg.TelegramChatID = id
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateTwitchReady checks the credentials every Helix call needs.
func (c *Config) ValidateTwitchReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// ValidateTelegramReady checks the fields the Telegram sink needs.
func (c *Config) ValidateTelegramReady() error {
	if c.TelegramToken == "" || c.TelegramChatID == 0 {
		return fmt.Errorf("missing telegram env: require TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID")
	}
	return nil
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
