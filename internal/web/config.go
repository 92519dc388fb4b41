package web

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/evcraddock/rent-finder/internal/identity"
)

// Config holds server configuration.
type Config struct {
	DevMode     bool
	BaseURL     string // e.g. http://localhost:8080
	TokenSecret string
	TokenTTL    time.Duration
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	ttl := identity.DefaultTokenTTL
	if v := os.Getenv("RF_TOKEN_TTL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid RF_TOKEN_TTL", "value", v, "err", err)
		} else {
			ttl = parsed
		}
	}
	return Config{
		DevMode:     os.Getenv("RF_DEV_MODE") == "true",
		BaseURL:     envOrDefault("RF_BASE_URL", "http://localhost:8080"),
		TokenSecret: os.Getenv("RF_TOKEN_SECRET"),
		TokenTTL:    ttl,
	}
}

// secret returns the configured token secret, or a random one that only
// lives as long as the process.
func (c Config) secret() string {
	if c.TokenSecret != "" {
		return c.TokenSecret
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("reading random bytes: " + err.Error())
	}
	slog.Warn("RF_TOKEN_SECRET not set, identities will not survive a restart")
	return hex.EncodeToString(b)
}

func (c Config) secureCookies() bool {
	return !c.DevMode && strings.HasPrefix(c.BaseURL, "https://")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
