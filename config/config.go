package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from the environment. Only CACHE_PATH is needed for a
// purely offline session; the auth/remote/media settings gate the sync
// and upload side.
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	CachePath string `envconfig:"CACHE_PATH" default:"taleforge-cache.db"`

	// Opportunistic drain cadence for the operation queue.
	DrainInterval time.Duration `envconfig:"DRAIN_INTERVAL" default:"30s"`

	// User id assumed when no auth session is configured.
	LocalUserID string `envconfig:"LOCAL_USER_ID" default:"local"`

	// Remote backend (hosted Postgres). Empty disables syncing.
	RemoteDSN string `envconfig:"REMOTE_DATABASE_URL"`

	// Backend auth. AuthDomain empty disables bearer auth on the local API.
	AuthDomain       string `envconfig:"AUTH_DOMAIN"`
	AuthAudience     string `envconfig:"AUTH_AUDIENCE"`
	AuthTokenURL     string `envconfig:"AUTH_TOKEN_URL"`
	AuthClientID     string `envconfig:"AUTH_CLIENT_ID"`
	AuthClientSecret string `envconfig:"AUTH_CLIENT_SECRET"`
	AuthRefreshToken string `envconfig:"AUTH_REFRESH_TOKEN"`

	// S3-compatible media storage for segment image/audio assets.
	MediaEndpoint string `envconfig:"MEDIA_ENDPOINT"`
	MediaBucket   string `envconfig:"MEDIA_BUCKET" default:"taleforge-media"`
	MediaBaseURL  string `envconfig:"MEDIA_BASE_URL"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return &cfg, nil
}

// SyncEnabled reports whether a remote backend is configured.
func (c *Config) SyncEnabled() bool { return c.RemoteDSN != "" }

// SessionEnabled reports whether a backend auth session is configured.
func (c *Config) SessionEnabled() bool {
	return c.AuthTokenURL != "" && c.AuthRefreshToken != ""
}
