package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Client configures the lobby client.
type Client struct {
	BaseURL     string `env:"CHAT_BASE_URL"     envDefault:"http://localhost:8080"`
	HubURL      string `env:"CHAT_HUB_URL"`
	LoginPath   string `env:"CHAT_LOGIN_PATH"   envDefault:"/"`
	RefreshPath string `env:"CHAT_REFRESH_PATH" envDefault:"/auth/refresh"`
	DefaultRoom string `env:"CHAT_DEFAULT_ROOM" envDefault:"general"`

	RequestTimeout time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"15s"`
	DialTimeout    time.Duration `env:"CHAT_DIAL_TIMEOUT"    envDefault:"10s"`

	CoalesceRenewals  bool `env:"CHAT_COALESCE_RENEWALS"   envDefault:"false"`
	Reconnect         bool `env:"CHAT_RECONNECT"           envDefault:"false"`
	ReconnectMaxTries uint `env:"CHAT_RECONNECT_MAX_TRIES" envDefault:"5"`
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.HubURL == "" {
		hub, err := HubURLFor(cfg.BaseURL)
		if err != nil {
			return Client{}, err
		}
		cfg.HubURL = hub
	}
	return cfg, nil
}

// HubURLFor derives the websocket endpoint from an http(s) base URL.
func HubURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Server configures the reference hub backend.
type Server struct {
	Addr       string        `env:"ADDR"              envDefault:":8080"`
	BaseURL    string        `env:"BASE_URL"          envDefault:"http://localhost:8080"`
	DSN        string        `env:"DB_DSN"`
	RedisAddr  string        `env:"REDIS_ADDR"`
	JWTSecret  string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.JWTSecret == "" {
		return Server{}, errors.New("JWT_SECRET is not set")
	}
	return cfg, nil
}
