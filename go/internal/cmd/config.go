package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the binary configuration. Defaults come from defaultConfig, then an
// optional YAML file, then environment variables.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	Port     string `yaml:"port" env:"PORT"`

	API struct {
		BaseURL string        `yaml:"base_url" env:"BASE_URL"`
		Token   string        `yaml:"token" env:"TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	} `yaml:"api" envPrefix:"MATCH_API_"`

	Push struct {
		Transport      string        `yaml:"transport" env:"TRANSPORT"` // nats or websocket
		NATSURL        string        `yaml:"nats_url" env:"NATS_URL"`
		WebSocketURL   string        `yaml:"websocket_url" env:"WEBSOCKET_URL"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	} `yaml:"push" envPrefix:"PUSH_"`

	Identity struct {
		Path string `yaml:"path" env:"PATH"`
	} `yaml:"identity" envPrefix:"IDENTITY_"`

	Engine struct {
		RefetchCooldown  time.Duration `yaml:"refetch_cooldown" env:"REFETCH_COOLDOWN"`
		SafetyTimeout    time.Duration `yaml:"safety_timeout" env:"SAFETY_TIMEOUT"`
		LatencyWindow    time.Duration `yaml:"latency_window" env:"LATENCY_WINDOW"`
		SubmissionWindow time.Duration `yaml:"submission_window" env:"SUBMISSION_WINDOW"`
		RecentEvents     int           `yaml:"recent_events" env:"RECENT_EVENTS"`
	} `yaml:"engine" envPrefix:"ENGINE_"`

	Bridge struct {
		AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"bridge" envPrefix:"BRIDGE_"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.Port = "8080"
	cfg.API.BaseURL = "http://localhost:8081"
	cfg.API.Timeout = 10 * time.Second
	cfg.Push.Transport = "nats"
	cfg.Push.NATSURL = "nats://localhost:4222"
	cfg.Push.WebSocketURL = "ws://localhost:8081/ws"
	cfg.Push.ReconnectDelay = 2 * time.Second
	cfg.Identity.Path = "cardsync.db"
	return cfg
}

// loadConfig reads path when it exists and applies environment overrides
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Push.Transport {
	case "nats", "websocket":
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	if c.API.BaseURL == "" {
		return errors.New("match API base URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
