package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DevJWTSecret is the signing secret LoadWithDefaults falls back to.
const DevJWTSecret = "dev-secret-change-me"

// Config holds all application configuration.
type Config struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	Database DatabaseConfig
	GRPC     GRPCConfig
	HTTP     HTTPConfig
	Auth     AuthConfig
	Geocode  GeocodeConfig
	Menu     MenuConfig
	Push     PushConfig
	Game     GameConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string `env:"DB_PATH" envDefault:"app.db" validate:"required"` // SQLite database file path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string `env:"GRPC_ADDRESS" envDefault:":50051" validate:"required"`
}

// HTTPConfig contains the health and metrics listener.
type HTTPConfig struct {
	Address string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"` // JWT signing secret
}

// GeocodeConfig configures the Google Geocoding client. An empty key disables it.
type GeocodeConfig struct {
	APIKey  string  `env:"GOOGLE_API_KEY"`
	BaseURL string  `env:"GEOCODE_BASE_URL" envDefault:"https://maps.googleapis.com/maps/api/geocode/json" validate:"url"`
	RPS     float64 `env:"GEOCODE_RPS" envDefault:"5" validate:"gt=0"`
}

// MenuConfig configures the assistant used for menu suggestions.
type MenuConfig struct {
	APIKey      string        `env:"OPENAI_API_KEY"`
	AssistantID string        `env:"OPENAI_ASSISTANT_ID"`
	BaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1" validate:"url"`
	RPS         float64       `env:"OPENAI_RPS" envDefault:"2" validate:"gt=0"`
	PollEvery   time.Duration `env:"OPENAI_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`
	MaxPolls    int           `env:"OPENAI_MAX_POLLS" envDefault:"30" validate:"gte=1"`
}

// PushConfig configures the broadcast endpoint. An empty endpoint disables pushes.
type PushConfig struct {
	Endpoint  string `env:"PUSH_ENDPOINT" validate:"omitempty,url"`
	ServerKey string `env:"PUSH_SERVER_KEY"`
}

// GameConfig contains gameplay timing.
type GameConfig struct {
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"15m" validate:"gt=0"`
	QueuedOrderTTL     time.Duration `env:"QUEUED_ORDER_TTL" envDefault:"2h" validate:"gt=0"`
	TickInterval       time.Duration `env:"TRACKER_TICK" envDefault:"1s" validate:"gt=0"`
}

// Load loads configuration from the environment (and a .env file if present).
// JWT_SECRET is required.
func Load() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a default for JWT_SECRET.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = DevJWTSecret
	}
	return cfg, nil
}

func parse() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, gRPC: %s, HTTP: %s, Auth: %s, Geocode: %s, Menu: %s, Push: %s, IdleTimeout: %s}",
		c.Database.Path, c.GRPC.Address, c.HTTP.Address,
		mask(c.Auth.JWTSecret), mask(c.Geocode.APIKey), mask(c.Menu.APIKey), mask(c.Push.ServerKey),
		c.Game.SessionIdleTimeout)
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "*** (masked) ***"
}
