package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Tutor pipeline
	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	TutorProvider   string        `envconfig:"TUTOR_PROVIDER" default:"openai"`
	ChatModel       string        `envconfig:"CHAT_MODEL"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`

	// Gemini (optional alternate tutor provider, Vertex AI backend)
	GeminiSABase64 string `envconfig:"GEMINI_SA_BASE64"`
	GCPLocation    string `envconfig:"GCP_LOCATION" default:"europe-west1"`

	// License directory (published spreadsheet CSV export)
	LicenseSheetURL string        `envconfig:"LICENSE_SHEET_URL"`
	LicenseCacheTTL time.Duration `envconfig:"LICENSE_CACHE_TTL" default:"10m"`
	LicenseRequired bool          `envconfig:"LICENSE_REQUIRED" default:"true"`

	// Teacher auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"12h"`

	// Share links
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"https://language-lab.fwb-labs.be"`

	// Redis (optional license cache)
	RedisURL string `envconfig:"REDIS_URL"`

	// Limits
	MaxAudioBytes int64 `envconfig:"MAX_AUDIO_BYTES" default:"10485760"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that configuration required before accepting traffic is
// present. A failure here is fatal at startup.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.LicenseRequired && c.LicenseSheetURL == "" {
		return fmt.Errorf("LICENSE_SHEET_URL is required when LICENSE_REQUIRED is set")
	}
	switch c.TutorProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown TUTOR_PROVIDER %q", c.TutorProvider)
	}
	return nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
