package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid config")

// Camera modes.
const (
	CameraFile    = "file"
	CameraCommand = "command"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"PRESENCE_HTTP_ADDR" envDefault:"127.0.0.1:8090"`
	LogLevel  string `env:"PRESENCE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PRESENCE_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"PRESENCE_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"PRESENCE_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"PRESENCE_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout       time.Duration `env:"PRESENCE_HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	CORSAllowedOrigins []string `env:"PRESENCE_CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Backend.
	APIBaseURL string        `env:"PRESENCE_API_BASE_URL"`
	APITimeout time.Duration `env:"PRESENCE_API_TIMEOUT" envDefault:"15s"`
	CourseID   string        `env:"PRESENCE_COURSE_ID" envDefault:"CS101"`

	// Credential. RedisURL selects the shared store; Credential seeds it.
	Credential    string        `env:"PRESENCE_CREDENTIAL"`
	RedisURL      string        `env:"PRESENCE_REDIS_URL"`
	RedisKey      string        `env:"PRESENCE_REDIS_KEY" envDefault:"presence:credential"`
	CredentialTTL time.Duration `env:"PRESENCE_CREDENTIAL_TTL" envDefault:"0s"`

	// Camera.
	CameraMode     string  `env:"PRESENCE_CAMERA_MODE" envDefault:"file"`
	CameraFile     string  `env:"PRESENCE_CAMERA_FILE"`
	CameraCommand  string  `env:"PRESENCE_CAMERA_COMMAND"`
	CameraDevice   string  `env:"PRESENCE_CAMERA_DEVICE"`
	CaptureQuality float64 `env:"PRESENCE_CAPTURE_QUALITY" envDefault:"0.8"`

	// Liveliness timing.
	ActionWindow time.Duration `env:"PRESENCE_ACTION_WINDOW" envDefault:"3s"`
	SettleDelay  time.Duration `env:"PRESENCE_SETTLE_DELAY" envDefault:"1s"`

	// Audit: "" (memory), "sqlite:<path>" or a postgres URL.
	AuditDSN   string `env:"PRESENCE_AUDIT_DSN"`
	DBMaxConns int32  `env:"PRESENCE_DB_MAX_CONNS" envDefault:"4"`
	DBMinConns int32  `env:"PRESENCE_DB_MIN_CONNS" envDefault:"0"`

	NATSURL string `env:"PRESENCE_NATS_URL"`

	ScanFeedURL    string `env:"PRESENCE_SCAN_FEED_URL"`
	ScanFeedOrigin string `env:"PRESENCE_SCAN_FEED_ORIGIN"`

	// If true, PRESENCE_FINGERPRINT_KEY MUST be set (>= 16 bytes).
	RequireFingerprintKey bool   `env:"PRESENCE_REQUIRE_FINGERPRINT_KEY" envDefault:"false"`
	FingerprintKey        string `env:"PRESENCE_FINGERPRINT_KEY"`

	// Tracing is opt-in.
	OTelEndpoint string `env:"PRESENCE_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"PRESENCE_OTEL_ENABLED" envDefault:"true"`
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("%w: PRESENCE_API_BASE_URL is required", ErrConfig)
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: PRESENCE_API_BASE_URL must be an absolute http(s) URL", ErrConfig)
	}
	if strings.TrimSpace(c.CourseID) == "" {
		return fmt.Errorf("%w: PRESENCE_COURSE_ID must not be blank", ErrConfig)
	}

	switch c.CameraMode {
	case CameraFile:
		if strings.TrimSpace(c.CameraFile) == "" {
			return fmt.Errorf("%w: PRESENCE_CAMERA_FILE is required in file mode", ErrConfig)
		}
	case CameraCommand:
		if strings.TrimSpace(c.CameraCommand) == "" {
			return fmt.Errorf("%w: PRESENCE_CAMERA_COMMAND is required in command mode", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown PRESENCE_CAMERA_MODE %q", ErrConfig, c.CameraMode)
	}
	if c.CaptureQuality <= 0 || c.CaptureQuality > 1 {
		return fmt.Errorf("%w: PRESENCE_CAPTURE_QUALITY must be in (0, 1]", ErrConfig)
	}

	if c.ActionWindow <= 0 || c.SettleDelay <= 0 || c.APITimeout <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("%w: invalid db pool bounds", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown PRESENCE_LOG_FORMAT %q", ErrConfig, c.LogFormat)
	}
	return nil
}
