package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port           string
	AllowedOrigins []string

	GeminiAPIKey string
	GeminiModel  string
	ModelTimeout time.Duration

	DeveloperPassphrase string
	MaxLoginAttempts    int
	LockoutDuration     time.Duration

	SessionStore         string
	SessionSweepInterval time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int

	PersonaDir string

	LogLevel  string
	LogFormat string
}

func NewConfig() *Config {
	return &Config{
		Port:                 "3000",
		AllowedOrigins:       []string{"http://localhost:5173"},
		GeminiModel:          "gemini-2.0-flash",
		ModelTimeout:         30 * time.Second,
		MaxLoginAttempts:     3,
		LockoutDuration:      30 * time.Minute,
		SessionStore:         StoreMemory,
		SessionSweepInterval: 30 * time.Minute,
		RedisAddr:            "localhost:6379",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load reads the configuration from the environment. Unparsable numbers and
// durations keep their defaults.
func Load() *Config {
	return FromLookup(os.LookupEnv)
}

func FromLookup(lookup func(string) (string, bool)) *Config {
	cfg := NewConfig()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	if v, ok := get("GEMINI_API_KEY"); ok {
		cfg.GeminiAPIKey = v
	}
	if v, ok := get("GEMINI_MODEL"); ok {
		cfg.GeminiModel = v
	}
	if v, ok := get("DEVELOPER_PASSPHRASE"); ok {
		cfg.DeveloperPassphrase = v
	}
	if v, ok := get("SESSION_STORE"); ok {
		cfg.SessionStore = strings.ToLower(v)
	}
	if v, ok := get("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if v, ok := get("PERSONA_DIR"); ok {
		cfg.PersonaDir = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.LogFormat = strings.ToLower(v)
	}

	intVar := func(key string, dst *int) {
		if v, ok := get(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	intVar("MAX_LOGIN_ATTEMPTS", &cfg.MaxLoginAttempts)
	intVar("REDIS_DB", &cfg.RedisDB)
	durationVar("LOCKOUT_DURATION", &cfg.LockoutDuration)
	durationVar("SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval)
	durationVar("MODEL_TIMEOUT", &cfg.ModelTimeout)

	return cfg
}

func (c *Config) Validate() error {
	if c.MaxLoginAttempts <= 0 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be positive, got %d", c.MaxLoginAttempts)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive, got %s", c.LockoutDuration)
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SessionSweepInterval)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive, got %s", c.ModelTimeout)
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

func (c *Config) HasAPIKey() bool {
	return c.GeminiAPIKey != ""
}
