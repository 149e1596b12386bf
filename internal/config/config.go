// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Environment string
	SessionTTL  time.Duration

	LLM       LLMConfig
	Scheduler SchedulerConfig

	MaxClarificationAttempts int
	SweepInterval            time.Duration
	NATSURL                  string
	AnchorsFile              string
	OTelEnabled              bool
}

// EndpointConfig points at one OpenAI-compatible backend.
type EndpointConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Configured reports whether the endpoint has enough to be dialed.
func (e EndpointConfig) Configured() bool {
	return e.Model != "" && (e.BaseURL != "" || e.APIKey != "")
}

// LLMConfig controls the generation gateway.
type LLMConfig struct {
	Primary  EndpointConfig
	Fallback EndpointConfig
	// GRPCAddr, when set, makes the gRPC sidecar the primary backend.
	GRPCAddr string

	RateLimitRPS             float64
	RateBurst                int
	DeterministicTemperature float32
	CreativeTemperature      float32
	Timeout                  time.Duration
}

// SchedulerConfig tunes slot search and missed-task detection.
type SchedulerConfig struct {
	HorizonDays int
	Tolerance   time.Duration
	MissedGrace time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/goally.db"),
		Environment: getEnv("ENVIRONMENT", "development"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 24*time.Hour),
		LLM: LLMConfig{
			Primary: EndpointConfig{
				BaseURL: getEnv("LLM_PRIMARY_BASE_URL", ""),
				Model:   getEnv("LLM_PRIMARY_MODEL", "gpt-4o-mini"),
				APIKey:  getEnv("LLM_PRIMARY_API_KEY", ""),
			},
			Fallback: EndpointConfig{
				BaseURL: getEnv("LLM_FALLBACK_BASE_URL", ""),
				Model:   getEnv("LLM_FALLBACK_MODEL", ""),
				APIKey:  getEnv("LLM_FALLBACK_API_KEY", ""),
			},
			GRPCAddr:                 getEnv("LLM_GRPC_ADDR", ""),
			RateLimitRPS:             getEnvFloat("LLM_RATE_LIMIT_RPS", 5),
			RateBurst:                getEnvInt("LLM_RATE_BURST", 10),
			DeterministicTemperature: float32(getEnvFloat("LLM_TEMPERATURE_DETERMINISTIC", 0)),
			CreativeTemperature:      float32(getEnvFloat("LLM_TEMPERATURE_CREATIVE", 0.7)),
			Timeout:                  getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			HorizonDays: getEnvInt("SCHEDULER_HORIZON_DAYS", 7),
			Tolerance:   getEnvDuration("SCHEDULER_TOLERANCE", 0),
			MissedGrace: getEnvDuration("MISSED_GRACE", 0),
		},
		MaxClarificationAttempts: getEnvInt("MAX_CLARIFICATION_ATTEMPTS", 2),
		SweepInterval:            getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		NATSURL:                  getEnv("NATS_URL", ""),
		AnchorsFile:              getEnv("ANCHORS_FILE", ""),
		OTelEnabled:              getEnvBool("OTEL_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.LLM.GRPCAddr == "" && c.LLM.Primary.Model == "" {
		errs = append(errs, errors.New("LLM_PRIMARY_MODEL cannot be empty without LLM_GRPC_ADDR"))
	}
	if c.LLM.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("LLM_RATE_LIMIT_RPS must be > 0"))
	}
	if c.LLM.RateBurst <= 0 {
		errs = append(errs, errors.New("LLM_RATE_BURST must be > 0"))
	}
	if t := c.LLM.DeterministicTemperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE_DETERMINISTIC out of range: %v", t))
	}
	if t := c.LLM.CreativeTemperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE_CREATIVE out of range: %v", t))
	}
	if c.MaxClarificationAttempts < 1 {
		errs = append(errs, errors.New("MAX_CLARIFICATION_ATTEMPTS must be >= 1"))
	}
	if c.Scheduler.HorizonDays < 1 {
		errs = append(errs, errors.New("SCHEDULER_HORIZON_DAYS must be >= 1"))
	}
	if c.Scheduler.Tolerance < 0 || c.Scheduler.MissedGrace < 0 {
		errs = append(errs, errors.New("SCHEDULER_TOLERANCE and MISSED_GRACE cannot be negative"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.Environment != "" {
		return strings.EqualFold(c.Environment, "development")
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := []string{}
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s", "5m") and bare seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
