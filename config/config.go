package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL        string
	Port               string
	GoEnv              string
	Auth0Domain        string
	Auth0Audience      string
	GuestTokenSecret   string
	CORSAllowedOrigins []string
	AWSRegion          string
	AWSS3Bucket        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	SMTPFrom           string
	RabbitMQURL        string
	Reconcile          ReconcileConfig
	LogLevel           string
	LogFormat          string
	LogOutput          string
	LogFile            string
}

// ReconcileConfig controls the background reconciliation schedule.
// Window bounds are "HH:MM" in the configured local time zone.
type ReconcileConfig struct {
	WindowStart      string
	WindowEnd        string
	TimeZone         string
	SweepInterval    time.Duration
	FallbackInterval time.Duration
}

var appConfig *Config

// Load loads the configuration from environment variables
// It automatically determines which .env file to load based on GO_ENV
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	// Try to load environment-specific file first
	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// In production environment variables are set directly
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		GoEnv:              getEnv("GO_ENV", "development"),
		Auth0Domain:        getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:      getEnv("AUTH0_AUDIENCE", ""),
		GuestTokenSecret:   getEnv("GUEST_TOKEN_SECRET", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSS3Bucket:        getEnv("AWS_S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnvInt("SMTP_PORT", 587),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:           getEnv("SMTP_FROM", "orders@localhost"),
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		Reconcile: ReconcileConfig{
			WindowStart:      getEnv("RECONCILE_WINDOW_START", "07:00"),
			WindowEnd:        getEnv("RECONCILE_WINDOW_END", "09:00"),
			TimeZone:         getEnv("RECONCILE_TIMEZONE", "Local"),
			SweepInterval:    getEnvDuration("RECONCILE_SWEEP_INTERVAL", time.Hour),
			FallbackInterval: getEnvDuration("RECONCILE_FALLBACK_INTERVAL", 10*time.Minute),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),
		LogFile:   getEnv("LOG_FILE", "logs/app.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && !c.IsTest() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.GuestTokenSecret == "" && c.IsProduction() {
		return fmt.Errorf("GUEST_TOKEN_SECRET is required in production")
	}
	if _, err := ParseClock(c.Reconcile.WindowStart); err != nil {
		return fmt.Errorf("RECONCILE_WINDOW_START: %w", err)
	}
	if _, err := ParseClock(c.Reconcile.WindowEnd); err != nil {
		return fmt.Errorf("RECONCILE_WINDOW_END: %w", err)
	}
	if _, err := c.Reconcile.Location(); err != nil {
		return fmt.Errorf("RECONCILE_TIMEZONE: %w", err)
	}
	if c.Reconcile.SweepInterval <= 0 || c.Reconcile.FallbackInterval <= 0 {
		return fmt.Errorf("reconcile intervals must be positive")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// IsTest returns true if the application is running in test mode
func (c *Config) IsTest() bool {
	return c.GoEnv == "test"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// GetDatabaseURL returns the database URL
func (c *Config) GetDatabaseURL() string {
	return c.DatabaseURL
}

// Location resolves the configured reconciliation time zone.
func (r ReconcileConfig) Location() (*time.Location, error) {
	if r.TimeZone == "" || r.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(r.TimeZone)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q, expected HH:MM", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// GetConfig returns the last loaded configuration
func GetConfig() *Config {
	return appConfig
}

// SetConfig sets the configuration instance (primarily for testing)
func SetConfig(cfg *Config) {
	appConfig = cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
