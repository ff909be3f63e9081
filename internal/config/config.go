package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the platform enricher
type Config struct {
	// Storage
	DatabasePath string `validate:"required"`
	PostgresURL  string
	OutputDir    string `validate:"required"`

	// Inputs
	GTFSPath      string        `validate:"required"`
	GTFSURL       string        `validate:"omitempty,url"`
	GTFSMaxAge    time.Duration `validate:"gte=0"`
	OverridesPath string

	// Timetable API
	TimetableAPIURL   string        `validate:"required,url"`
	QueryTimeout      time.Duration `validate:"gt=0"`
	RequestsPerSecond float64       `validate:"gte=0"`
	Timezone          string        `validate:"required"`
	QueryDayOffset    int           `validate:"gte=0"`

	// Crawl
	NestLevel       int           `validate:"gte=1,lte=10"`
	CrawlWorkers    int           `validate:"gte=1,lte=256"`
	SeedConcurrency int           `validate:"gte=1"`
	CacheTTL        time.Duration `validate:"gt=0"`
	FullRefresh     bool

	// API
	ListenAddr     string `validate:"required"`
	AllowedOrigins []string

	// Logging
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogDevelopment bool
}

// LoadDotEnv loads .env and then .env.local, which overrides it. Missing files are ignored.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
}

// Load reads configuration from environment variables with defaults and validates it
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath: getEnv("PLATFORMS_DATABASE", "data/platforms.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		OutputDir:    getEnv("OUTPUT_DIR", "raw"),

		GTFSPath:      getEnv("GTFS_PATH", "data/gtfs"),
		GTFSURL:       getEnv("GTFS_URL", ""),
		GTFSMaxAge:    getEnvDuration("GTFS_MAX_AGE", 7*24*time.Hour),
		OverridesPath: getEnv("OVERRIDES_PATH", "overrides.json"),

		TimetableAPIURL:   getEnv("TIMETABLE_API_URL", "https://bmtcmobileapi.karnataka.gov.in/WebAPI/"),
		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 15*time.Second),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 0),
		Timezone:          getEnv("TIMETABLE_TIMEZONE", "Asia/Kolkata"),
		QueryDayOffset:    getEnvInt("QUERY_DAY_OFFSET", 1),

		NestLevel:       getEnvInt("NEST_LEVEL", 2),
		CrawlWorkers:    getEnvInt("CRAWL_WORKERS", 10),
		SeedConcurrency: getEnvInt("SEED_CONCURRENCY", 1),
		CacheTTL:        getEnvDuration("CACHE_TTL", 24*time.Hour),
		FullRefresh:     getEnvBool("FULL_REFRESH", false),

		ListenAddr:     getEnv("LISTEN_ADDR", ":8081"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),

		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogDevelopment: getEnvBool("LOG_DEVELOPMENT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that the timezone resolves
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the timezone used to compute query dates
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
