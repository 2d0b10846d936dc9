package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where constellation stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Provider configuration
	ProviderBaseURL string // CONSTELLATION_PROVIDER_BASE_URL
	ProviderToken   string // CONSTELLATION_PROVIDER_TOKEN
	ProviderTimeout time.Duration

	// Pipeline configuration
	PriorityHandle string // CONSTELLATION_PRIORITY_HANDLE, bypasses the daily quota
	DailyLimit     int    // CONSTELLATION_DAILY_LIMIT, refreshes per handle per UTC day
	MaxConcurrent  int    // CONSTELLATION_MAX_CONCURRENT, in-flight job cap
	DeepScanLimit  int    // CONSTELLATION_DEEP_SCAN_LIMIT, mutuals to expand for inter-mutual edges
	PollInterval   time.Duration
	StuckThreshold time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// FromEnv loads configuration from CONSTELLATION_* environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("CONSTELLATION_MODE", p.Mode)
	p.Addr = getEnvOrDefault("CONSTELLATION_ADDR", p.Addr)
	p.Port = getEnvIntOrDefault("CONSTELLATION_PORT", p.Port)
	p.Data = getEnvOrDefault("CONSTELLATION_DATA", p.Data)
	p.DSN = getEnvOrDefault("CONSTELLATION_DSN", p.DSN)
	p.Driver = getEnvOrDefault("CONSTELLATION_DRIVER", p.Driver)

	p.ProviderBaseURL = getEnvOrDefault("CONSTELLATION_PROVIDER_BASE_URL", p.ProviderBaseURL)
	p.ProviderToken = getEnvOrDefault("CONSTELLATION_PROVIDER_TOKEN", p.ProviderToken)

	p.PriorityHandle = getEnvOrDefault("CONSTELLATION_PRIORITY_HANDLE", p.PriorityHandle)
	p.DailyLimit = getEnvIntOrDefault("CONSTELLATION_DAILY_LIMIT", p.DailyLimit)
	p.MaxConcurrent = getEnvIntOrDefault("CONSTELLATION_MAX_CONCURRENT", p.MaxConcurrent)
	p.DeepScanLimit = getEnvIntOrDefault("CONSTELLATION_DEEP_SCAN_LIMIT", p.DeepScanLimit)
}

// Validate normalizes the profile and fills defaults.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}
	if p.Port == 0 {
		p.Port = 8230
	}
	if p.Data == "" {
		p.Data = "./data"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dataDir, err := filepath.Abs(p.Data)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve data directory %s", p.Data)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create data directory %s", dataDir)
		}
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("constellation_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}
	if p.ProviderBaseURL == "" {
		p.ProviderBaseURL = "https://api.skynet.example"
	}
	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = 30 * time.Second
	}
	if p.DailyLimit <= 0 {
		p.DailyLimit = 5
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 2
	}
	if p.DeepScanLimit < 0 {
		p.DeepScanLimit = 0
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 2 * time.Second
	}
	if p.StuckThreshold <= 0 {
		p.StuckThreshold = 5 * time.Minute
	}
	return nil
}
