package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Governor    GovernorConfig  `toml:"governor"`
	Discovery   DiscoveryConfig `toml:"discovery"`
	Extractor   ExtractorConfig `toml:"extractor"`
	Enhancer    EnhancerConfig  `toml:"enhancer"`
	Review      ReviewConfig    `toml:"review"`
	Retention   RetentionConfig `toml:"retention"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`       // e.g. "1s" - how often workers poll for claimable jobs
	Concurrency       int    `toml:"concurrency"`         // Number of concurrent workers
	DefaultMaxRetries int    `toml:"default_max_retries"` // Retry budget for transient failures
	RetryBaseDelay    string `toml:"retry_base_delay"`    // Base delay for exponential backoff, e.g. "5s"
	RetryMaxDelay     string `toml:"retry_max_delay"`     // Backoff cap, e.g. "10m"
	DefaultTimeout    string `toml:"default_timeout"`     // Per-job timeout, e.g. "15m"
	BatchSplitSize    int    `toml:"batch_split_size"`    // Extraction jobs above this URL count are split into sub-jobs
	StaleThreshold    string `toml:"stale_threshold"`     // Running jobs with older heartbeats are re-queued on startup
}

// GovernorConfig holds per-domain request budgets and pacing policy
type GovernorConfig struct {
	PerSecond        int    `toml:"per_second"`         // Request ceiling per domain per second
	PerMinute        int    `toml:"per_minute"`         // Request ceiling per domain per minute
	PerHour          int    `toml:"per_hour"`           // Request ceiling per domain per hour
	PerDay           int    `toml:"per_day"`            // Request ceiling per domain per day
	MaxConcurrent    int    `toml:"max_concurrent"`     // Simultaneous in-flight requests per domain
	BaseDelay        string `toml:"base_delay"`         // Minimum inter-request delay, jittered +/-20%
	ErrorBackoffBase string `toml:"error_backoff_base"` // First consecutive-error backoff step
	ErrorBackoffMax  string `toml:"error_backoff_max"`  // Hard ceiling for error backoff
	DiscouragedDays  []int  `toml:"discouraged_days"`   // Weekdays (0=Sunday) of the advisory off-limits band
	DiscouragedStart int    `toml:"discouraged_start"`  // Hour of day the band starts (inclusive)
	DiscouragedEnd   int    `toml:"discouraged_end"`    // Hour of day the band ends (exclusive)
}

// DiscoveryConfig configures search providers and candidate filtering
type DiscoveryConfig struct {
	ProfileDomain   string           `toml:"profile_domain"`    // Target profile site, e.g. "profiles.example.com"
	ProfilePathGlob string           `toml:"profile_path_glob"` // Canonical profile URL path prefix, e.g. "/in/"
	MaxQueries      int              `toml:"max_queries"`       // Upper bound on generated queries per discovery run
	Providers       []ProviderConfig `toml:"providers"`
}

// ProviderConfig describes one external search provider endpoint
type ProviderConfig struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"` // Query URL template; %s receives the url-encoded query
	APIKey   string `toml:"api_key"`
	Timeout  string `toml:"timeout"`
}

// ExtractorConfig contains page fetch and parsing configuration
type ExtractorConfig struct {
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"`
	MaxBodySize    int    `toml:"max_body_size"`     // Maximum response body size in bytes
	FetchRate      string `toml:"fetch_rate"`        // Global polite-fetch pacing, e.g. "1s" between fetches
	MaxRawTextSize int    `toml:"max_raw_text_size"` // Raw page text retained for enhancement prompts
}

// EnhancerConfig contains text-generation provider configuration
type EnhancerConfig struct {
	Provider    string  `toml:"provider"`    // "claude" or "gemini"
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
	MaxPrompt   int     `toml:"max_prompt"`  // Raw-text excerpt budget in characters
}

// ReviewConfig holds auto-approval policy for validated profiles
type ReviewConfig struct {
	AutoApprove     bool    `toml:"auto_approve"`     // Allow high-confidence records to bypass manual review
	MinConfidence   float64 `toml:"min_confidence"`   // Manual review below this confidence
	MinCompleteness float64 `toml:"min_completeness"` // Manual review below this completeness
	MaxWarnings     int     `toml:"max_warnings"`     // Manual review above this warning count
}

// RetentionConfig holds category time-to-live and sweep schedule
type RetentionConfig struct {
	Schedule      string `toml:"schedule"`       // Cron expression for the sweep
	DiscoveredTTL string `toml:"discovered_ttl"` // Raw unreviewed records
	ExtractedTTL  string `toml:"extracted_ttl"`  // Extracted/validated records
	JobTTL        string `toml:"job_ttl"`        // Terminal job records
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in reperio.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			DefaultMaxRetries: 3,
			RetryBaseDelay:    "5s",
			RetryMaxDelay:     "10m",
			DefaultTimeout:    "15m",
			BatchSplitSize:    10,
			StaleThreshold:    "10m",
		},
		Governor: GovernorConfig{
			PerSecond:        1,
			PerMinute:        10,
			PerHour:          100,
			PerDay:           500,
			MaxConcurrent:    2,
			BaseDelay:        "2s",
			ErrorBackoffBase: "10s",
			ErrorBackoffMax:  "15m",
			DiscouragedDays:  []int{1, 2, 3, 4, 5}, // Target business hours, Mon-Fri
			DiscouragedStart: 9,
			DiscouragedEnd:   17,
		},
		Discovery: DiscoveryConfig{
			ProfileDomain:   "profiles.example.com",
			ProfilePathGlob: "/in/",
			MaxQueries:      5,
		},
		Extractor: ExtractorConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout: "30s",
			MaxBodySize:    10 * 1024 * 1024,
			FetchRate:      "1s",
			MaxRawTextSize: 20000,
		},
		Enhancer: EnhancerConfig{
			Provider:    "claude",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   4096,
			Timeout:     "2m",
			Temperature: 0.2,
			MaxPrompt:   8000,
		},
		Review: ReviewConfig{
			AutoApprove:     false,
			MinConfidence:   0.7,
			MinCompleteness: 0.6,
			MaxWarnings:     5,
		},
		Retention: RetentionConfig{
			Schedule:      "0 3 * * *", // Daily at 03:00
			DiscoveredTTL: "168h",      // 7 days
			ExtractedTTL:  "720h",      // 30 days
			JobTTL:        "2160h",     // 90 days
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("REPERIO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("REPERIO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REPERIO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("REPERIO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if concurrency := os.Getenv("REPERIO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if key := os.Getenv("REPERIO_ENHANCER_API_KEY"); key != "" {
		config.Enhancer.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Enhancer.APIKey == "" {
		config.Enhancer.APIKey = key
	}
	if level := os.Getenv("REPERIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, falling back to def on empty or invalid input
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
