package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Storage backends for the durable local slot.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config captures everything the storefront client needs at startup.
type Config struct {
	APIURL         string
	Storage        string
	StatePath      string
	Namespace      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LogLevel       string
	LogFormat      string
	LogOutput      string
	RequestTimeout time.Duration
	RemoteRate     float64
	RetryInterval  time.Duration
	MinOrderTotal  decimal.Decimal

	// MergePolicy names how login resolves quantity conflicts: max, local,
	// remote or sum.
	MergePolicy      string
	MergeConcurrency int
}

const (
	defaultConfigPath     = "~/.config/storefront/config.toml"
	defaultStatePath      = "~/.local/share/storefront/state.toml"
	defaultAPIURL         = "http://localhost:5000/api"
	defaultNamespace      = "storefront"
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultLogOutput      = "stderr"
	defaultRequestTimeout = 10 * time.Second
	defaultRemoteRate     = 10
	defaultRetryInterval  = 5 * time.Second
	defaultMinOrderTotal  = "0.01"
	defaultMergePolicy    = "max"
	defaultMergeWorkers   = 4
)

var mergePolicies = map[string]bool{"max": true, "local": true, "remote": true, "sum": true}

// Environment overrides applied after the config file.
const (
	EnvAPIURL    = "STOREFRONT_API_URL"
	EnvStorage   = "STOREFRONT_STORAGE"
	EnvRedisAddr = "STOREFRONT_REDIS_ADDR"
	EnvLogLevel  = "STOREFRONT_LOG_LEVEL"
	EnvNamespace = "STOREFRONT_NAMESPACE"
	EnvMerge     = "STOREFRONT_MERGE_POLICY"
)

type rawConfig struct {
	APIURL         string   `toml:"api_url"`
	Storage        string   `toml:"storage"`
	StatePath      string   `toml:"state_path"`
	Namespace      string   `toml:"namespace"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisPassword  string   `toml:"redis_password"`
	RedisDB        int      `toml:"redis_db"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"`
	LogOutput      string   `toml:"log_output"`
	RequestTimeout string   `toml:"request_timeout"`
	RemoteRate     *float64 `toml:"remote_rate"`
	RetryInterval  string   `toml:"retry_interval"`
	MinOrderTotal  string   `toml:"min_order_total"`

	MergePolicy      string `toml:"merge_policy"`
	MergeConcurrency int    `toml:"merge_concurrency"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		APIURL:         defaultAPIURL,
		Storage:        StorageFile,
		StatePath:      mustExpand(defaultStatePath),
		Namespace:      defaultNamespace,
		RedisAddr:      defaultRedisAddr,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		LogOutput:      defaultLogOutput,
		RequestTimeout: defaultRequestTimeout,
		RemoteRate:     defaultRemoteRate,
		RetryInterval:  defaultRetryInterval,
		MinOrderTotal:  decimal.RequireFromString(defaultMinOrderTotal),

		MergePolicy:      defaultMergePolicy,
		MergeConcurrency: defaultMergeWorkers,
	}
}

// LoadEnvFile loads a .env file into the process environment. A missing file
// is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load locates and parses the config file, falling back to defaults when it
// is missing, then applies environment overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg)
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.APIURL = orDefault(raw.APIURL, cfg.APIURL)
	cfg.Storage = strings.ToLower(orDefault(raw.Storage, cfg.Storage))
	cfg.Namespace = orDefault(raw.Namespace, cfg.Namespace)
	cfg.RedisAddr = orDefault(raw.RedisAddr, cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(raw.RedisPassword)
	cfg.RedisDB = raw.RedisDB
	cfg.LogLevel = orDefault(raw.LogLevel, cfg.LogLevel)
	cfg.LogFormat = orDefault(raw.LogFormat, cfg.LogFormat)
	cfg.LogOutput = orDefault(raw.LogOutput, cfg.LogOutput)
	if out := cfg.LogOutput; out != "stdout" && out != "stderr" {
		cfg.LogOutput = mustExpand(out)
	}
	if p := strings.TrimSpace(raw.StatePath); p != "" {
		cfg.StatePath = mustExpand(p)
	}
	if raw.RemoteRate != nil {
		if *raw.RemoteRate < 0 {
			return Config{}, fmt.Errorf("parse config: remote_rate must not be negative")
		}
		cfg.RemoteRate = *raw.RemoteRate
	}
	if cfg.RequestTimeout, err = parseDuration("request_timeout", raw.RequestTimeout, cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryInterval, err = parseDuration("retry_interval", raw.RetryInterval, cfg.RetryInterval); err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(raw.MinOrderTotal); v != "" {
		total, err := decimal.NewFromString(v)
		if err != nil || total.IsNegative() {
			return Config{}, fmt.Errorf("parse config: min_order_total %q is not a non-negative decimal", v)
		}
		cfg.MinOrderTotal = total
	}
	cfg.MergePolicy = strings.ToLower(orDefault(raw.MergePolicy, cfg.MergePolicy))
	if raw.MergeConcurrency < 0 {
		return Config{}, fmt.Errorf("parse config: merge_concurrency must not be negative")
	}
	if raw.MergeConcurrency > 0 {
		cfg.MergeConcurrency = raw.MergeConcurrency
	}

	return applyEnv(cfg)
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorage)); v != "" {
		cfg.Storage = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNamespace)); v != "" {
		cfg.Namespace = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMerge)); v != "" {
		cfg.MergePolicy = strings.ToLower(v)
	}
	if !mergePolicies[cfg.MergePolicy] {
		return Config{}, fmt.Errorf("unknown merge policy %q", cfg.MergePolicy)
	}
	switch cfg.Storage {
	case StorageFile, StorageRedis, StorageMemory:
	default:
		return Config{}, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
	return cfg, nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("parse config: %s %q is not a valid duration", key, value)
	}
	return d, nil
}

func orDefault(value, def string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return def
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
