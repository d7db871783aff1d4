// Package config loads latch settings from a file and LATCH_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the private API host.
const DefaultBaseURL = "https://i.instagram.com"

// Credential store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config holds every setting the CLI needs to assemble a client.
type Config struct {
	BaseURL            string `yaml:"base_url"`
	UserAgent          string `yaml:"user_agent"`
	LogLevel           string `yaml:"log_level"`
	Listen             string `yaml:"listen"`
	MaxChallengeRounds int    `yaml:"max_challenge_rounds"`

	Device DeviceConfig `yaml:"device"`
	Retry  RetryConfig  `yaml:"retry"`
	Store  StoreConfig  `yaml:"store"`
}

// DeviceConfig pins the emulated device. Empty fields are generated.
type DeviceConfig struct {
	DeviceID       string `yaml:"device_id"`
	UUID           string `yaml:"uuid"`
	PhoneID        string `yaml:"phone_id"`
	FamilyDeviceID string `yaml:"family_device_id"`
	AdvertisingID  string `yaml:"advertising_id"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	EncryptionKey string `yaml:"encryption_key"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		LogLevel:           "info",
		Listen:             ":8080",
		MaxChallengeRounds: 8,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Store: StoreConfig{
			Backend:     BackendFile,
			Dir:         ".latch/credentials",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "latch:",
		},
	}
}

// envKeys maps environment variables to config paths.
var envKeys = map[string]string{
	"LATCH_BASE_URL":             "base_url",
	"LATCH_USER_AGENT":           "user_agent",
	"LATCH_LOG_LEVEL":            "log_level",
	"LATCH_LISTEN":               "listen",
	"LATCH_MAX_CHALLENGE_ROUNDS": "max_challenge_rounds",
	"LATCH_DEVICE_ID":            "device.device_id",
	"LATCH_DEVICE_UUID":          "device.uuid",
	"LATCH_PHONE_ID":             "device.phone_id",
	"LATCH_FAMILY_DEVICE_ID":     "device.family_device_id",
	"LATCH_ADVERTISING_ID":       "device.advertising_id",
	"LATCH_RETRY_MAX_ATTEMPTS":   "retry.max_attempts",
	"LATCH_RETRY_BACKOFF":        "retry.initial_backoff",
	"LATCH_RETRY_MAX_BACKOFF":    "retry.max_backoff",
	"LATCH_STORE":                "store.backend",
	"LATCH_STORE_DIR":            "store.dir",
	"LATCH_REDIS_ADDR":           "store.redis_addr",
	"LATCH_REDIS_PASSWORD":       "store.redis_password",
	"LATCH_REDIS_DB":             "store.redis_db",
	"LATCH_REDIS_PREFIX":         "store.redis_prefix",
	"LATCH_ENCRYPTION_KEY":       "store.encryption_key",
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error. An empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to apply %s: %w", filepath.Base(path), err)
		}
	}

	env := map[string]any{}
	for name, key := range envKeys {
		if v, ok := lookup(name); ok {
			setPath(env, key, v)
		}
	}
	if err := decode(env, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}
	return raw, nil
}

func setPath(m map[string]any, path, value string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		m[head] = value
		return
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[head] = child
	}
	setPath(child, rest, value)
}

// decode merges raw into cfg. Keys absent from raw keep their current value.
func decode(raw map[string]any, cfg *Config) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate checks the values Load cannot repair.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown credential store %q (want memory, file or redis)", c.Store.Backend)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.MaxChallengeRounds <= 0 {
		return fmt.Errorf("max_challenge_rounds must be positive, got %d", c.MaxChallengeRounds)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
