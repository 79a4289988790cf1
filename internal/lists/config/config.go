package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// DataDir holds the persisted lists and the compiled rule document.
	DataDir string `koanf:"data_dir" validate:"required"`

	// StateDB is the bbolt file for ETags and accepted manifests.
	// Empty keeps that state in memory only.
	StateDB string `koanf:"state_db"`

	// ETagSuite namespaces ETags inside the state database.
	ETagSuite string `koanf:"etag_suite" validate:"required"`

	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=1m"`
	FetchTimeout    time.Duration `koanf:"fetch_timeout" validate:"gte=1s"`
	UserAgent       string        `koanf:"user_agent" validate:"required"`

	// IndexCacheSize sizes the tracker lookup cache; 0 disables it.
	IndexCacheSize int `koanf:"index_cache_size" validate:"gte=0"`

	// IndexFPRate is the Bloom filter target false-positive rate.
	IndexFPRate float64 `koanf:"index_fp_rate" validate:"gt=0,lt=1"`

	// Unprotected lists domains on which blocking is disabled.
	Unprotected []string `koanf:"unprotected"`

	TrackersURL            string `koanf:"trackers_url" validate:"omitempty,list_url"`
	TrackersManifestURL    string `koanf:"trackers_manifest_url" validate:"omitempty,list_url"`
	RegionsURL             string `koanf:"regions_url" validate:"omitempty,list_url"`
	RegionsManifestURL     string `koanf:"regions_manifest_url" validate:"omitempty,list_url"`
	AttributionURL         string `koanf:"attribution_url" validate:"omitempty,list_url"`
	AttributionManifestURL string `koanf:"attribution_manifest_url" validate:"omitempty,list_url"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
// No list URLs are set: lists without an upstream are served from disk only.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:             "prod",
	LogLevel:        "info",
	DataDir:         "/var/lib/rr-lists/",
	StateDB:         "/var/lib/rr-lists/state.db",
	ETagSuite:       "default",
	RefreshInterval: 12 * time.Hour,
	FetchTimeout:    30 * time.Second,
	UserAgent:       "rr-listd",
	IndexCacheSize:  10000,
	IndexFPRate:     0.01,
	Unprotected:     []string{},
}

// ListPath returns the file backing list key.
func (c *AppConfig) ListPath(key domain.ListKey) string {
	return filepath.Join(c.DataDir, key.String()+".json")
}

// RulesPath returns the file the compiled rule document is written to.
func (c *AppConfig) RulesPath() string {
	return filepath.Join(c.DataDir, "content-rules.json")
}

// Source returns the payload and manifest URLs configured for key.
func (c *AppConfig) Source(key domain.ListKey) (listURL, manifestURL string) {
	switch key {
	case domain.ListTrackers:
		return c.TrackersURL, c.TrackersManifestURL
	case domain.ListRegions:
		return c.RegionsURL, c.RegionsManifestURL
	case domain.ListAttribution:
		return c.AttributionURL, c.AttributionManifestURL
	}
	return "", ""
}

// validListURL accepts absolute http(s) URLs with a host.
func validListURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// envLoader loads environment variables with the prefix "LISTS_".
// Values containing spaces or commas become lists. Can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "LISTS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "LISTS_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "list_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("list_url", validListURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
