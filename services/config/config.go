// Package config holds the gateway's immutable configuration snapshot
// (design notes: "process-wide mutable logger/global config" replaced by
// "an immutable configuration snapshot plus a dedicated reload channel;
// handlers read the current snapshot through an atomic pointer").
// Defaulting style (applyConfigDefaults filling zero-valued fields) is
// grounded on the teacher's services/orchestrator.Config /
// applyConfigDefaults. YAML loading is the domain-stack supplement
// SPEC_FULL.md adds for the out-of-scope-but-contract CLI/config-file
// surface (spec.md §6's "configuration file loading" collaborator).
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/config/secret"

	"gopkg.in/yaml.v3"
)

// Backend selects which backend.Backend implementation Lifecycle wires up.
type Backend string

const (
	BackendNative Backend = "native"
	BackendRemote Backend = "remote"
)

// Config is the gateway's full, mergeable configuration. Secret fields
// (APIKeys) are never included in the redacted view served by GET
// /v1/config (spec.md §4.H).
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	ModelPath   string  `yaml:"model_path" json:"model_path"`
	BackendKind Backend `yaml:"backend" json:"backend"`

	RemoteBaseURL string `yaml:"remote_base_url" json:"remote_base_url"`
	RemoteAPIKey  string `yaml:"remote_api_key" json:"-"`

	APIKeys []string `yaml:"api_keys" json:"-"`

	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	CancellationBound int           `yaml:"cancellation_token_bound" json:"cancellation_token_bound"`

	CacheCapacity int           `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	SkipOptimization  bool `yaml:"-" json:"-"`
	ForceOptimization bool `yaml:"-" json:"-"`

	HardwareProfilePath string `yaml:"hardware_profile_path" json:"hardware_profile_path"`

	LogJSON bool   `yaml:"log_json" json:"log_json"`
	LogDir  string `yaml:"log_dir" json:"log_dir"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	OTelEndpoint   string `yaml:"otel_endpoint" json:"otel_endpoint"`

	GracefulDrainTimeout time.Duration `yaml:"graceful_drain_timeout" json:"graceful_drain_timeout"`
}

// applyDefaults fills zero-valued fields, following the teacher's
// applyConfigDefaults convention of an explicit defaulting pass rather
// than struct-tag defaults.
func applyDefaults(cfg Config) Config {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.BackendKind == "" {
		cfg.BackendKind = BackendNative
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.CancellationBound == 0 {
		cfg.CancellationBound = 8
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 256
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.HardwareProfilePath == "" {
		cfg.HardwareProfilePath = "./config/hardware_profile.json"
	}
	if cfg.GracefulDrainTimeout == 0 {
		cfg.GracefulDrainTimeout = 30 * time.Second
	}
	if modelPath := os.Getenv("GC_MODEL_PATH"); modelPath != "" {
		cfg.ModelPath = modelPath
	}
	return cfg
}

// Load reads a YAML config file at path, applying defaults to any unset
// field. A missing path is not an error: defaults apply to a zero Config.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return applyDefaults(cfg), nil
}

// Redacted returns a copy of cfg with every secret field cleared, for
// GET /v1/config (spec.md §4.H: "redacted view of current configuration
// (no secrets)").
func (c Config) Redacted() Config {
	redacted := c
	redacted.RemoteAPIKey = ""
	redacted.APIKeys = nil
	return redacted
}

// AuthEnabled reports whether the API-key allowlist is non-empty
// (spec.md §4.H: "a non-empty configured API-key list enables auth").
func (c Config) AuthEnabled() bool {
	return len(c.APIKeys) > 0
}

// IsValidKey reports whether key is present in the configured allowlist.
func (c Config) IsValidKey(key string) bool {
	for _, k := range c.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Merge applies a partial update onto a copy of c: exactly the fields
// named in setFields are copied from update, whatever their values, and
// all other fields keep c's values. It reports whether the change
// requires a model reload (model path or backend kind changed), per
// spec.md §4.H's POST /v1/config contract.
func (c Config) Merge(update Config, setFields []string) (merged Config, reloadRequired bool) {
	merged = c
	set := make(map[string]bool, len(setFields))
	for _, f := range setFields {
		set[strings.ToLower(f)] = true
	}

	if set["model_path"] {
		if merged.ModelPath != update.ModelPath {
			reloadRequired = true
		}
		merged.ModelPath = update.ModelPath
	}
	if set["backend"] {
		if merged.BackendKind != update.BackendKind {
			reloadRequired = true
		}
		merged.BackendKind = update.BackendKind
	}
	if set["remote_base_url"] {
		merged.RemoteBaseURL = update.RemoteBaseURL
	}
	if set["request_timeout"] {
		merged.RequestTimeout = update.RequestTimeout
	}
	if set["cache_capacity"] {
		merged.CacheCapacity = update.CacheCapacity
	}
	if set["cache_ttl"] {
		merged.CacheTTL = update.CacheTTL
	}

	return merged, reloadRequired
}

// Store holds the current Config behind an atomic.Pointer so readers
// never block on writers and never observe a torn struct (spec.md §5:
// "mutation takes a write lock and publishes a new immutable snapshot").
//
// RemoteAPIKey and APIKeys are additionally mirrored into mlocked
// secret.Value guards (services/config/secret) every time a snapshot is
// published, so the long-lived copy of these secrets that live request
// handling actually reads from never sits in ordinary, swappable Go
// memory. The plain-string fields on Config itself stay as the teacher's
// config package always had them, since Config is also the transient
// YAML-decode/merge representation exercised directly in config_test.go.
type Store struct {
	ptr       atomic.Pointer[Config]
	remoteKey atomic.Pointer[secret.Value]
	apiKeys   atomic.Pointer[[]*secret.Value]
}

// NewStore builds a Store seeded with initial.
func NewStore(initial Config) *Store {
	s := &Store{}
	s.ptr.Store(&initial)
	s.rebuildGuards(initial)
	return s
}

// Load returns the current snapshot. Safe for concurrent use.
func (s *Store) Load() Config {
	return *s.ptr.Load()
}

// Replace publishes next as the new current snapshot.
func (s *Store) Replace(next Config) {
	s.ptr.Store(&next)
	s.rebuildGuards(next)
}

func (s *Store) rebuildGuards(cfg Config) {
	s.remoteKey.Store(secret.NewValue(cfg.RemoteAPIKey))

	guards := make([]*secret.Value, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		guards[i] = secret.NewValue(k)
	}
	s.apiKeys.Store(&guards)
}

// IsValidAPIKey reports whether key matches one of the configured API
// keys, using the mlocked, constant-time-compared guards rather than
// Config.IsValidKey's plain-string loop — this is the auth-path entry
// point (middleware.AuthMiddleware), where timing side channels on a
// secret comparison actually matter.
func (s *Store) IsValidAPIKey(key string) bool {
	guards := s.apiKeys.Load()
	if guards == nil {
		return false
	}
	for _, g := range *guards {
		if g.Equal(key) {
			return true
		}
	}
	return false
}

// RemoteAPIKey reveals the mlocked remote API key as a plaintext string,
// for the one call site (buildBackend, wiring services/backend/remote's
// Authorization header) that must hand it to an outbound HTTP client.
func (s *Store) RemoteAPIKey() string {
	return s.remoteKey.Load().Reveal()
}
