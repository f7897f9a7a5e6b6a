package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendNative, cfg.BackendKind)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 8, cfg.CancellationBound)
	assert.Equal(t, 256, cfg.CacheCapacity)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "./config/hardware_profile.json", cfg.HardwareProfilePath)
	assert.Equal(t, 30*time.Second, cfg.GracefulDrainTimeout)
}

func TestLoadNonexistentFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoadParsesYAMLAndAppliesDefaultsToZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	contents := "host: 0.0.0.0\nport: 9090\nbackend: remote\nremote_base_url: https://api.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendRemote, cfg.BackendKind)
	assert.Equal(t, "https://api.example.com", cfg.RemoteBaseURL)
	// Unset fields still get defaulted.
	assert.Equal(t, 256, cfg.CacheCapacity)
}

func TestLoadEnvOverridesModelPath(t *testing.T) {
	t.Setenv("GC_MODEL_PATH", "/models/env-model.gguf")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/models/env-model.gguf", cfg.ModelPath)
}

func TestRedactedClearsSecrets(t *testing.T) {
	cfg := Config{RemoteAPIKey: "sk-secret", APIKeys: []string{"key-a", "key-b"}, Host: "127.0.0.1"}
	redacted := cfg.Redacted()

	assert.Empty(t, redacted.RemoteAPIKey)
	assert.Nil(t, redacted.APIKeys)
	assert.Equal(t, "127.0.0.1", redacted.Host)
	// Original is untouched.
	assert.Equal(t, "sk-secret", cfg.RemoteAPIKey)
	assert.Len(t, cfg.APIKeys, 2)
}

func TestAuthEnabledAndIsValidKey(t *testing.T) {
	noKeys := Config{}
	assert.False(t, noKeys.AuthEnabled())

	withKeys := Config{APIKeys: []string{"abc", "def"}}
	assert.True(t, withKeys.AuthEnabled())
	assert.True(t, withKeys.IsValidKey("abc"))
	assert.False(t, withKeys.IsValidKey("xyz"))
}

func TestMergeOnlySetFieldsApply(t *testing.T) {
	current := Config{ModelPath: "/models/a.gguf", BackendKind: BackendNative, CacheCapacity: 128}
	update := Config{ModelPath: "/models/b.gguf", CacheCapacity: 512}

	merged, reload := current.Merge(update, []string{"model_path"})

	assert.Equal(t, "/models/b.gguf", merged.ModelPath)
	assert.True(t, reload)
	// cache_capacity was not in setFields, so it's untouched.
	assert.Equal(t, 128, merged.CacheCapacity)
}

func TestMergeBackendChangeRequiresReload(t *testing.T) {
	current := Config{BackendKind: BackendNative}
	update := Config{BackendKind: BackendRemote}

	merged, reload := current.Merge(update, []string{"backend"})

	assert.Equal(t, BackendRemote, merged.BackendKind)
	assert.True(t, reload)
}

func TestMergeSameValueDoesNotRequireReload(t *testing.T) {
	current := Config{ModelPath: "/models/a.gguf"}
	update := Config{ModelPath: "/models/a.gguf"}

	merged, reload := current.Merge(update, []string{"model_path"})

	assert.Equal(t, "/models/a.gguf", merged.ModelPath)
	assert.False(t, reload)
}

func TestMergeFieldNameMatchingIsCaseInsensitive(t *testing.T) {
	current := Config{CacheTTL: time.Minute}
	update := Config{CacheTTL: 5 * time.Minute}

	merged, _ := current.Merge(update, []string{"Cache_TTL"})

	assert.Equal(t, 5*time.Minute, merged.CacheTTL)
}

func TestMergeNonReloadFieldsUpdateWithoutFlag(t *testing.T) {
	current := Config{RequestTimeout: time.Second, RemoteBaseURL: "http://old"}
	update := Config{RequestTimeout: 2 * time.Second, RemoteBaseURL: "http://new"}

	merged, reload := current.Merge(update, []string{"request_timeout", "remote_base_url"})

	assert.Equal(t, 2*time.Second, merged.RequestTimeout)
	assert.Equal(t, "http://new", merged.RemoteBaseURL)
	assert.False(t, reload)
}

func TestStoreLoadReplace(t *testing.T) {
	s := NewStore(Config{Port: 8080})
	assert.Equal(t, 8080, s.Load().Port)

	s.Replace(Config{Port: 9090})
	assert.Equal(t, 9090, s.Load().Port)
}

func TestStoreConcurrentAccessIsSafe(t *testing.T) {
	s := NewStore(Config{Port: 8080})
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			s.Replace(Config{Port: i})
		}
		close(done)
	}()

	for i := 0; i < 1000; i++ {
		_ = s.Load()
	}
	<-done
}
