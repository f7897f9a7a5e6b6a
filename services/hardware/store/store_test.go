package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfile() *hardware.HardwareProfile {
	now := time.Now().UTC().Truncate(time.Second)
	return &hardware.HardwareProfile{
		CPUModel:      "Test CPU",
		PhysicalCores: 8,
		LogicalCores:  16,
		TotalRAMMiB:   16384,
		GPUVendor:     hardware.GPUVendorNVIDIA,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestLoadMissingFileReturnsErrNotFound(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "profile.json"))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	s := New(path)

	profile := newProfile()
	require.NoError(t, s.Save(profile))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, profile.CPUModel, loaded.CPUModel)
	assert.Equal(t, profile.TotalRAMMiB, loaded.TotalRAMMiB)
	assert.Equal(t, CurrentSchemaVersion, loaded.SchemaVersion)
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "profile.json")
	s := New(path)

	require.NoError(t, s.Save(newProfile()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	s := New(path)

	require.NoError(t, s.Save(newProfile()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "profile.json", entries[0].Name())
}

func TestSaveFillsCreatedAtFromUpdatedAtWhenZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	s := New(path)

	profile := newProfile()
	profile.CreatedAt = time.Time{}
	require.NoError(t, s.Save(profile))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, profile.UpdatedAt.Unix(), loaded.CreatedAt.Unix())
}

func TestLoadPreservesUnknownFieldsInExtra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")

	raw := map[string]any{
		"schema_version":     1,
		"cpu_model":          "Future CPU",
		"a_field_from_later": "value from a newer schema",
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s := New(path)
	loaded, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, "Future CPU", loaded.CPUModel)
	require.NotNil(t, loaded.Extra)
	assert.Equal(t, "value from a newer schema", loaded.Extra["a_field_from_later"])
	assert.NotContains(t, loaded.Extra, "cpu_model")
}

func TestLoadWithNoUnknownFieldsLeavesExtraNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	s := New(path)
	require.NoError(t, s.Save(newProfile()))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded.Extra)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := New(path)
	_, err := s.Load()
	assert.Error(t, err)
}

func TestWatchEmitsOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	s := New(path)
	require.NoError(t, s.Save(newProfile()))

	stop := make(chan struct{})
	defer close(stop)

	updates, err := s.Watch(stop)
	require.NoError(t, err)

	updated := newProfile()
	updated.CPUModel = "Replaced CPU"
	require.NoError(t, s.Save(updated))

	select {
	case profile := <-updates:
		assert.Equal(t, "Replaced CPU", profile.CPUModel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch notification")
	}
}
