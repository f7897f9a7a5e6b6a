// Package store persists the hardware.HardwareProfile as a single on-disk
// JSON document (spec.md §4.A). Grounded on the teacher's config-file
// conventions (cmd/aleutian/profile_resolver.go resolves profiles from a
// config directory) generalized to the write-to-temp-then-rename pattern
// spec.md requires so readers never observe a partial file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"

	"github.com/fsnotify/fsnotify"
)

// CurrentSchemaVersion is written into every profile this store saves.
const CurrentSchemaVersion = 1

// ErrNotFound is returned by Load when no profile file exists yet.
var ErrNotFound = errors.New("hardware profile: not found")

// Store reads and writes the hardware profile document at a fixed path.
type Store struct {
	path string
}

// New returns a Store backed by the JSON document at path. The parent
// directory is created lazily on first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the profile document, returning ErrNotFound if it
// does not exist. Unknown top-level fields are preserved in Extra so a
// round-trip through an older binary does not lose newer-schema data.
func (s *Store) Load() (*hardware.HardwareProfile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hardware profile: read %s: %w", s.path, err)
	}

	var profile hardware.HardwareProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("hardware profile: parse %s: %w", s.path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		known := knownFields()
		extra := make(map[string]any)
		for k, v := range raw {
			if !known[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			profile.Extra = extra
		}
	}

	return &profile, nil
}

// Save atomically replaces the profile document: it writes to a temp file
// in the same directory, then renames over the destination, so a
// concurrent Load never observes a truncated or syntactically invalid
// document (spec.md §8 property 7).
func (s *Store) Save(profile *hardware.HardwareProfile) error {
	if profile.SchemaVersion == 0 {
		profile.SchemaVersion = CurrentSchemaVersion
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("hardware profile: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("hardware profile: marshal: %w", err)
	}
	if len(profile.Extra) > 0 {
		var merged map[string]any
		if err := json.Unmarshal(data, &merged); err != nil {
			return fmt.Errorf("hardware profile: marshal: %w", err)
		}
		for k, v := range profile.Extra {
			if _, known := merged[k]; !known {
				merged[k] = v
			}
		}
		if data, err = json.MarshalIndent(merged, "", "  "); err != nil {
			return fmt.Errorf("hardware profile: marshal: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.json.tmp")
	if err != nil {
		return fmt.Errorf("hardware profile: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("hardware profile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("hardware profile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hardware profile: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("hardware profile: rename into place: %w", err)
	}
	return nil
}

// Watch emits a profile each time the underlying file is replaced on
// disk, for a lifecycle owner that wants to react to an externally
// replaced profile (e.g. an operator copying one from another machine)
// without polling. The channel is closed when stop is closed or the
// underlying watcher shuts down.
func (s *Store) Watch(stop <-chan struct{}) (<-chan *hardware.HardwareProfile, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hardware profile: new watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("hardware profile: watch %s: %w", dir, err)
	}

	out := make(chan *hardware.HardwareProfile, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		var debounce <-chan time.Time
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(200 * time.Millisecond)
			case <-debounce:
				debounce = nil
				profile, err := s.Load()
				if err != nil {
					continue
				}
				select {
				case out <- profile:
				default:
					// drop stale notification rather than block the watcher loop
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

func knownFields() map[string]bool {
	var p hardware.HardwareProfile
	data, _ := json.Marshal(&p)
	var m map[string]any
	json.Unmarshal(data, &m)
	known := make(map[string]bool, len(m))
	for k := range m {
		known[k] = true
	}
	return known
}
