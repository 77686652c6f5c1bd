package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Store owns the live settings. All mutation goes through Update/ApplyPreset,
// which validate and persist before the new value becomes visible. Readers
// receive deep copies and can never observe a half-applied mutation.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// NewStore loads settings from path, falling back to defaults when the file
// does not exist yet. A missing file is written out so the on-disk copy and
// the live copy never diverge at startup.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, cur: DefaultSettings()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded Settings
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		loaded.Normalize()
		if err := loaded.Validate(); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		s.cur = loaded
	case os.IsNotExist(err):
		if err := s.persist(s.cur); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return s, nil
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Update validates and persists the merged settings, then applies them.
// On any error the previous settings remain in effect untouched.
func (s *Store) Update(patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.cur)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.persist(next); err != nil {
		return Settings{}, err
	}
	s.cur = next
	return next.Clone(), nil
}

// ApplyPreset replaces tunable values with a named preset's patch.
func (s *Store) ApplyPreset(name string) (Settings, error) {
	patch, ok := Presets[name]
	if !ok {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return s.Update(patch)
}

func (s *Store) persist(v Settings) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("config: replace %s: %w", s.path, err)
	}
	return nil
}
