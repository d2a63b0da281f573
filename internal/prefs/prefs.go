package prefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/projectdiscovery/gologger"
)

// Version tags the preferences file layout.
const Version = 1

// Preferences are the operator's sticky choices: rotation policy, pinned
// proxies, and the filters applied when pulling fresh lists.
type Preferences struct {
	Version            int      `json:"version"`
	Policy             string   `json:"policy"`
	Favorites          []string `json:"favorites"`
	FavoriteCountries  []string `json:"favorite_countries"`
	ProtocolPreference []string `json:"protocol_preference"`
}

// Default returns the preferences used when no file exists yet.
func Default() Preferences {
	return Preferences{
		Version:            Version,
		Policy:             "lowest-latency",
		Favorites:          []string{},
		FavoriteCountries:  []string{},
		ProtocolPreference: []string{},
	}
}

// Store owns the preferences file: load at startup, save on change, watch
// for edits made behind the server's back.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Preferences
}

func NewStore(path string) *Store {
	return &Store{path: path, cur: Default()}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Ensure creates the file with defaults when it does not exist yet, so the
// watcher always has something to attach to.
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return s.saveLocked(s.cur)
}

// Load reads the file into the store. A missing file keeps the defaults.
func (s *Store) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.cur, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.cur, nil
		}

		return s.cur, err
	}

	p := Default()
	if err := json.Unmarshal(data, &p); err != nil {
		return s.cur, err
	}

	s.cur = p

	return p, nil
}

// Save persists p and makes it the current preferences.
func (s *Store) Save(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(p)
}

func (s *Store) saveLocked(p Preferences) error {
	p.Version = Version

	if s.path == "" {
		s.cur = p
		return nil
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return err
	}

	s.cur = p

	return nil
}

// Current returns the last loaded or saved preferences.
func (s *Store) Current() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur
}

// AddFavorite pins addr and saves. Already-pinned addresses are a no-op.
func (s *Store) AddFavorite(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.cur.Favorites, addr) {
		return nil
	}

	p := s.cur
	p.Favorites = append(slices.Clone(p.Favorites), addr)

	return s.saveLocked(p)
}

// RemoveFavorite unpins addr and saves.
func (s *Store) RemoveFavorite(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.cur.Favorites, addr)
	if i < 0 {
		return nil
	}

	p := s.cur
	p.Favorites = slices.Delete(slices.Clone(p.Favorites), i, i+1)

	return s.saveLocked(p)
}

func logReload(err error) {
	if err != nil {
		gologger.Error().Msgf("Error! %s", err)
		return
	}

	gologger.Info().Msg("Preferences reloaded")
}
