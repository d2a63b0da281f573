package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestEnsureCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s := NewStore(path)

	if err := s.Ensure(); err != nil {
		t.Fatalf("ensure: %s", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("preferences file not created: %s", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %s", err)
	}

	if diff := deep.Equal(got, Default()); diff != nil {
		t.Error(diff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	want := Preferences{
		Policy:             "round-robin",
		Favorites:          []string{"10.0.0.1:8080"},
		FavoriteCountries:  []string{"NL", "DE"},
		ProtocolPreference: []string{"socks5"},
	}

	if err := NewStore(path).Save(want); err != nil {
		t.Fatalf("save: %s", err)
	}

	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("load: %s", err)
	}

	want.Version = Version

	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"))

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %s", err)
	}

	if diff := deep.Equal(got, Default()); diff != nil {
		t.Error(diff)
	}
}

func TestFavoritePinning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s := NewStore(path)

	if err := s.AddFavorite("10.0.0.1:8080"); err != nil {
		t.Fatalf("add: %s", err)
	}

	// Pinning twice must not duplicate.
	if err := s.AddFavorite("10.0.0.1:8080"); err != nil {
		t.Fatalf("re-add: %s", err)
	}

	if err := s.AddFavorite("10.0.0.2:8080"); err != nil {
		t.Fatalf("add second: %s", err)
	}

	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("reload: %s", err)
	}

	if diff := deep.Equal(got.Favorites, []string{"10.0.0.1:8080", "10.0.0.2:8080"}); diff != nil {
		t.Error(diff)
	}

	if err := s.RemoveFavorite("10.0.0.1:8080"); err != nil {
		t.Fatalf("remove: %s", err)
	}

	if diff := deep.Equal(s.Current().Favorites, []string{"10.0.0.2:8080"}); diff != nil {
		t.Error(diff)
	}
}

func TestWatchFileAppliesEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s := NewStore(path)

	if err := s.Ensure(); err != nil {
		t.Fatalf("ensure: %s", err)
	}

	watcher, err := s.Watch()
	if err != nil {
		t.Fatalf("watch: %s", err)
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan Preferences, 1)

	go func() {
		_ = s.WatchFile(ctx, watcher, func(p Preferences) {
			select {
			case applied <- p:
			default:
			}
		})
	}()

	edit := []byte(`{"version":1,"policy":"random","favorites":[],"favorite_countries":[],"protocol_preference":[]}`)
	if err := os.WriteFile(path, edit, 0644); err != nil {
		t.Fatalf("edit file: %s", err)
	}

	select {
	case p := <-applied:
		if p.Policy != "random" {
			t.Errorf("applied policy = %q, want random", p.Policy)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("edit never applied")
	}
}
