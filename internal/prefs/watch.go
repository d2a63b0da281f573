package prefs

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/projectdiscovery/gologger"
)

// Watch returns a filesystem watcher attached to the preferences file.
func (s *Store) Watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return watcher, err
	}

	if err := watcher.Add(s.path); err != nil {
		return watcher, err
	}

	return watcher, nil
}

// WatchFile reloads on every write event and hands the fresh preferences to
// apply. It returns when ctx is canceled or the watcher closes.
func (s *Store) WatchFile(ctx context.Context, watcher *fsnotify.Watcher, apply func(Preferences)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Write) {
				continue
			}

			p, err := s.Load()

			logReload(err)

			if err == nil && apply != nil {
				apply(p)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			gologger.Error().Msgf("Error! %s", err)
		}
	}
}
