package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file layer from path whenever the file is written or
// replaced, then calls onReload with the new configuration. The directory is
// watched rather than the file so that editors saving through a rename are
// noticed. The returned function stops watching.
func (s *Store) Watch(path string, onReload func(Config)) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := s.LoadFile(abs); err != nil {
					log.Errorf("failed to reload %s: %s", abs, err.Error())
					continue
				}
				log.Infof("reloaded %s", abs)
				if onReload != nil {
					onReload(s.Config())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warningf("config watcher: %s", err.Error())
			}
		}
	}()

	return func() {
		w.Close()
		<-done
	}, nil
}
