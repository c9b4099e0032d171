package credential

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounceInterval = 500 * time.Millisecond

// WatchFile hot-reloads the registry whenever the credentials file at path
// changes on disk, so per-credential disabled flags and priorities take
// effect without a restart.
func WatchFile(ctx context.Context, store *FileStore, registry *Registry, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("credential watcher: failed to start")
		return
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.WithError(err).Warnf("credential watcher: failed to watch %s", dir)
		_ = watcher.Close()
		return
	}

	reload := make(chan struct{}, 1)
	go debounceReload(ctx, reload, func() {
		creds, err := store.Load()
		if err != nil {
			log.WithError(err).Warn("credential watcher: reload failed")
			return
		}
		registry.Load(creds)
		log.WithField("count", len(creds)).Info("credentials reloaded from disk")
	})

	go watchLoop(ctx, watcher, path, reload)
	log.WithField("path", path).Info("credential watcher: watching for changes")
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, reload chan<- struct{}) {
	defer watcher.Close()
	target := filepath.Clean(path)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			select {
			case reload <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("credential watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func debounceReload(ctx context.Context, trigger <-chan struct{}, fn func()) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-trigger:
			if timer == nil {
				timer = time.NewTimer(watchDebounceInterval)
				timerCh = timer.C
			} else {
				timer.Reset(watchDebounceInterval)
			}
		case <-timerCh:
			fn()
			timerCh = nil
		}
	}
}
