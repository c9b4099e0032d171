package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const watchDebounceInterval = 500 * time.Millisecond

// Watch hot-reloads cfg's load_balancing_mode from path whenever the file
// changes on disk. Only the fields documented as hot-reloadable
// are applied; every other setting requires a restart, since applying them
// live (listener address, storage paths) would require re-plumbing
// already-constructed collaborators.
func Watch(ctx context.Context, cfg *Config, path string) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config watcher: failed to start")
		return
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.WithError(err).Warnf("config watcher: failed to watch %s", dir)
		_ = watcher.Close()
		return
	}

	reload := make(chan struct{}, 1)
	go debounceReload(ctx, reload, func() {
		reloaded := Defaults()
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warn("config watcher: reload failed")
			return
		}
		if err := yaml.Unmarshal(data, reloaded); err != nil {
			log.WithError(err).Warn("config watcher: reloaded config is not valid YAML")
			return
		}
		if err := reloaded.Validate(); err != nil {
			log.WithError(err).Warn("config watcher: reloaded config invalid, keeping previous values")
			return
		}
		cfg.SetRoutingMode(reloaded.Routing.LoadBalancingMode)
		log.WithField("load_balancing_mode", reloaded.Routing.LoadBalancingMode).Info("config hot-reloaded")
	})

	go watchLoop(ctx, watcher, filepath.Clean(path), reload)
	log.WithField("path", path).Info("config watcher: watching for changes")
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string, reload chan<- struct{}) {
	defer watcher.Close()
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
			log.WithError(err).Warn("config watcher error")
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
