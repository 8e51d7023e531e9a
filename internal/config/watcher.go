package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// snapshot is one successfully validated read of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher keeps a config file's latest valid contents and calls back when
// they change. Edits that fail validation are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	current atomic.Pointer[snapshot]

	// reloadMu serialises reloads; seen is the last mtime examined, valid or
	// not, so a broken file is parsed once per edit.
	reloadMu sync.Mutex
	seen     time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path once and fails if that first read is not a valid
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(snap)
	w.seen = snap.mtime
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config { return w.current.Load().cfg }

// Run polls the file every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := w.Reload(false); err != nil {
				slog.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file and reports whether a new config took effect.
// Unless force is set, a file whose mtime has not moved is skipped. A file
// with identical contents never triggers the callback.
func (w *Watcher) Reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	info, err := os.Stat(w.path)
	if err != nil {
		w.reloadMu.Unlock()
		return false, err
	}
	if !force && info.ModTime().Equal(w.seen) {
		w.reloadMu.Unlock()
		return false, nil
	}
	w.seen = info.ModTime()

	next, err := readSnapshot(w.path)
	if err != nil {
		w.reloadMu.Unlock()
		return false, err
	}
	prev := w.current.Load()
	if next.sum == prev.sum {
		w.reloadMu.Unlock()
		return false, nil
	}
	w.current.Store(next)
	w.reloadMu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

func readSnapshot(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(raw), mtime: info.ModTime()}, nil
}
