package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager holds the single atomically-swappable config reference a
// request captures at entry (spec.md §5 "Config snapshot").
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}

	// OnReload, if set before Watch, runs after every successful swap —
	// the C8 cache hooks its Reset here. Called from the watch goroutine.
	OnReload func(*Config)
}

// NewManager loads the initial config and returns a Manager ready to
// optionally watch the file for changes. Startup failures are returned to
// the caller, who should abort the process (spec.md §7).
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the active config snapshot. Safe for concurrent use; the
// returned pointer is never mutated after being published.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Watch starts an fsnotify watch on the config file. On every write event
// the file is reloaded in isolation; on validation failure the active
// config is retained and the error logged (spec.md §6 "Hot reload").
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.path); err != nil {
		_ = w.Close()
		return err
	}
	m.watcher = w
	m.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watch error")
			case <-m.done:
				return
			}
		}
	}()
	return nil
}

func (m *Manager) reload() {
	cfg, err := LoadFile(m.path)
	if err != nil {
		log.WithError(err).Error("config: reload failed, retaining active config")
		return
	}
	m.current.Store(cfg)
	if m.OnReload != nil {
		m.OnReload(cfg)
	}
	log.Info("config: reloaded")
}

// Close stops the watcher goroutine, if running.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	close(m.done)
	return m.watcher.Close()
}
