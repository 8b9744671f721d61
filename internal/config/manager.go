package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "courier/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// Manager loads the config file and optionally watches it for edits.
//
// Watch() only republishes when the file content actually changed and
// still validates; a broken edit keeps the last good config in place.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	log logx.Logger

	// lastHash tracks the last successfully committed content, so editor
	// write storms don't cause redundant publishes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated JSON).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits the config file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Watch reloads the file on change and calls apply with each committed
// config. It blocks until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, apply func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	// Watch the directory, not the file: editors commonly replace the
	// file via rename, which drops a file-level watch.
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)

	reload := func() {
		cfg, err := m.Parse()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config reload rejected", logx.Err(err))
			}
			return
		}
		h := hashConfig(cfg)
		m.mu.RLock()
		unchanged := h == m.lastHash
		m.mu.RUnlock()
		if unchanged {
			return
		}
		m.commit(cfg)
		if !m.log.IsZero() {
			m.log.Info("config reloaded", logx.String("path", m.path))
		}
		if apply != nil {
			apply(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
				continue
			}
			// Debounce bursts of events from a single save.
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(250 * time.Millisecond)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			reload()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			if !m.log.IsZero() {
				m.log.Warn("config watcher error", logx.Err(err))
			}
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Validate checks cross-field constraints that the decoder can't express.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Delivery.Mode)) {
	case "", "smtp", "queued":
	default:
		return fmt.Errorf("delivery.mode: unknown mode %q (want smtp or queued)", c.Delivery.Mode)
	}
	if strings.TrimSpace(c.Delivery.Sender) == "" {
		return errors.New("delivery.sender is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	// The SMTP relay is needed in both modes: inline for "smtp", from the
	// consumer for "queued".
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return errors.New("smtp.host is required")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port: invalid port %d", c.SMTP.Port)
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"smtp.timeout", c.SMTP.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cc := c.Consumer; cc != nil {
		for _, f := range []struct{ path, raw string }{
			{"consumer.poll_interval", cc.PollInterval},
			{"consumer.retry_base", cc.RetryBase},
			{"consumer.retry_max_delay", cc.RetryMaxDelay},
			{"consumer.lease", cc.Lease},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	if mc := c.Maintenance; mc != nil {
		if _, err := ParseDurationField("maintenance.retention", mc.Retention); err != nil {
			return err
		}
	}
	return nil
}
