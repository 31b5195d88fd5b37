package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the YAML config file once at startup. The loaded snapshot
// is immutable for the life of the process; Watch only reports that the
// file changed on disk so operators know a restart is pending.
type Loader struct {
	path    string
	mu      sync.RWMutex
	current *Config
	watcher *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the configuration snapshot loaded at startup.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts a background goroutine that invokes onChange whenever the
// config file is rewritten on disk. The running configuration is NOT
// reloaded: provider registrations are fixed at startup, so the callback
// is only a signal to schedule a restart. Call the returned stop function
// to clean up.
func (l *Loader) Watch(onChange func()) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					onChange()
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	// Secrets are referenced as ${VAR} and resolved from the environment.
	data = []byte(os.ExpandEnv(string(data)))
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutS == 0 {
		cfg.Server.ReadTimeoutS = 10
	}
	if cfg.Server.WriteTimeoutS == 0 {
		cfg.Server.WriteTimeoutS = 30
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/graph"
	}
	if cfg.Engine.Lanes == 0 {
		cfg.Engine.Lanes = 8
	}
	if cfg.Engine.LaneDepth == 0 {
		cfg.Engine.LaneDepth = 256
	}
	if cfg.Engine.ApplyTimeoutMs == 0 {
		cfg.Engine.ApplyTimeoutMs = 5000
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 4
	}
	if cfg.Engine.RetryBaseMs == 0 {
		cfg.Engine.RetryBaseMs = 100
	}
	if cfg.Engine.RetryMaxMs == 0 {
		cfg.Engine.RetryMaxMs = 5000
	}
	if cfg.Engine.DedupWindowH == 0 {
		cfg.Engine.DedupWindowH = 72
	}
}
