package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader loads a configuration file and hot-reloads it on change.
//
// Callbacks run on the watcher goroutine; widgets must be reconfigured
// between frames by whoever owns them.
type Loader struct {
	path string

	// Debounce delays reloads so editors that write in several steps
	// trigger a single reload.
	Debounce time.Duration

	mu        sync.RWMutex
	config    *Config
	overrides *Config
	onChange  []func(old, new *Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	errChan chan error
}

// NewLoader creates a loader for path.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:     path,
		Debounce: 100 * time.Millisecond,
		errChan:  make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Load reads, overrides and validates the configuration, replacing the
// current one only on success.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// SetOverrides layers o over every configuration the loader reads, so
// command-line settings survive hot reloads. Only non-zero fields apply.
func (l *Loader) SetOverrides(o *Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides = o
}

func (l *Loader) read() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	overrides := l.overrides
	l.mu.RUnlock()
	if overrides != nil {
		cfg = Merge(cfg, overrides)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration, nil before the first Load.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Errors reports read or validation failures during watching. Failed
// reloads keep the previous configuration.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the configuration file's directory.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(l.Debounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	cfg, err := l.read()
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	old := l.config
	l.config = cfg
	callbacks := append([]func(old, new *Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// Merge returns a copy of dst with the non-zero fields of src applied.
// Booleans cannot be unset this way; use a full file for that.
func Merge(dst, src *Config) *Config {
	out := dst.Clone()
	if src.Version > 0 {
		out.Version = src.Version
	}

	mergeFloat(&out.Grab.MaxDistance, src.Grab.MaxDistance)
	mergeFloat(&out.Grab.PinchThreshold, src.Grab.PinchThreshold)
	mergeFloat(&out.Grab.GrabThreshold, src.Grab.GrabThreshold)

	mergeFloat(&out.Hover.Width, src.Hover.Width)
	mergeFloat(&out.Hover.Height, src.Hover.Height)
	mergeFloat(&out.Hover.Thickness, src.Hover.Thickness)
	if src.Hover.XRange != (Range{}) {
		out.Hover.XRange = src.Hover.XRange
	}
	if src.Hover.YRange != (Range{}) {
		out.Hover.YRange = src.Hover.YRange
	}
	mergeFloat(&out.Hover.PinchThreshold, src.Hover.PinchThreshold)
	mergeFloat(&out.Hover.SelectThreshold, src.Hover.SelectThreshold)

	mergeString(&out.Input.PinchKey, src.Input.PinchKey)
	mergeString(&out.Input.GrabKey, src.Input.GrabKey)
	mergeString(&out.Input.SelectKey, src.Input.SelectKey)

	mergeString(&out.Logging.Level, src.Logging.Level)
	mergeString(&out.Logging.Format, src.Logging.Format)
	mergeString(&out.Logging.Output, src.Logging.Output)
	mergeString(&out.Logging.FilePath, src.Logging.FilePath)

	mergeString(&out.Metrics.Namespace, src.Metrics.Namespace)
	mergeString(&out.Metrics.Format, src.Metrics.Format)

	mergeString(&out.Storage.Path, src.Storage.Path)
	if src.Storage.BusyTimeoutMs > 0 {
		out.Storage.BusyTimeoutMs = src.Storage.BusyTimeoutMs
	}

	mergeString(&out.Replay.FixtureDir, src.Replay.FixtureDir)
	return out
}

func mergeFloat(dst *float32, v float32) {
	if v != 0 {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
