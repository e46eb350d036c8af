package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher reloads the YAML overlay when it changes on disk and hands
// the new configuration to registered listeners
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	current  *Config
	mu       sync.RWMutex
	onChange []func(*Config)
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce time.Duration
}

// NewConfigWatcher watches the overlay file of initial. It fails when the
// configuration was not loaded from a file.
func NewConfigWatcher(initial *Config, logger *zap.Logger) (*ConfigWatcher, error) {
	if initial.ConfigFile == "" {
		return nil, fmt.Errorf("configuration has no file to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// editors save by rename, so watch the directory rather than the file
	dir := filepath.Dir(initial.ConfigFile)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &ConfigWatcher{
		path:     initial.ConfigFile,
		watcher:  watcher,
		current:  initial,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start begins watching for configuration changes
func (w *ConfigWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching for configuration changes
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.logger.Info("Configuration watcher stopped")
	})
}

// OnChange registers a callback for configuration changes
func (w *ConfigWatcher) OnChange(handler func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

// GetCurrent returns the current configuration
func (w *ConfigWatcher) GetCurrent() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *ConfigWatcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the overlay. An unreadable or invalid file keeps the
// current configuration.
func (w *ConfigWatcher) reload() {
	next, err := LoadFrom(w.path)
	if err != nil {
		w.logger.Error("Invalid configuration, keeping current", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	previous := w.current
	w.current = next
	handlers := append([]func(*Config){}, w.onChange...)
	w.mu.Unlock()

	w.logChanges(previous, next)
	for _, handler := range handlers {
		handler(next)
	}
}

func (w *ConfigWatcher) logChanges(previous, next *Config) {
	var changes []string
	if previous.Graph.FetchConcurrency != next.Graph.FetchConcurrency {
		changes = append(changes, fmt.Sprintf("FetchConcurrency: %d -> %d",
			previous.Graph.FetchConcurrency, next.Graph.FetchConcurrency))
	}
	if previous.Graph.IncludeTags != next.Graph.IncludeTags {
		changes = append(changes, fmt.Sprintf("IncludeTags: %v -> %v",
			previous.Graph.IncludeTags, next.Graph.IncludeTags))
	}
	if previous.Graph.IncludeFolders != next.Graph.IncludeFolders {
		changes = append(changes, fmt.Sprintf("IncludeFolders: %v -> %v",
			previous.Graph.IncludeFolders, next.Graph.IncludeFolders))
	}
	if previous.LogLevel != next.LogLevel {
		changes = append(changes, fmt.Sprintf("LogLevel: %s -> %s", previous.LogLevel, next.LogLevel))
	}

	w.logger.Info("Configuration reloaded", zap.Strings("changes", changes))
}
