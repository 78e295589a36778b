package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// Watcher monitors the .env file and applies the settings that can change
// at runtime. Only the log level is hot-reloadable.
type Watcher struct {
	envPath    string
	watcher    *fsnotify.Watcher
	stopChan   chan struct{}
	stopOnce   sync.Once
	started    atomic.Bool
	done       chan struct{}
	mu         sync.Mutex
	logLevel   string
	onLogLevel func(level string)
}

// NewWatcher creates a watcher for cfg.EnvPath. onLogLevel is called with
// the new value whenever SUBTRACKER_LOG_LEVEL changes.
func NewWatcher(cfg *Config, onLogLevel func(level string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		envPath:    cfg.EnvPath,
		watcher:    w,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		logLevel:   cfg.LogLevel,
		onLogLevel: onLogLevel,
	}, nil
}

// Start begins watching the directory holding the .env file.
func (cw *Watcher) Start() error {
	dir := filepath.Dir(cw.envPath)
	if err := cw.watcher.Add(dir); err != nil {
		return err
	}
	cw.started.Store(true)
	go cw.watchForChanges()
	log.Info().Str("env_path", cw.envPath).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (cw *Watcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		_ = cw.watcher.Close()
	})
	if cw.started.Load() {
		<-cw.done
	}
}

// Reload re-reads the .env file, as on SIGHUP.
func (cw *Watcher) Reload() {
	cw.reload()
}

func (cw *Watcher) watchForChanges() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce - wait a bit for write to complete
			time.Sleep(watchDebounce)
			log.Info().Str("event", event.Op.String()).Msg("Detected .env file change")
			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-cw.stopChan:
			return
		}
	}
}

func (cw *Watcher) reload() {
	envMap, err := godotenv.Read(cw.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("Failed to read .env file")
		}
		return
	}

	level := strings.ToLower(strings.Trim(strings.TrimSpace(envMap["SUBTRACKER_LOG_LEVEL"]), `'"`))
	if level == "" {
		return
	}

	cw.mu.Lock()
	changed := level != cw.logLevel
	cw.logLevel = level
	cb := cw.onLogLevel
	cw.mu.Unlock()

	if !changed {
		log.Debug().Msg("No relevant changes detected in .env file")
		return
	}
	log.Info().Str("log_level", level).Msg("Applied .env log level change")
	if cb != nil {
		cb(level)
	}
}
