package poolconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexus-db/nexus-pool/pkg/poollog"
)

// LiveUpdate carries the subset of settings that are safe
// to change without a process restart.
type LiveUpdate struct {
	PoolName            string
	LimitIdleTime       time.Duration
	AcquireIncrement    int
	MaintenanceInterval time.Duration
	KeepaliveProbeCount int
}

// ApplyFunc receives one live-safe update per pool named in the reloaded
// file. The caller (typically the serve command) pushes these into the
// running Manager/Scheduler.
type ApplyFunc func(LiveUpdate)

// Watcher watches a config file for changes with fsnotify and re-parses
// it on a debounce timer. It watches the containing directory rather
// than the file itself, since editors commonly replace files instead of
// writing them in place.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   poollog.Logger
	apply    ApplyFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a Watcher for the config file at path. Structural
// settings (core_pool_size, max_pool_size, driver, dsn) are not passed to
// apply, so changes to them take effect only after a process restart;
// the watcher does not detect or log such changes.
func NewWatcher(path string, debounce time.Duration, logger poollog.Logger, apply ApplyFunc) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = poollog.Noop
	}
	return &Watcher{path: path, debounce: debounce, logger: logger, apply: apply}
}

// Run watches until ctx is cancelled. It performs an initial parse before
// entering the event loop so an already-invalid file is reported eagerly.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := Load(w.path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("poolconfig: creating watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("poolconfig: resolving path: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("poolconfig: watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.isRelevant(event, absPath) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Log(poollog.LevelWarn, "config watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) isRelevant(event fsnotify.Event, absPath string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	changed, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return changed == absPath
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.logger.Log(poollog.LevelWarn, "config reload failed, keeping previous settings", map[string]interface{}{
			"path": w.path, "error": err.Error(),
		})
		return
	}
	maintInterval := f.MaintenanceIntervalDuration()
	for _, p := range f.Pools {
		cfg, err := p.ToPoolConfig()
		if err != nil {
			w.logger.Log(poollog.LevelWarn, "config reload: skipping pool", map[string]interface{}{
				"pool": p.Name, "error": err.Error(),
			})
			continue
		}
		w.apply(LiveUpdate{
			PoolName:            p.Name,
			LimitIdleTime:       cfg.LimitIdleTime,
			AcquireIncrement:    cfg.AcquireIncrement,
			MaintenanceInterval: maintInterval,
			KeepaliveProbeCount: f.KeepaliveProbeCount,
		})
	}
	w.logger.Log(poollog.LevelInfo, "config reloaded", map[string]interface{}{"path": w.path, "pools": len(f.Pools)})
}
