package launcher

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/lkas-pipeline/lkas/internal/config"
)

// ConfigChange carries a freshly (re)loaded and validated system config
// after the watched YAML file is written.
type ConfigChange struct {
	Config *config.SystemConfig
}

// WatchSystemConfig watches path for writes and pushes a re-parsed,
// re-validated SystemConfig on the returned channel each time it
// changes, the same directory-watch-plus-filename-filter pattern
// 99souls-ariadne's HotReloadSystem uses for its own YAML config.
// Per-frame parameter tuning still flows exclusively over the ZMQ
// parameter plane (§4.D/E); this only covers the launcher's own static
// startup configuration.
func WatchSystemConfig(path string, stop <-chan struct{}) (<-chan ConfigChange, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("launcher: new fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("launcher: watch %s: %w", dir, err)
	}

	changes := make(chan ConfigChange, 1)
	errs := make(chan error, 1)

	go func() {
		defer watcher.Close()
		defer close(changes)
		defer close(errs)
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || event.Op&fsnotify.Write == 0 {
					continue
				}
				cfg, err := config.LoadSystemConfig(path)
				if err != nil {
					errs <- err
					continue
				}
				changes <- ConfigChange{Config: cfg}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			}
		}
	}()

	return changes, errs, nil
}
