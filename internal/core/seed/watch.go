package seed

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is used when Watch is given no debounce.
const DefaultDebounce = 500 * time.Millisecond

// Watch reapplies the seed file whenever it changes, once writes have been
// quiet for debounce. The directory is watched so atomic saves that replace
// the file are seen. A file that fails to load is logged and skipped; what
// was applied before stays in place. Watch blocks until ctx is done.
func Watch(ctx context.Context, store Store, path string, debounce time.Duration, log *logrus.Logger) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	log.WithField("path", abs).Info("Watching seed file")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			result, err := LoadAndApply(ctx, store, abs, log)
			if err != nil {
				log.WithError(err).WithField("path", abs).Error("Seed reload failed, keeping previous state")
				continue
			}
			log.WithFields(logrus.Fields{
				"path":  abs,
				"rules": result.Rules,
			}).Info("Seed file reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Seed watcher error")
		}
	}
}
