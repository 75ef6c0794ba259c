package config

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange after the config file at configPath or anything under
// templatesDir changes. Bursts of events within debounce are reported once.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, configPath, templatesDir string, debounce time.Duration, log *slog.Logger, onChange func()) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return err
	}
	templatesDir, err = filepath.Abs(templatesDir)
	if err != nil {
		return err
	}

	// The config file's directory is watched so that rename-over-write saves
	// are seen.
	if err := w.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(configPath), err)
	}
	err = filepath.WalkDir(templatesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", templatesDir, err)
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, configPath, templatesDir) {
				continue
			}
			if ev.Has(fsnotify.Create) && within(ev.Name, templatesDir) {
				_ = w.Add(ev.Name)
			}
			log.DebugContext(ctx, "config.watch.event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			log.InfoContext(ctx, "config.watch.change")
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "config.watch.error", slog.String("err", err.Error()))
		}
	}
}

func relevant(ev fsnotify.Event, configPath, templatesDir string) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == configPath || within(name, templatesDir)
}

func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithDotDot(rel))
}

func startsWithDotDot(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
