package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it is written or replaced and passes the new
// calibration to onChange. It blocks until ctx is done. The parent directory
// is watched so atomic renames by Save are seen.
func Watch(ctx context.Context, path string, onChange func(*File)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed creating file watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			f, err := Load(abs)
			if err != nil {
				slog.Warn("calibration reload failed", "path", abs, "err", err)
				continue
			}
			slog.Info("calibration reloaded", "offset", f.InitialOffset, "factor", f.Factor)
			onChange(f)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("calibration watcher error", "err", err)
		}
	}
}
