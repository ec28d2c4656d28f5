// Package autosave records automatic snapshots of workspace edits. It is
// the producer of autosave-origin version rows: every settled write to a
// workspace script file becomes one ledger entry via the save coordinator.
package autosave

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/scriptservice"
	"github.com/starford/perthro/internal/workspace"
)

// Watch starts an fsnotify watcher on the workspace root and records an
// autosave version for each settled file change until ctx is cancelled.
// Rapid successive writes to the same file are coalesced by a per-file
// debounce window so an editor's save burst produces one snapshot.
//
// Owner directories created at runtime are automatically added to the
// watch list. Deletes and renames are ignored on purpose: the ledger keeps
// history for files that left the workspace.
func Watch(ctx context.Context, svc *scriptservice.Service, ws *workspace.FS, debounce time.Duration, logger *slog.Logger) error {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, ws.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", ws.Root()))

	// Pending debounce timers keyed by identity; each fires once into
	// saveCh after the file has been quiet for the debounce window.
	saveCh := make(chan models.Identity, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	schedule := func(id models.Identity) {
		key := id.Key()
		if t, ok := timers[key]; ok {
			t.Reset(debounce)
			return
		}
		timers[key] = time.AfterFunc(debounce, func() {
			select {
			case saveCh <- id:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case id := <-saveCh:
			delete(timers, id.Key())
			data, readErr := ws.Read(id)
			if readErr != nil {
				// File may have vanished between the event and the
				// debounce firing; nothing to snapshot.
				logger.Warn("watcher: read failed", slog.String("identity", id.Key()), slog.String("error", readErr.Error()))
				continue
			}
			if _, saveErr := svc.Save(ctx, id, string(data), models.OriginAutosave, ""); saveErr != nil {
				logger.Warn("watcher: autosave failed", slog.String("identity", id.Key()), slog.String("error", saveErr.Error()))
				continue
			}
			logger.Debug("watcher: autosaved", slog.String("identity", id.Key()))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					continue
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			id, idOK := ws.Identify(ev.Name)
			if !idOK {
				continue
			}
			schedule(id)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
