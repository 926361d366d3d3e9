package tracker

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ReadList reads a watch-list file: one channel name per line, case-folded,
// blank lines skipped, duplicates collapsed with order preserved. A UTF-8 BOM
// on the first line is tolerated.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\uFEFF")))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, sc.Err()
}

// EnsureFile creates the watch-list file (and parent directories) when
// missing, so a first run has something to edit.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	slog.Info("created watch-list file; add one channel name per line", slog.String("file", path))
	return f.Close()
}

// WatchFiles nudges the returned channel whenever one of the given files
// changes, so the scheduler can reconcile immediately instead of waiting for
// the next tick. The per-cycle re-read remains the source of truth; this only
// shortens latency. The watcher shuts down with the context.
func WatchFiles(ctx context.Context, paths ...string) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch parent directories: editors commonly replace files on save, which
	// drops a watch placed on the file itself.
	dirs := map[string]bool{}
	want := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		want[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			slog.Warn("watch-list watcher add failed", slog.String("dir", d), slog.Any("err", err))
		}
	}
	nudge := make(chan struct{}, 1)
	go func() {
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("watcher close", slog.Any("err", err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(ev.Name)
				if err != nil || !want[abs] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				select {
				case nudge <- struct{}{}:
				default: // a nudge is already pending
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("watch-list watcher error", slog.Any("err", err))
			}
		}
	}()
	return nudge, nil
}
