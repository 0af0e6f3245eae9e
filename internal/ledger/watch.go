package ledger

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch signals on the returned channel whenever the ledger file is replaced.
// Signals coalesce: a slow reader sees one pending signal, not a backlog. The
// channel is closed when ctx is done.
func (l *Ledger) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Atomic replacement swaps the inode, so watch the directory, not the file.
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch ledger dir %s: %w", dir, err)
	}

	target := filepath.Clean(l.path)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				// A rename onto the ledger shows up as a create of its name.
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Ledger watcher error.", zap.Error(err))
			}
		}
	}()
	return out, nil
}
