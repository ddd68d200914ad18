package role

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval backs up fsnotify. Some filesystems (network mounts,
// containers) drop inotify events; the poll guarantees progress.
const pollInterval = 500 * time.Millisecond

// WaitSignal blocks until the signal file at path exists, the context
// is cancelled, or the timeout elapses. The file may already exist
// when called.
func WaitSignal(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		watcher = nil
	} else if werr := watcher.Add(filepath.Dir(path)); werr != nil {
		watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}

	// Check after the watch is registered so a write between the two
	// cannot be missed.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out waiting for completion signal at %s", path)
			}
			return ctx.Err()
		case event := <-events:
			if event.Name == path && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return nil
			}
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}
