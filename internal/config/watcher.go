package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when watched files change.
// The serve command sets these at startup: config changes hot-reload
// settings, ledger appends push new decisions to connected feed clients.
type WatchTargets struct {
	// OnConfigChange fires when revgate.yaml is written or created.
	OnConfigChange func()

	// OnLedgerAppend fires when a daily ledger JSONL file is written or
	// created. This is what makes the live feed real-time — a hook
	// process appends a decision, the watcher fires, and the serve
	// process reads the new entries and broadcasts them.
	OnLedgerAppend func()
}

// Watcher monitors the project's .claude directory and the ledger
// directory for file changes using fsnotify.
//
// The watcher runs a background goroutine that processes fsnotify events.
// Call Close() to stop the watcher and release resources.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on the given directories. Watching
// the config directory covers revgate.yaml; watching the ledger
// directory covers the daily JSONL files.
//
// The watcher immediately starts processing events in a background
// goroutine. Events are debounced naturally by fsnotify — rapid
// successive writes typically produce a single event.
func NewWatcher(configDir, ledgerDir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// fsnotify sends events for any file created, written, renamed, or
	// removed in a watched directory.
	if err := fw.Add(configDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", configDir, err)
	}
	if ledgerDir != "" {
		if err := fw.Add(ledgerDir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching directory %s: %w", ledgerDir, err)
		}
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	// Start the event processing goroutine.
	go w.processEvents(targets)

	slog.Info("file watcher started", "config_dir", configDir, "ledger_dir", ledgerDir)
	return w, nil
}

// processEvents reads fsnotify events and dispatches to the appropriate
// callback. Runs in a background goroutine until Close() is called.
func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// We only care about write and create events — not remove
			// or rename, which would indicate the file was deleted.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Match on filename regardless of directory path.
			name := filepath.Base(event.Name)
			switch {
			case name == filepath.Base(FileName):
				slog.Info("config file changed", "file", event.Name)
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			case strings.HasSuffix(name, ".jsonl"):
				if targets.OnLedgerAppend != nil {
					targets.OnLedgerAppend()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the file watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	// Signal the goroutine to stop.
	select {
	case <-w.done:
		// Already closed.
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
