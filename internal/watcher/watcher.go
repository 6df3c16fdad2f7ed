// Package watcher provides the daemon that keeps the local store in sync
// with the staging directory.
//
// The daemon:
//  1. Performs a full sync of staged entity files into the local store
//  2. Watches the staging directory for file changes
//  3. Applies changes with debouncing so rapid edits batch together
//  4. Periodically re-runs the full sync as a safety net
//
// Individual file failures are logged and counted, never fatal: one bad
// staged file must not stop the daemon.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// FullSyncInterval is how often to re-run the full directory sync.
	FullSyncInterval time.Duration

	// DebounceInterval is how long to wait before processing file
	// changes, batching rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FullSyncInterval: 5 * time.Minute,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// SyncStats counts the results of one full sync pass.
type SyncStats struct {
	Synced int
	Failed int
}

// Daemon watches the staging directory and syncs entity files into the
// local store.
type Daemon struct {
	store  *store.Store
	dir    string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon watching dir for staged entity files.
func New(st *store.Store, dir string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("staging directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		dir:         dir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// Blocks until ctx is cancelled or startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting staging watcher")

	if _, err := d.FullSync(); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Add(d.dir); err != nil {
		return fmt.Errorf("failed to watch staging directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicFullSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping staging watcher")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Staging watcher stopped")
	return nil
}

// FullSync syncs every staged entity file into the local store.
// Individual file failures are logged but don't stop the sync.
func (d *Daemon) FullSync() (SyncStats, error) {
	d.config.Logger.Println("Performing full sync")
	var stats SyncStats

	entities, err := entity.ReadAllEntityFiles(d.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to read staging directory: %w", err)
	}

	for _, e := range entities {
		if err := d.upsertStaged(e); err != nil {
			d.config.Logger.Printf("WARNING: failed to sync entity %s: %v", e.Key(), err)
			stats.Failed++
			continue
		}
		stats.Synced++
	}

	d.config.Logger.Printf("Full sync complete: synced=%d, failed=%d", stats.Synced, stats.Failed)
	return stats, nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains queued file changes after the debounce window.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs files whose debounce window has passed.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if err := d.syncFile(path); err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// syncFile syncs one staged file into the store; a removed file deletes
// the matching local record.
func (d *Daemon) syncFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		entityType, urn, err := entity.ParseFilename(path)
		if err != nil {
			return fmt.Errorf("failed to parse staged filename: %w", err)
		}

		e, err := d.store.GetByURNContext(d.ctx, entityType, urn)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		d.config.Logger.Printf("Staged file removed, deleting local entity %d (%s)", e.LocalID, urn)
		return d.store.DeleteContext(d.ctx, e.LocalID)
	}

	e, err := entity.ReadEntityFile(path)
	if err != nil {
		return fmt.Errorf("failed to read staged file: %w", err)
	}

	return d.upsertStaged(e)
}

// upsertStaged writes a staged entity into the store, preserving the
// local id and version of an existing row so optimistic locking holds.
func (d *Daemon) upsertStaged(e *entity.Entity) error {
	existing, err := d.store.GetByURNContext(d.ctx, e.Type, e.Key())
	switch {
	case err == nil:
		e.LocalID = existing.LocalID
		e.Version = existing.Version
		e.CreatedAt = existing.CreatedAt
		e.LastSynced = existing.LastSynced
	case errors.Is(err, store.ErrNotFound):
		e.LocalID = 0
		e.Version = 0
		if e.URN == "" {
			e.URN = e.Key()
		}
	default:
		return err
	}

	e.Touch()
	return d.store.UpsertContext(d.ctx, e)
}

// periodicFullSync re-runs the full sync on an interval as a safety net
// for missed events.
func (d *Daemon) periodicFullSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if _, err := d.FullSync(); err != nil {
				d.config.Logger.Printf("Error during periodic sync: %v", err)
			}
		}
	}
}
