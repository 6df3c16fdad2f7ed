package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/reconcile"
	"github.com/catalogops/metasync/internal/remote"
	"github.com/catalogops/metasync/internal/store"
)

// ErrInvalidState is returned when an action's precondition on the
// entity's sync state does not hold, e.g. deploying an already-synced
// entity or resyncing one that was never deployed.
var ErrInvalidState = errors.New("invalid sync state for action")

// dispatcher implements the Dispatcher interface.
type dispatcher struct {
	store   *store.Store
	catalog Catalog
	stager  Stager
	logger  *log.Logger
}

// New creates a Dispatcher.
//
// The store must be opened with its schema initialized. stager may be nil
// when staging is not configured; the stage action then fails per item.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, catalog Catalog, stager Stager, logger *log.Logger) Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[actions] ", log.LstdFlags)
	}
	return &dispatcher{
		store:   st,
		catalog: catalog,
		stager:  stager,
		logger:  logger,
	}
}

// Deploy implements Dispatcher.Deploy.
func (d *dispatcher) Deploy(ctx context.Context, localID int64) error {
	e, err := d.store.GetByIDContext(ctx, localID)
	if err != nil {
		return err
	}

	// Deployable means never synced, or locally edited since the last
	// sync. An entity whose local copy is clean has nothing to push.
	if e.LastSynced != nil && !e.LastModified.After(*e.LastSynced) {
		return fmt.Errorf("%w: entity %d is already synced", ErrInvalidState, localID)
	}

	urn := e.Key()
	if err := d.catalog.Upsert(ctx, e.Type, remote.RecordFromEntity(e)); err != nil {
		return err
	}

	// Re-reconcile this single URN so the local record reflects what the
	// catalog actually stored.
	rec, err := d.catalog.FetchOne(ctx, e.Type, urn)
	if err != nil {
		return fmt.Errorf("deploy verification fetch failed: %w", err)
	}

	merged := reconcile.MergeRemote(e, rec.ToEntity(e.Type))
	now := time.Now().UTC()
	merged.Status = entity.StatusSynced
	merged.LastSynced = &now
	merged.LastModified = now

	if err := d.store.UpsertContext(ctx, merged); err != nil {
		return fmt.Errorf("failed to record deploy: %w", err)
	}

	d.logger.Printf("Deployed entity %d (%s) as %s", localID, merged.Name, urn)
	return nil
}

// Pull implements Dispatcher.Pull.
func (d *dispatcher) Pull(ctx context.Context, entityType entity.Type, urn string) error {
	rec, err := d.catalog.FetchOne(ctx, entityType, urn)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	e, err := d.store.GetByURNContext(ctx, entityType, urn)
	switch {
	case err == nil:
		e = reconcile.MergeRemote(e, rec.ToEntity(entityType))
	case errors.Is(err, store.ErrNotFound):
		e = rec.ToEntity(entityType)
	default:
		return err
	}

	e.Status = entity.StatusSynced
	e.LastSynced = &now
	e.LastModified = now

	if err := d.store.UpsertContext(ctx, e); err != nil {
		return fmt.Errorf("failed to store pulled entity: %w", err)
	}

	d.logger.Printf("Pulled %s entity %s into local id %d", entityType, urn, e.LocalID)
	return nil
}

// Resync implements Dispatcher.Resync.
func (d *dispatcher) Resync(ctx context.Context, localID int64) error {
	e, err := d.store.GetByIDContext(ctx, localID)
	if err != nil {
		return err
	}

	if e.LastSynced == nil || e.URN == "" {
		return fmt.Errorf("%w: entity %d has never been synced", ErrInvalidState, localID)
	}

	rec, err := d.catalog.FetchOne(ctx, e.Type, e.URN)
	if err != nil {
		return err
	}

	merged := reconcile.MergeRemote(e, rec.ToEntity(e.Type))
	now := time.Now().UTC()
	merged.Status = entity.StatusSynced
	merged.LastSynced = &now
	merged.LastModified = now

	if err := d.store.UpsertContext(ctx, merged); err != nil {
		return fmt.Errorf("failed to store resynced entity: %w", err)
	}

	d.logger.Printf("Resynced entity %d from %s (local edits discarded)", localID, e.URN)
	return nil
}

// DeleteLocal implements Dispatcher.DeleteLocal.
func (d *dispatcher) DeleteLocal(ctx context.Context, localID int64) error {
	if err := d.store.DeleteContext(ctx, localID); err != nil {
		return err
	}
	d.logger.Printf("Deleted local entity %d", localID)
	return nil
}

// Stage implements Dispatcher.Stage.
func (d *dispatcher) Stage(ctx context.Context, localID int64) error {
	if d.stager == nil {
		return fmt.Errorf("staging is not configured")
	}

	e, err := d.store.GetByIDContext(ctx, localID)
	if err != nil {
		return err
	}

	if err := d.stager.StageEntity(ctx, e); err != nil {
		return fmt.Errorf("failed to stage entity %d: %w", localID, err)
	}

	d.logger.Printf("Staged entity %d (%s)", localID, e.Name)
	return nil
}

// Batch implements Dispatcher.Batch.
//
// Each item is attempted independently; failures are recorded in the
// item's outcome and never abort the batch.
func (d *dispatcher) Batch(ctx context.Context, action Action, entityType entity.Type, ids []string) []Outcome {
	outcomes := make([]Outcome, 0, len(ids))

	for _, id := range ids {
		err := d.applyOne(ctx, action, entityType, id)
		outcome := Outcome{ID: id, OK: err == nil}
		if err != nil {
			outcome.Err = err.Error()
			d.logger.Printf("WARNING: %s failed for %s: %v", action, id, err)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// applyOne dispatches a single batch item to its action.
func (d *dispatcher) applyOne(ctx context.Context, action Action, entityType entity.Type, id string) error {
	if action == ActionPull {
		return d.Pull(ctx, entityType, id)
	}

	localID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid local id %q: %w", id, err)
	}

	switch action {
	case ActionDeploy:
		return d.Deploy(ctx, localID)
	case ActionResync:
		return d.Resync(ctx, localID)
	case ActionDeleteLocal:
		return d.DeleteLocal(ctx, localID)
	case ActionStage:
		return d.Stage(ctx, localID)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
