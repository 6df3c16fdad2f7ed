// Package actions provides per-item sync operations between the local
// store and the remote catalog: deploy, pull, resync, and delete-local,
// plus batch variants with partial-failure semantics.
package actions

import (
	"context"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/remote"
)

// Action names accepted by Batch.
type Action string

const (
	ActionDeploy      Action = "deploy"
	ActionPull        Action = "pull"
	ActionResync      Action = "resync"
	ActionDeleteLocal Action = "delete_local"
	ActionStage       Action = "stage"
)

// Outcome reports the result of one item in a batch operation.
// Batch results are keyed by item id; ordering carries no meaning.
type Outcome struct {
	ID  string `json:"id"`
	OK  bool   `json:"ok"`
	Err string `json:"error,omitempty"`
}

// Catalog is the remote-side collaborator the dispatcher needs.
// *remote.Client satisfies it; tests substitute a fake.
type Catalog interface {
	// FetchOne retrieves a single entity by URN.
	FetchOne(ctx context.Context, entityType entity.Type, urn string) (remote.Record, error)

	// Upsert pushes one record to the catalog.
	Upsert(ctx context.Context, entityType entity.Type, rec remote.Record) error
}

// Stager stages an entity's JSON representation for review, e.g. into a
// git working tree. Treated as fire-and-forget: the dispatcher reports
// the outcome but never blocks other items on it.
type Stager interface {
	StageEntity(ctx context.Context, e *entity.Entity) error
}

// Dispatcher applies sync actions to individual entities.
//
// Every operation is idempotent where the contract allows it, and batch
// variants apply the single-item operation independently per item: one
// failing item never prevents the rest from being attempted.
type Dispatcher interface {
	// Deploy pushes a LOCAL_ONLY or MODIFIED entity to the remote catalog,
	// then re-reconciles that single URN so the local record ends up
	// SYNCED with a fresh last-synced timestamp. Remote write failures
	// surface as *remote.WriteError without retry.
	Deploy(ctx context.Context, localID int64) error

	// Pull upserts a local record derived from the remote entity with the
	// given URN, creating a fresh local id when none exists.
	Pull(ctx context.Context, entityType entity.Type, urn string) error

	// Resync discards local edits and re-pulls from remote. Only valid for
	// entities that have been synced before (SYNCED or MODIFIED).
	Resync(ctx context.Context, localID int64) error

	// DeleteLocal removes the local record only; the remote catalog is
	// never touched. No-op if the record is already absent.
	DeleteLocal(ctx context.Context, localID int64) error

	// Stage writes the entity's JSON representation to the staging area.
	Stage(ctx context.Context, localID int64) error

	// Batch applies action independently to each id and collects per-item
	// outcomes. Ids are local ids for deploy/resync/delete_local/stage and
	// URNs for pull.
	Batch(ctx context.Context, action Action, entityType entity.Type, ids []string) []Outcome
}
