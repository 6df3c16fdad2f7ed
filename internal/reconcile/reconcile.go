// Package reconcile implements the three-way reconciliation between the
// local entity store and the remote metadata catalog.
//
// A reconciliation pass partitions the union of local and remote entities
// into three disjoint lists (synced, local-only, remote-only), merges
// attributes for entities present on both sides, and computes aggregate
// statistics. The result is a view, not a store: it is recomputed on every
// data-load request and never persisted as its own record.
package reconcile

import (
	"fmt"

	"github.com/catalogops/metasync/internal/entity"
)

// Stats summarizes one reconciliation pass.
type Stats struct {
	Total      int `json:"total"`
	Synced     int `json:"synced"`
	LocalOnly  int `json:"local_only"`
	RemoteOnly int `json:"remote_only"`
	Modified   int `json:"modified"`

	// Sub-counts over all partitions. Presence of these collections never
	// affects sync status; they exist for filtering and display.
	WithOwners        int `json:"with_owners"`
	WithRelationships int `json:"with_relationships"`
	WithProperties    int `json:"with_properties"`
}

// Set is the output of one reconciliation pass: three disjoint partitions
// plus statistics, isolated per-record errors, and data-integrity warnings.
type Set struct {
	EntityType entity.Type      `json:"entity_type"`
	Synced     []*entity.Entity `json:"synced_items"`
	LocalOnly  []*entity.Entity `json:"local_only_items"`
	RemoteOnly []*entity.Entity `json:"remote_only_items"`
	Stats      Stats            `json:"stats"`

	// ParseErrors holds records that could not participate in the pass.
	// A malformed record never fails the whole reconciliation.
	ParseErrors []string `json:"parse_errors,omitempty"`

	// Warnings records automatically resolved data-integrity signals,
	// e.g. duplicate local URNs dropped by the tie-break rule.
	Warnings []string `json:"warnings,omitempty"`
}

// Items returns all partitions flattened: synced, then local-only, then
// remote-only, preserving partition-internal order.
func (s *Set) Items() []*entity.Entity {
	out := make([]*entity.Entity, 0, len(s.Synced)+len(s.LocalOnly)+len(s.RemoteOnly))
	out = append(out, s.Synced...)
	out = append(out, s.LocalOnly...)
	out = append(out, s.RemoteOnly...)
	return out
}

// Reconcile partitions and merges the local and remote entity sets.
//
// Local records match remote records by URN; local records without a URN
// match via their deterministic URN. Matched entities are merged with
// MergeRemote and marked SYNCED, or MODIFIED when the local modification
// timestamp is newer than the last sync. Unmatched local records are
// LOCAL_ONLY; unmatched remote records are REMOTE_ONLY.
//
// Two local records resolving to the same URN should be impossible given
// deterministic-URN uniqueness; when it happens anyway the most recently
// modified record wins and the loser is dropped with a warning. This is a
// data-integrity signal, not an error.
//
// The function is pure and deterministic: identical inputs produce an
// identical Set, and the inputs are never mutated.
func Reconcile(entityType entity.Type, local, remote []*entity.Entity) *Set {
	set := &Set{EntityType: entityType}

	// Remote lookup by URN. Remote input order is preserved for the
	// REMOTE_ONLY partition.
	remoteByURN := make(map[string]*entity.Entity, len(remote))
	remoteOrder := make([]string, 0, len(remote))
	for _, r := range remote {
		if r.URN == "" {
			set.ParseErrors = append(set.ParseErrors,
				fmt.Sprintf("remote %s record %q has no urn", entityType, r.Name))
			continue
		}
		if _, seen := remoteByURN[r.URN]; !seen {
			remoteOrder = append(remoteOrder, r.URN)
		}
		remoteByURN[r.URN] = r
	}

	// Local lookup by URN (deterministic URN for not-yet-deployed records),
	// applying the duplicate tie-break as we go.
	localByURN := make(map[string]*entity.Entity, len(local))
	localOrder := make([]string, 0, len(local))
	for _, l := range local {
		if err := l.Validate(); err != nil {
			set.ParseErrors = append(set.ParseErrors,
				fmt.Sprintf("local %s record %d: %v", entityType, l.LocalID, err))
			continue
		}
		key := l.Key()
		prev, dup := localByURN[key]
		if !dup {
			localByURN[key] = l
			localOrder = append(localOrder, key)
			continue
		}

		// Tie-break: most recently modified wins, loser is dropped.
		winner, loser := prev, l
		if l.LastModified.After(prev.LastModified) {
			winner, loser = l, prev
		}
		localByURN[key] = winner
		set.Warnings = append(set.Warnings,
			fmt.Sprintf("duplicate local urn %s: kept entity %d, dropped entity %d",
				key, winner.LocalID, loser.LocalID))
	}

	matched := make(map[string]bool, len(localByURN))

	for _, key := range localOrder {
		l := localByURN[key]
		r, ok := remoteByURN[key]
		if !ok {
			e := l.Clone()
			e.Status = entity.StatusLocalOnly
			e.LastSynced = nil
			set.LocalOnly = append(set.LocalOnly, e)
			continue
		}

		matched[key] = true
		merged := MergeRemote(l, r)
		merged.Status = entity.StatusSynced
		if merged.LastSynced != nil && merged.LastModified.After(*merged.LastSynced) {
			merged.Status = entity.StatusModified
		}
		set.Synced = append(set.Synced, merged)
	}

	for _, urn := range remoteOrder {
		if matched[urn] {
			continue
		}
		e := remoteByURN[urn].Clone()
		e.Status = entity.StatusRemoteOnly
		e.LastSynced = nil
		set.RemoteOnly = append(set.RemoteOnly, e)
	}

	set.Stats = computeStats(set)
	return set
}

// MergeRemote merges a matched local/remote pair into one entity.
//
// Remote attributes win for display fields that reflect live catalog state
// (name, description, owners, properties, relationships, parent); local
// bookkeeping (local id, version, timestamps) is preserved. The inputs are
// not mutated.
func MergeRemote(local, remote *entity.Entity) *entity.Entity {
	merged := local.Clone()
	merged.URN = remote.URN
	merged.Name = remote.Name
	merged.Description = remote.Description
	merged.Owners = append([]string(nil), remote.Owners...)
	merged.CustomProperties = remote.CustomProperties
	merged.StructuredProperties = remote.StructuredProperties
	merged.Relationships = append([]entity.Relationship(nil), remote.Relationships...)
	if remote.ParentRef != "" {
		merged.ParentRef = remote.ParentRef
	}
	return merged
}

// computeStats counts the partitions and auxiliary collections.
func computeStats(s *Set) Stats {
	stats := Stats{
		Synced:     len(s.Synced),
		LocalOnly:  len(s.LocalOnly),
		RemoteOnly: len(s.RemoteOnly),
	}
	stats.Total = stats.Synced + stats.LocalOnly + stats.RemoteOnly

	for _, e := range s.Items() {
		if e.Status == entity.StatusModified {
			stats.Modified++
		}
		if e.HasOwners() {
			stats.WithOwners++
		}
		if e.HasRelationships() {
			stats.WithRelationships++
		}
		if e.HasProperties() {
			stats.WithProperties++
		}
	}
	return stats
}
