// Package entity defines the metadata entity model shared by the local
// store, the remote catalog client, and the reconciler.
//
// An entity is one logical metadata object (a tag, glossary term, glossary
// node, domain, or metadata test) that may exist in the local SQLite store,
// in the remote catalog, or in both. Fields are flat and JSON-friendly so
// entities can be staged as individual files for git-based review.
package entity

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of metadata entity.
type Type string

const (
	TypeTag          Type = "tag"
	TypeGlossaryTerm Type = "glossary_term"
	TypeGlossaryNode Type = "glossary_node"
	TypeDomain       Type = "domain"
	TypeTest         Type = "test"
)

// AllTypes lists every supported entity type in display order.
var AllTypes = []Type{TypeTag, TypeGlossaryTerm, TypeGlossaryNode, TypeDomain, TypeTest}

// ParseType converts a string to a Type.
// Returns an error for unknown type names.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, s)
	}
	return t, nil
}

// Valid reports whether the type is one of the supported entity types.
func (t Type) Valid() bool {
	switch t {
	case TypeTag, TypeGlossaryTerm, TypeGlossaryNode, TypeDomain, TypeTest:
		return true
	}
	return false
}

// Hierarchical reports whether entities of this type carry parent references.
// Glossary nodes and terms form a tree; domains nest as well.
func (t Type) Hierarchical() bool {
	switch t {
	case TypeGlossaryTerm, TypeGlossaryNode, TypeDomain:
		return true
	}
	return false
}

// APIName returns the identifier segment the remote catalog uses for this
// type in URNs and API paths (camelCase, unlike our snake_case type names).
func (t Type) APIName() string {
	switch t {
	case TypeGlossaryTerm:
		return "glossaryTerm"
	case TypeGlossaryNode:
		return "glossaryNode"
	default:
		return string(t)
	}
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// SyncStatus is the derived relationship state of an entity across the
// local and remote stores. It is recomputed by every reconciliation pass
// and must never be trusted from storage alone.
type SyncStatus string

const (
	// StatusLocalOnly means the entity exists only in the local store.
	StatusLocalOnly SyncStatus = "LOCAL_ONLY"

	// StatusRemoteOnly means the entity exists only in the remote catalog.
	StatusRemoteOnly SyncStatus = "REMOTE_ONLY"

	// StatusSynced means the entity exists on both sides and the local
	// copy has not been modified since the last successful sync.
	StatusSynced SyncStatus = "SYNCED"

	// StatusModified means the entity exists on both sides but the local
	// copy was edited after the last successful sync.
	StatusModified SyncStatus = "MODIFIED"
)

// ErrValidation is returned (wrapped) when an entity fails validation.
// Check with errors.Is(err, entity.ErrValidation).
var ErrValidation = errors.New("validation failed")

// Relationship links an entity to another catalog object, e.g. a dataset
// the tag is applied to. Relationships are informational: they feed the
// reconciliation statistics but never affect sync status.
type Relationship struct {
	Type      string `json:"type"`
	TargetURN string `json:"target_urn"`
}

// Entity is one metadata object as seen by the reconciler.
//
// LocalID, Version, LastModified and LastSynced are owned by the local
// store; Name, Description, Owners and the property maps reflect whichever
// side last won a merge. Fields are last-write-wins friendly so staged
// entity files can be diffed and merged field by field.
type Entity struct {
	// LocalID is the local store row id. Zero when not locally persisted.
	LocalID int64 `json:"local_id,omitempty"`

	// Type is the entity kind (tag, glossary_term, ...).
	Type Type `json:"type"`

	// URN is the canonical remote identifier. For locally created entities
	// this is the deterministic URN derived from the natural key, so the
	// entity keeps the same identity once deployed.
	URN string `json:"urn,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ParentRef points at the parent entity for hierarchical types.
	// It holds either a URN or a "local:<id>" reference.
	ParentRef string `json:"parent_ref,omitempty"`

	// Status is derived by reconciliation; persisted only as a hint.
	Status SyncStatus `json:"sync_status,omitempty"`

	// LastSynced is the time of the last successful reconciliation that
	// matched this entity on both sides. Nil for LOCAL_ONLY/REMOTE_ONLY.
	LastSynced *time.Time `json:"last_synced,omitempty"`

	// LastModified is the local modification timestamp. A local edit newer
	// than LastSynced marks the entity MODIFIED.
	LastModified time.Time `json:"last_modified"`

	CreatedAt time.Time `json:"created_at"`

	Owners               []string          `json:"owners,omitempty"`
	CustomProperties     map[string]string `json:"custom_properties,omitempty"`
	StructuredProperties map[string]string `json:"structured_properties,omitempty"`
	Relationships        []Relationship    `json:"relationships,omitempty"`

	// Version is the optimistic-locking counter bumped on every local
	// write. A stale version on write is rejected as a conflict.
	Version int64 `json:"version,omitempty"`
}

// Validate checks that the entity can be written to the local store.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(e.Name) > 500 {
		return fmt.Errorf("%w: name must be 500 characters or less (got %d)", ErrValidation, len(e.Name))
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, e.Type)
	}
	if e.ParentRef != "" && !e.Type.Hierarchical() {
		return fmt.Errorf("%w: %s entities cannot have a parent", ErrValidation, e.Type)
	}
	return nil
}

// Key returns the identity used to match entities across stores: the URN
// when present, otherwise the deterministic URN derived from the name.
func (e *Entity) Key() string {
	if e.URN != "" {
		return e.URN
	}
	return DeterministicURN(e.Type, e.Name)
}

// LocalRef returns the "local:<id>" reference for a locally persisted
// entity, used as a hierarchy key before the entity has a URN.
func (e *Entity) LocalRef() string {
	return fmt.Sprintf("local:%d", e.LocalID)
}

// HasOwners reports whether any owners are recorded.
func (e *Entity) HasOwners() bool { return len(e.Owners) > 0 }

// HasRelationships reports whether any relationships are recorded.
func (e *Entity) HasRelationships() bool { return len(e.Relationships) > 0 }

// HasProperties reports whether any custom or structured properties are set.
func (e *Entity) HasProperties() bool {
	return len(e.CustomProperties) > 0 || len(e.StructuredProperties) > 0
}

// Touch sets LastModified to now. Call whenever a local field changes.
func (e *Entity) Touch() {
	e.LastModified = time.Now().UTC()
}

// SetDefaults fills optional fields so entities behave consistently when
// fields are omitted in staged files.
func (e *Entity) SetDefaults() {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastModified.IsZero() {
		e.LastModified = now
	}
	if e.Owners == nil {
		e.Owners = []string{}
	}
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.LastSynced != nil {
		t := *e.LastSynced
		c.LastSynced = &t
	}
	if e.Owners != nil {
		c.Owners = append([]string(nil), e.Owners...)
	}
	if e.Relationships != nil {
		c.Relationships = append([]Relationship(nil), e.Relationships...)
	}
	if e.CustomProperties != nil {
		c.CustomProperties = make(map[string]string, len(e.CustomProperties))
		for k, v := range e.CustomProperties {
			c.CustomProperties[k] = v
		}
	}
	if e.StructuredProperties != nil {
		c.StructuredProperties = make(map[string]string, len(e.StructuredProperties))
		for k, v := range e.StructuredProperties {
			c.StructuredProperties[k] = v
		}
	}
	return &c
}
