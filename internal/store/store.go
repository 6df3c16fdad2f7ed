// Package store provides the SQLite-backed local entity store.
//
// The local store owns the local_id-keyed side of reconciliation: entities
// created or edited here carry a deterministic URN so they keep their
// identity once deployed to the remote catalog. The database runs in
// embedded mode with WAL for concurrent reads.
//
// Schema:
//   - entities table, one row per local entity
//   - unique index on (type, urn) for deployed entities
//   - version column for optimistic locking on concurrent writes
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalogops/metasync/internal/entity"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a lookup does not match any entity.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an optimistic-lock check fails or a
	// write would violate the (type, urn) uniqueness constraint.
	ErrConflict = errors.New("write conflict")
)

// Store wraps the SQLite connection with entity-store functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the entity schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		urn TEXT,
		name TEXT NOT NULL,
		description TEXT,
		parent_ref TEXT,
		sync_status TEXT NOT NULL DEFAULT 'LOCAL_ONLY',
		last_synced TEXT,
		last_modified TEXT NOT NULL,
		created_at TEXT NOT NULL,
		owners TEXT,                -- JSON array
		custom_properties TEXT,     -- JSON object
		structured_properties TEXT, -- JSON object
		relationships TEXT,         -- JSON array
		version INTEGER NOT NULL DEFAULT 1
	);

	-- Deployed entities must map to exactly one local row per type.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_urn
	    ON entities(type, urn) WHERE urn IS NOT NULL AND urn != '';

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
	CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(sync_status);
	CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_ref);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Upsert inserts or updates an entity in the local store.
//
// New entities (LocalID == 0) are inserted and get their LocalID and
// Version filled in. Existing entities are updated with an optimistic-lock
// check on Version: a stale version returns ErrConflict, as does a urn
// collision with another row of the same type.
func (s *Store) Upsert(e *entity.Entity) error {
	return s.UpsertContext(context.Background(), e)
}

// UpsertContext inserts or updates an entity with context support.
func (s *Store) UpsertContext(ctx context.Context, e *entity.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}
	e.SetDefaults()

	ownersJSON, err := json.Marshal(e.Owners)
	if err != nil {
		return fmt.Errorf("failed to marshal owners: %w", err)
	}
	customJSON, err := json.Marshal(e.CustomProperties)
	if err != nil {
		return fmt.Errorf("failed to marshal custom properties: %w", err)
	}
	structuredJSON, err := json.Marshal(e.StructuredProperties)
	if err != nil {
		return fmt.Errorf("failed to marshal structured properties: %w", err)
	}
	relsJSON, err := json.Marshal(e.Relationships)
	if err != nil {
		return fmt.Errorf("failed to marshal relationships: %w", err)
	}

	if e.LocalID == 0 {
		query := `
		INSERT INTO entities (
			type, urn, name, description, parent_ref, sync_status,
			last_synced, last_modified, created_at,
			owners, custom_properties, structured_properties, relationships,
			version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`
		res, err := s.conn.ExecContext(ctx, query,
			string(e.Type),
			e.URN,
			e.Name,
			e.Description,
			e.ParentRef,
			statusOrDefault(e.Status),
			timeToNullString(e.LastSynced),
			e.LastModified.Format(time.RFC3339),
			e.CreatedAt.Format(time.RFC3339),
			string(ownersJSON),
			string(customJSON),
			string(structuredJSON),
			string(relsJSON),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: entity with urn %s already exists", ErrConflict, e.URN)
			}
			return fmt.Errorf("failed to insert entity: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		e.LocalID = id
		e.Version = 1
		return nil
	}

	query := `
	UPDATE entities SET
		type = ?, urn = ?, name = ?, description = ?, parent_ref = ?,
		sync_status = ?, last_synced = ?, last_modified = ?,
		owners = ?, custom_properties = ?, structured_properties = ?,
		relationships = ?, version = version + 1
	WHERE id = ? AND version = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		string(e.Type),
		e.URN,
		e.Name,
		e.Description,
		e.ParentRef,
		statusOrDefault(e.Status),
		timeToNullString(e.LastSynced),
		e.LastModified.Format(time.RFC3339),
		string(ownersJSON),
		string(customJSON),
		string(structuredJSON),
		string(relsJSON),
		e.LocalID,
		e.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entity with urn %s already exists", ErrConflict, e.URN)
		}
		return fmt.Errorf("failed to update entity %d: %w", e.LocalID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone wrote a newer version.
		if _, getErr := s.GetByIDContext(ctx, e.LocalID); getErr != nil {
			return fmt.Errorf("%w: entity %d", ErrNotFound, e.LocalID)
		}
		return fmt.Errorf("%w: entity %d was modified concurrently (version %d is stale)",
			ErrConflict, e.LocalID, e.Version)
	}

	e.Version++
	return nil
}

// Delete removes an entity from the local store.
// Returns nil if the entity doesn't exist (idempotent). The remote catalog
// is never touched.
func (s *Store) Delete(localID int64) error {
	return s.DeleteContext(context.Background(), localID)
}

// DeleteContext removes an entity with context support.
func (s *Store) DeleteContext(ctx context.Context, localID int64) error {
	query := `DELETE FROM entities WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, localID); err != nil {
		return fmt.Errorf("failed to delete entity %d: %w", localID, err)
	}
	return nil
}

// GetByID retrieves a single entity by local id.
// Returns ErrNotFound if no entity matches.
func (s *Store) GetByID(localID int64) (*entity.Entity, error) {
	return s.GetByIDContext(context.Background(), localID)
}

// GetByIDContext retrieves a single entity by local id with context support.
func (s *Store) GetByIDContext(ctx context.Context, localID int64) (*entity.Entity, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` FROM entities WHERE id = ?`, localID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %d", ErrNotFound, localID)
	}
	return e, err
}

// GetByURN retrieves a single entity by type and urn.
// Returns ErrNotFound if no entity matches.
func (s *Store) GetByURN(entityType entity.Type, urn string) (*entity.Entity, error) {
	return s.GetByURNContext(context.Background(), entityType, urn)
}

// GetByURNContext retrieves a single entity by type and urn with context support.
func (s *Store) GetByURNContext(ctx context.Context, entityType entity.Type, urn string) (*entity.Entity, error) {
	row := s.conn.QueryRowContext(ctx,
		selectColumns+` FROM entities WHERE type = ? AND urn = ?`, string(entityType), urn)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, entityType, urn)
	}
	return e, err
}

// ListFilter configures the List query.
type ListFilter struct {
	// Status filters by persisted sync status hint (empty = all).
	Status string
	// NameContains filters case-insensitively on the entity name.
	NameContains string
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// List retrieves all local entities of the given type.
// Results are ordered case-insensitively by name.
func (s *Store) List(entityType entity.Type, filter ListFilter) ([]*entity.Entity, error) {
	return s.ListContext(context.Background(), entityType, filter)
}

// ListContext retrieves entities with context support.
func (s *Store) ListContext(ctx context.Context, entityType entity.Type, filter ListFilter) ([]*entity.Entity, error) {
	conditions := []string{"type = ?"}
	args := []interface{}{string(entityType)}

	if filter.Status != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, filter.Status)
	}
	if filter.NameContains != "" {
		conditions = append(conditions, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.NameContains)+"%")
	}

	query := selectColumns + `
	FROM entities
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY name COLLATE NOCASE ASC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// CountByStatus returns the number of local entities of the given type per
// persisted sync status hint. Cheap offline stats; hints may lag the truth
// until the next reconciliation pass.
func (s *Store) CountByStatus(ctx context.Context, entityType entity.Type) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM entities WHERE type = ? GROUP BY sync_status`,
		string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

const selectColumns = `
	SELECT id, type, urn, name, description, parent_ref, sync_status,
	       last_synced, last_modified, created_at,
	       owners, custom_properties, structured_properties, relationships,
	       version`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans a single entity from a query result.
func scanEntity(row rowScanner) (*entity.Entity, error) {
	var e entity.Entity
	var typ string
	var urn, description, parentRef, status sql.NullString
	var lastSynced sql.NullString
	var lastModified, createdAt string
	var ownersJSON, customJSON, structuredJSON, relsJSON sql.NullString

	err := row.Scan(
		&e.LocalID,
		&typ,
		&urn,
		&e.Name,
		&description,
		&parentRef,
		&status,
		&lastSynced,
		&lastModified,
		&createdAt,
		&ownersJSON,
		&customJSON,
		&structuredJSON,
		&relsJSON,
		&e.Version,
	)
	if err != nil {
		return nil, err
	}

	e.Type = entity.Type(typ)
	e.URN = urn.String
	e.Description = description.String
	e.ParentRef = parentRef.String
	e.Status = entity.SyncStatus(status.String)

	if t, err := time.Parse(time.RFC3339, lastModified); err == nil {
		e.LastModified = t
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = t
	}
	e.LastSynced = nullStringToTime(lastSynced)

	if err := unmarshalJSONColumn(ownersJSON, &e.Owners); err != nil {
		return nil, fmt.Errorf("failed to unmarshal owners: %w", err)
	}
	if err := unmarshalJSONColumn(customJSON, &e.CustomProperties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom properties: %w", err)
	}
	if err := unmarshalJSONColumn(structuredJSON, &e.StructuredProperties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured properties: %w", err)
	}
	if err := unmarshalJSONColumn(relsJSON, &e.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
	}
	if e.Owners == nil {
		e.Owners = []string{}
	}

	return &e, nil
}

// scanEntities scans multiple entities from query results.
func scanEntities(rows *sql.Rows) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

// unmarshalJSONColumn parses a nullable JSON text column into dst.
func unmarshalJSONColumn(col sql.NullString, dst interface{}) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

// statusOrDefault returns the persisted status hint, defaulting new rows
// to LOCAL_ONLY until a reconciliation pass says otherwise.
func statusOrDefault(s entity.SyncStatus) string {
	if s == "" {
		return string(entity.StatusLocalOnly)
	}
	return string(s)
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
