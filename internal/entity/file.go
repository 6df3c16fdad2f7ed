package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filename returns the canonical staged filename for this entity:
// {type}--{urn id segment}.json. Entities without a URN use the
// deterministic URN so the filename is stable before and after deploy.
func (e *Entity) Filename() string {
	return fmt.Sprintf("%s--%s.json", e.Type, URNID(e.Key()))
}

// ParseFilename recovers the entity type and URN from a staged filename
// of the form {type}--{id}.json. Used when a staged file is deleted and
// only its name is left to identify the entity.
func ParseFilename(name string) (Type, string, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".json")
	parts := strings.SplitN(base, "--", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unrecognized entity filename: %s", name)
	}
	t, err := ParseType(parts[0])
	if err != nil {
		return "", "", err
	}
	urn := fmt.Sprintf("urn:li:%s:%s", t.APIName(), parts[1])
	return t, urn, nil
}

// ReadEntityFile reads and parses a staged entity JSON file.
// Returns the parsed Entity or an error if reading/parsing fails.
func ReadEntityFile(path string) (*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity file %s: %w", path, err)
	}

	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse entity file %s: %w", path, err)
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entity file %s: %w", path, err)
	}

	return &e, nil
}

// WriteEntityFile writes an entity to dir as pretty-printed JSON.
// The file is written to dir/{type}--{id}.json.
func WriteEntityFile(dir string, e *Entity) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid entity: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity %s: %w", e.Key(), err)
	}

	path := filepath.Join(dir, e.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write entity file %s: %w", path, err)
	}

	return path, nil
}

// ReadAllEntityFiles reads every staged entity file from dir.
// Invalid files are skipped with a warning to stderr; a missing directory
// is treated as empty.
func ReadAllEntityFiles(dir string) ([]*Entity, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Entity{}, nil
		}
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	var out []*Entity
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		e, err := ReadEntityFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid entity file %s: %v\n", entry.Name(), err)
			continue
		}

		out = append(out, e)
	}

	return out, nil
}
