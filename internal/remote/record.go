package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/catalogops/metasync/internal/entity"
)

// Record is the canonical shape of one remote entity after normalization.
// The catalog returns entities in several envelope layouts depending on
// API version; extraction strategies (extract.go) map them all here.
type Record struct {
	URN                  string                `json:"urn"`
	Name                 string                `json:"name"`
	Description          string                `json:"description,omitempty"`
	ParentRef            string                `json:"parent_ref,omitempty"`
	Owners               []string              `json:"owners,omitempty"`
	CustomProperties     map[string]string     `json:"custom_properties,omitempty"`
	StructuredProperties map[string]string     `json:"structured_properties,omitempty"`
	Relationships        []entity.Relationship `json:"relationships,omitempty"`
}

// ToEntity converts a remote record into an entity of the given type.
// The result has no local bookkeeping fields; the reconciler or the pull
// action fills those in.
func (r *Record) ToEntity(t entity.Type) *entity.Entity {
	return &entity.Entity{
		Type:                 t,
		URN:                  r.URN,
		Name:                 r.Name,
		Description:          r.Description,
		ParentRef:            r.ParentRef,
		Owners:               append([]string(nil), r.Owners...),
		CustomProperties:     r.CustomProperties,
		StructuredProperties: r.StructuredProperties,
		Relationships:        append([]entity.Relationship(nil), r.Relationships...),
		LastModified:         time.Now().UTC(),
	}
}

// RecordFromEntity builds the wire record for deploying a local entity.
func RecordFromEntity(e *entity.Entity) Record {
	return Record{
		URN:                  e.Key(),
		Name:                 e.Name,
		Description:          e.Description,
		ParentRef:            e.ParentRef,
		Owners:               e.Owners,
		CustomProperties:     e.CustomProperties,
		StructuredProperties: e.StructuredProperties,
		Relationships:        e.Relationships,
	}
}

// extractFunc attempts to normalize one raw record. Returns (record, true)
// on success; (zero, false) when the raw bytes don't match this layout.
type extractFunc func(raw json.RawMessage) (Record, bool)

// extractStrategies are tried in order for each raw record; the first
// success wins. Order matters: the flat layout is last because it matches
// almost anything with a urn field.
var extractStrategies = []extractFunc{
	extractGraphQLNode,
	extractValueEnvelope,
	extractFlat,
}

// Extract normalizes one raw remote record, trying each known response
// layout in sequence. Returns a ParseError when no strategy matches.
func Extract(entityType entity.Type, raw json.RawMessage) (Record, error) {
	for _, strategy := range extractStrategies {
		if rec, ok := strategy(raw); ok {
			return rec, nil
		}
	}
	return Record{}, &ParseError{
		EntityType: entityType,
		Raw:        truncate(string(raw), 200),
		Err:        fmt.Errorf("no extraction strategy matched"),
	}
}

// extractGraphQLNode handles the GraphQL search-result layout:
//
//	{"urn": "...", "properties": {"name": "...", "description": "..."},
//	 "ownership": {"owners": [{"owner": {"urn": "..."}}]},
//	 "parentNode": {"urn": "..."}}
func extractGraphQLNode(raw json.RawMessage) (Record, bool) {
	var node struct {
		URN        string `json:"urn"`
		Properties *struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"properties"`
		Ownership *struct {
			Owners []struct {
				Owner struct {
					URN string `json:"urn"`
				} `json:"owner"`
			} `json:"owners"`
		} `json:"ownership"`
		ParentNode *struct {
			URN string `json:"urn"`
		} `json:"parentNode"`
		Relationships *struct {
			Relationships []struct {
				Type   string `json:"type"`
				Entity struct {
					URN string `json:"urn"`
				} `json:"entity"`
			} `json:"relationships"`
		} `json:"relationships"`
	}

	if err := json.Unmarshal(raw, &node); err != nil {
		return Record{}, false
	}
	if node.URN == "" || node.Properties == nil || node.Properties.Name == "" {
		return Record{}, false
	}

	rec := Record{
		URN:         node.URN,
		Name:        node.Properties.Name,
		Description: node.Properties.Description,
	}
	if node.ParentNode != nil {
		rec.ParentRef = node.ParentNode.URN
	}
	if node.Ownership != nil {
		for _, o := range node.Ownership.Owners {
			if o.Owner.URN != "" {
				rec.Owners = append(rec.Owners, o.Owner.URN)
			}
		}
	}
	if node.Relationships != nil {
		for _, r := range node.Relationships.Relationships {
			if r.Entity.URN != "" {
				rec.Relationships = append(rec.Relationships, entity.Relationship{
					Type:      r.Type,
					TargetURN: r.Entity.URN,
				})
			}
		}
	}
	return rec, true
}

// extractValueEnvelope handles the OpenAPI v3 entity envelope, where the
// attributes nest under a "value" (older servers: "entity") wrapper:
//
//	{"urn": "...", "value": {"name": "...", "description": "...",
//	 "parentRef": "...", "owners": [...], "customProperties": {...}}}
func extractValueEnvelope(raw json.RawMessage) (Record, bool) {
	var envelope struct {
		URN    string          `json:"urn"`
		Value  json.RawMessage `json:"value"`
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Record{}, false
	}
	if envelope.URN == "" {
		return Record{}, false
	}

	inner := envelope.Value
	if inner == nil {
		inner = envelope.Entity
	}
	if inner == nil {
		return Record{}, false
	}

	var body struct {
		Name                 string                `json:"name"`
		Description          string                `json:"description"`
		ParentRef            string                `json:"parentRef"`
		Owners               []string              `json:"owners"`
		CustomProperties     map[string]string     `json:"customProperties"`
		StructuredProperties map[string]string     `json:"structuredProperties"`
		Relationships        []entity.Relationship `json:"relationships"`
	}
	if err := json.Unmarshal(inner, &body); err != nil {
		return Record{}, false
	}
	if body.Name == "" {
		return Record{}, false
	}

	return Record{
		URN:                  envelope.URN,
		Name:                 body.Name,
		Description:          body.Description,
		ParentRef:            body.ParentRef,
		Owners:               body.Owners,
		CustomProperties:     body.CustomProperties,
		StructuredProperties: body.StructuredProperties,
		Relationships:        body.Relationships,
	}, true
}

// extractFlat handles the flat record layout, which is also the shape the
// client itself writes on deploy.
func extractFlat(raw json.RawMessage) (Record, bool) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false
	}
	if rec.URN == "" || rec.Name == "" {
		return Record{}, false
	}
	return rec, true
}

// truncate shortens s for inclusion in error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
