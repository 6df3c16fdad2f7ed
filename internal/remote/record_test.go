package remote

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/catalogops/metasync/internal/entity"
)

func TestExtractGraphQLNode(t *testing.T) {
	raw := json.RawMessage(`{
		"urn": "urn:li:glossaryNode:finance",
		"properties": {"name": "Finance", "description": "Money things"},
		"ownership": {"owners": [{"owner": {"urn": "urn:li:corpuser:alice"}}]},
		"parentNode": {"urn": "urn:li:glossaryNode:root"},
		"relationships": {"relationships": [
			{"type": "contains", "entity": {"urn": "urn:li:glossaryTerm:revenue"}}
		]}
	}`)

	rec, err := Extract(entity.TypeGlossaryNode, raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.URN != "urn:li:glossaryNode:finance" || rec.Name != "Finance" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Description != "Money things" {
		t.Errorf("description not extracted: %q", rec.Description)
	}
	if rec.ParentRef != "urn:li:glossaryNode:root" {
		t.Errorf("parent not extracted: %q", rec.ParentRef)
	}
	if len(rec.Owners) != 1 || rec.Owners[0] != "urn:li:corpuser:alice" {
		t.Errorf("owners not extracted: %v", rec.Owners)
	}
	if len(rec.Relationships) != 1 || rec.Relationships[0].TargetURN != "urn:li:glossaryTerm:revenue" {
		t.Errorf("relationships not extracted: %v", rec.Relationships)
	}
}

func TestExtractValueEnvelope(t *testing.T) {
	raw := json.RawMessage(`{
		"urn": "urn:li:tag:pii",
		"value": {
			"name": "PII",
			"description": "Personal data",
			"customProperties": {"team": "governance"}
		}
	}`)

	rec, err := Extract(entity.TypeTag, raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.Name != "PII" || rec.Description != "Personal data" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.CustomProperties["team"] != "governance" {
		t.Errorf("custom properties not extracted: %v", rec.CustomProperties)
	}
}

func TestExtractEntityEnvelope(t *testing.T) {
	// Older servers wrap attributes under "entity" instead of "value".
	raw := json.RawMessage(`{"urn": "urn:li:tag:pii", "entity": {"name": "PII"}}`)

	rec, err := Extract(entity.TypeTag, raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.Name != "PII" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestExtractFlat(t *testing.T) {
	raw := json.RawMessage(`{"urn": "urn:li:tag:pii", "name": "PII", "owners": ["urn:li:corpuser:alice"]}`)

	rec, err := Extract(entity.TypeTag, raw)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.Name != "PII" || len(rec.Owners) != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestExtractNoStrategyMatches(t *testing.T) {
	for _, raw := range []string{
		`{"unexpected": true}`,
		`{"urn": "urn:li:tag:x"}`,
		`"just a string"`,
		`42`,
	} {
		_, err := Extract(entity.TypeTag, json.RawMessage(raw))
		if err == nil {
			t.Errorf("Extract(%s) should fail", raw)
			continue
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("expected *ParseError for %s, got %T", raw, err)
		}
	}
}

func TestRecordEntityRoundTrip(t *testing.T) {
	e := &entity.Entity{
		Type:        entity.TypeTag,
		Name:        "PII",
		Description: "Personal data",
		Owners:      []string{"urn:li:corpuser:alice"},
	}

	rec := RecordFromEntity(e)
	if rec.URN != e.Key() {
		t.Errorf("record should carry the deterministic urn, got %q", rec.URN)
	}

	back := rec.ToEntity(entity.TypeTag)
	if back.Name != e.Name || back.Description != e.Description {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.URN != e.Key() {
		t.Errorf("urn lost in round trip: %q", back.URN)
	}
}
