package view

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/remote"
	"github.com/catalogops/metasync/internal/store"
)

// fakeReader is a scriptable CatalogReader.
type fakeReader struct {
	records   []remote.Record
	parseErrs []error
	err       error
	fetches   int
}

func (f *fakeReader) FetchAll(ctx context.Context, entityType entity.Type, pageSize int) ([]remote.Record, []error, error) {
	f.fetches++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.records, f.parseErrs, nil
}

func newTestService(t *testing.T, reader *fakeReader, ttl time.Duration) (*store.Store, *Service) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	svc := NewService(st, reader, &ServiceConfig{
		CacheTTL: ttl,
		Logger:   log.New(io.Discard, "", 0),
	})
	return st, svc
}

func insertTag(t *testing.T, st *store.Store, name string) *entity.Entity {
	t.Helper()
	e := &entity.Entity{Type: entity.TypeTag, Name: name}
	e.URN = e.Key()
	e.SetDefaults()
	if err := st.Upsert(e); err != nil {
		t.Fatalf("failed to insert entity: %v", err)
	}
	return e
}

func TestReconciledView(t *testing.T) {
	reader := &fakeReader{records: []remote.Record{
		{URN: entity.DeterministicURN(entity.TypeTag, "PII"), Name: "PII"},
		{URN: "urn:li:tag:remote-only", Name: "Remote Only"},
	}}
	st, svc := newTestService(t, reader, time.Minute)

	insertTag(t, st, "PII")
	insertTag(t, st, "Draft")

	v, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}

	if v.Stats.Synced != 1 || v.Stats.LocalOnly != 1 || v.Stats.RemoteOnly != 1 {
		t.Errorf("unexpected stats: %+v", v.Stats)
	}
	if v.Stale {
		t.Error("fresh view must not be stale")
	}
	if v.LoadedAt.IsZero() {
		t.Error("loaded-at should be set")
	}
}

func TestReconciledViewUsesCache(t *testing.T) {
	reader := &fakeReader{}
	_, svc := newTestService(t, reader, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err != nil {
			t.Fatalf("view failed: %v", err)
		}
	}

	if reader.fetches != 1 {
		t.Errorf("expected 1 remote fetch with a warm cache, got %d", reader.fetches)
	}
}

func TestReconciledViewForceRefresh(t *testing.T) {
	reader := &fakeReader{}
	_, svc := newTestService(t, reader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{ForceRefresh: true}); err != nil {
			t.Fatalf("view failed: %v", err)
		}
	}

	if reader.fetches != 2 {
		t.Errorf("force refresh should bypass the cache, got %d fetches", reader.fetches)
	}
}

func TestReconciledViewFilteredBypassesCache(t *testing.T) {
	reader := &fakeReader{}
	_, svc := newTestService(t, reader, time.Minute)

	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err != nil {
		t.Fatalf("view failed: %v", err)
	}

	opts := Options{Filter: store.ListFilter{NameContains: "pii"}}
	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, opts); err != nil {
		t.Fatalf("filtered view failed: %v", err)
	}

	if reader.fetches != 2 {
		t.Errorf("filtered views must refetch, got %d fetches", reader.fetches)
	}
}

func TestStaleFallbackOnFetchFailure(t *testing.T) {
	reader := &fakeReader{records: []remote.Record{
		{URN: "urn:li:tag:a", Name: "A"},
	}}
	_, svc := newTestService(t, reader, time.Minute)

	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err != nil {
		t.Fatalf("priming view failed: %v", err)
	}

	reader.err = fmt.Errorf("catalog unreachable")

	v, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("stale fallback should not error: %v", err)
	}
	if !v.Stale {
		t.Error("fallback view should be flagged stale")
	}
	if v.FetchError == "" {
		t.Error("fallback view should carry the fetch error")
	}
	if len(v.RemoteOnly) != 1 {
		t.Errorf("fallback should serve the last good data, got %d remote-only", len(v.RemoteOnly))
	}
}

func TestFetchFailureWithEmptyCachePropagates(t *testing.T) {
	reader := &fakeReader{err: fmt.Errorf("catalog unreachable")}
	_, svc := newTestService(t, reader, time.Minute)

	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err == nil {
		t.Fatal("expected error when nothing is cached")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	reader := &fakeReader{}
	_, svc := newTestService(t, reader, time.Minute)

	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err != nil {
		t.Fatalf("view failed: %v", err)
	}

	svc.Invalidate(entity.TypeTag)

	if _, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{}); err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if reader.fetches != 2 {
		t.Errorf("invalidate should force a refetch, got %d fetches", reader.fetches)
	}
}

func TestReconciledViewSurfacesParseErrors(t *testing.T) {
	reader := &fakeReader{
		parseErrs: []error{fmt.Errorf("malformed record")},
	}
	_, svc := newTestService(t, reader, time.Minute)

	v, err := svc.ReconciledView(context.Background(), entity.TypeTag, Options{})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if len(v.ParseErrors) != 1 {
		t.Errorf("expected 1 parse error in the view, got %d", len(v.ParseErrors))
	}
}

func TestTree(t *testing.T) {
	parentURN := "urn:li:glossaryNode:finance"
	reader := &fakeReader{records: []remote.Record{
		{URN: parentURN, Name: "Finance"},
		{URN: "urn:li:glossaryNode:revenue", Name: "Revenue", ParentRef: parentURN},
	}}
	_, svc := newTestService(t, reader, time.Minute)

	_, roots, err := svc.Tree(context.Background(), entity.TypeGlossaryNode, Options{})
	if err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	if len(roots) != 1 || roots[0].Entity.Name != "Finance" {
		t.Fatalf("expected a single Finance root, got %d roots", len(roots))
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].Entity.Name != "Revenue" {
		t.Errorf("expected Revenue under Finance, got %d children", len(roots[0].Children))
	}
}
