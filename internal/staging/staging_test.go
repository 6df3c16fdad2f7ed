package staging

import (
	"context"
	"errors"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/catalogops/metasync/internal/entity"
)

// initRepo creates a throwaway git repository and returns its path.
// Tests are skipped entirely when git is not installed.
func initRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	return dir
}

func newTestStager(t *testing.T, repo string, autoCommit bool) *Stager {
	t.Helper()

	s, err := New(&Config{
		Dir:        filepath.Join(repo, "staged"),
		AutoCommit: autoCommit,
		Logger:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create stager: %v", err)
	}
	return s
}

func TestNewOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	_, err := New(&Config{Dir: t.TempDir(), Logger: log.New(io.Discard, "", 0)})
	if !errors.Is(err, ErrNotInRepo) {
		t.Fatalf("expected ErrNotInRepo, got %v", err)
	}
}

func TestStageEntityAddsToIndex(t *testing.T) {
	repo := initRepo(t)
	s := newTestStager(t, repo, false)

	e := &entity.Entity{Type: entity.TypeTag, Name: "PII"}
	e.SetDefaults()

	if err := s.StageEntity(context.Background(), e); err != nil {
		t.Fatalf("stage failed: %v", err)
	}

	changed, err := s.HasStagedChanges(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !changed {
		t.Error("staged file should show up in the index")
	}
}

func TestStageEntityAutoCommit(t *testing.T) {
	repo := initRepo(t)
	s := newTestStager(t, repo, true)

	e := &entity.Entity{Type: entity.TypeTag, Name: "PII"}
	e.SetDefaults()

	if err := s.StageEntity(context.Background(), e); err != nil {
		t.Fatalf("stage failed: %v", err)
	}

	changed, err := s.HasStagedChanges(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if changed {
		t.Error("auto-commit should leave a clean index")
	}
}

func TestStageEntityRejectsInvalid(t *testing.T) {
	repo := initRepo(t)
	s := newTestStager(t, repo, false)

	err := s.StageEntity(context.Background(), &entity.Entity{Type: entity.TypeTag})
	if err == nil {
		t.Fatal("staging an invalid entity should fail")
	}
	if !errors.Is(err, entity.ErrValidation) {
		t.Errorf("error should wrap ErrValidation: %v", err)
	}
}

func TestCommitWithNothingStaged(t *testing.T) {
	repo := initRepo(t)
	s := newTestStager(t, repo, false)

	if err := s.Commit(context.Background(), "empty"); err != nil {
		t.Errorf("committing with a clean index should be a no-op, got %v", err)
	}
}

func TestRepoRootDetection(t *testing.T) {
	repo := initRepo(t)
	s := newTestStager(t, repo, false)

	got, err := filepath.EvalSymlinks(s.RepoRoot())
	if err != nil {
		t.Fatalf("failed to resolve repo root: %v", err)
	}
	want, err := filepath.EvalSymlinks(repo)
	if err != nil {
		t.Fatalf("failed to resolve expected root: %v", err)
	}
	if got != want {
		t.Errorf("expected repo root %s, got %s", want, got)
	}
}
