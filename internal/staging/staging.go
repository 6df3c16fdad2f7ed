// Package staging writes entity JSON representations into a git working
// tree and stages them for review.
//
// The staging area is how local metadata changes enter version control:
// each entity becomes one pretty-printed JSON file named after its type
// and URN, added to the git index (and optionally committed). Callers
// treat staging as fire-and-forget; a failure here never blocks sync
// actions against the catalog.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/catalogops/metasync/internal/entity"
)

var (
	// ErrNotInRepo is returned when the staging directory is not inside
	// a git repository.
	ErrNotInRepo = errors.New("staging directory is not in a git repository")

	// ErrGitNotAvailable is returned when the git binary is not in PATH.
	ErrGitNotAvailable = errors.New("git binary not available")
)

// Stager stages entity files into a git repository.
type Stager struct {
	// repoRoot is the repository root directory path.
	repoRoot string

	// dir is the absolute staging directory inside the repository.
	dir string

	// autoCommit commits each staged entity immediately.
	autoCommit bool

	logger *log.Logger
}

// Config holds stager configuration.
type Config struct {
	// Dir is the staging directory; it must live inside a git repository.
	Dir string

	// AutoCommit commits each staged file with a generated message.
	// When false, files are only added to the index.
	AutoCommit bool

	// Logger for staging activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a Stager rooted at the git repository containing cfg.Dir.
func New(cfg *Config) (*Stager, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, ErrGitNotAvailable
	}

	absDir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	root, err := detectRepoRoot(absDir)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[staging] ", log.LstdFlags)
	}

	return &Stager{
		repoRoot:   root,
		dir:        absDir,
		autoCommit: cfg.AutoCommit,
		logger:     logger,
	}, nil
}

// RepoRoot returns the repository root the staging directory lives in.
func (s *Stager) RepoRoot() string {
	return s.repoRoot
}

// StageEntity writes the entity's JSON file and adds it to the git index.
// With AutoCommit enabled the file is committed immediately.
func (s *Stager) StageEntity(ctx context.Context, e *entity.Entity) error {
	path, err := entity.WriteEntityFile(s.dir, e)
	if err != nil {
		return err
	}

	if err := s.git(ctx, "add", path); err != nil {
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(path), err)
	}

	s.logger.Printf("Staged %s", filepath.Base(path))

	if s.autoCommit {
		message := fmt.Sprintf("Update %s %q", e.Type, e.Name)
		if err := s.Commit(ctx, message, path); err != nil {
			return err
		}
	}

	return nil
}

// Commit commits the given paths (all staged changes when empty) with the
// given message. Committing with nothing staged is a no-op, not an error.
func (s *Stager) Commit(ctx context.Context, message string, paths ...string) error {
	changed, err := s.HasStagedChanges(ctx, paths...)
	if err != nil {
		return err
	}
	if !changed {
		s.logger.Println("Nothing staged to commit")
		return nil
	}

	args := []string{"commit", "-m", message}
	args = append(args, paths...)
	if err := s.git(ctx, args...); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}

	s.logger.Printf("Committed staged changes: %s", message)
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD for the
// given paths (the whole staging dir when empty).
func (s *Stager) HasStagedChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) == 0 {
		args = append(args, s.dir)
	} else {
		args = append(args, paths...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// git runs one git command inside the repository.
func (s *Stager) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s failed: %w\n%s", args[0], err, string(output))
	}
	return nil
}

// detectRepoRoot resolves the repository root containing path.
func detectRepoRoot(path string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return "", ErrNotInRepo
	}

	root := strings.TrimSpace(string(output))
	if root == "" {
		return "", ErrNotInRepo
	}
	return root, nil
}
