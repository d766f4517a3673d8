package git

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

// Service wraps the `git worktree` porcelain with injection-safe argument
// handling. All operations are pure functions of their arguments; nothing
// is cached between calls.
type Service struct {
	gitBin string
}

// NewService creates a worktree service using the `git` binary on PATH.
func NewService() *Service {
	return &Service{gitBin: "git"}
}

// execGit runs git with -C repoPath and returns trimmed stdout. Shell
// failures surface stderr verbatim, wrapped as Internal.
func (s *Service) execGit(repoPath string, args ...string) (string, error) {
	cmd := exec.Command(s.gitBin, append([]string{"-C", repoPath}, args...)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", models.NewAppError(models.ErrInternal, msg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether repoPath is inside the working tree of a git
// repository.
func (s *Service) IsRepo(repoPath string) bool {
	abs, err := SafePath(repoPath)
	if err != nil {
		return false
	}
	out, err := s.execGit(abs, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// RepoRoot resolves the top-level directory of the repository at repoPath.
func (s *Service) RepoRoot(repoPath string) (string, error) {
	abs, err := SafePath(repoPath)
	if err != nil {
		return "", err
	}
	out, err := s.execGit(abs, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", models.Errorf(models.ErrNotFound, "not a git repository: %s", repoPath)
	}
	return out, nil
}

// CurrentBranch returns the abbreviated HEAD ref of the repository.
func (s *Service) CurrentBranch(repoPath string) (string, error) {
	abs, err := SafePath(repoPath)
	if err != nil {
		return "", err
	}
	return s.execGit(abs, "rev-parse", "--abbrev-ref", "HEAD")
}

// ListWorktrees parses `git worktree list --porcelain`. The first entry is
// the main worktree; detached entries get branch "(detached)".
func (s *Service) ListWorktrees(repoPath string) ([]models.Worktree, error) {
	abs, err := SafePath(repoPath)
	if err != nil {
		return nil, err
	}
	if !s.IsRepo(abs) {
		return nil, models.Errorf(models.ErrNotFound, "not a git repository: %s", repoPath)
	}

	out, err := s.execGit(abs, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreePorcelain(out), nil
}

// parseWorktreePorcelain turns the stanza-formatted listing into Worktree
// records. Stanzas are separated by blank lines; the first stanza is the
// main worktree.
func parseWorktreePorcelain(out string) []models.Worktree {
	var result []models.Worktree
	var current *models.Worktree

	flush := func() {
		if current != nil {
			if current.Branch == "" && !current.IsBare {
				current.Branch = "(detached)"
			}
			current.ID = models.WorktreeID(current.Path)
			current.IsMain = len(result) == 0
			result = append(result, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &models.Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
			// stray line before any stanza; ignore
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.IsBare = true
		case line == "detached":
			current.Branch = "(detached)"
		}
	}
	flush()
	return result
}

// CreateWorktree adds a worktree for a new branch created from baseBranch
// (HEAD when empty). The destination directory is derived from the repo
// root and the branch name with slashes flattened to dashes.
func (s *Service) CreateWorktree(repoPath, branch, baseBranch string) (*models.Worktree, error) {
	abs, err := SafePath(repoPath)
	if err != nil {
		return nil, err
	}
	if err := ValidBranch(branch); err != nil {
		return nil, err
	}
	if baseBranch == "" {
		baseBranch = "HEAD"
	} else if err := ValidBranch(baseBranch); err != nil {
		return nil, err
	}

	root, err := s.RepoRoot(abs)
	if err != nil {
		return nil, err
	}

	dest := fmt.Sprintf("%s-%s", root, strings.ReplaceAll(branch, "/", "-"))
	if pathExists(dest) {
		return nil, models.Errorf(models.ErrConflict, "destination already exists: %s", dest)
	}

	if _, err := s.execGit(root, "worktree", "add", "-b", branch, dest, baseBranch); err != nil {
		return nil, err
	}
	logger.Infof("Created worktree %s on branch %s", dest, branch)

	// Re-list so the caller gets git's view, not ours
	worktrees, err := s.ListWorktrees(root)
	if err != nil {
		return nil, err
	}
	for i := range worktrees {
		if worktrees[i].Path == dest {
			return &worktrees[i], nil
		}
	}
	return nil, models.Errorf(models.ErrInternal, "created worktree missing from listing")
}

// DeleteWorktree force-removes a worktree and best-effort deletes its
// branch. The main worktree is protected.
func (s *Service) DeleteWorktree(repoPath, worktreePath string) error {
	absRepo, err := SafePath(repoPath)
	if err != nil {
		return err
	}
	absWt, err := SafePath(worktreePath)
	if err != nil {
		return err
	}

	worktrees, err := s.ListWorktrees(absRepo)
	if err != nil {
		return err
	}

	var target *models.Worktree
	for i := range worktrees {
		if worktrees[i].Path == absWt {
			target = &worktrees[i]
			break
		}
	}
	if target == nil {
		return models.Errorf(models.ErrNotFound, "worktree not found: %s", worktreePath)
	}
	if target.IsMain {
		return models.Errorf(models.ErrInvalidArgument, "cannot delete main worktree")
	}

	if _, err := s.execGit(absRepo, "worktree", "remove", absWt, "--force"); err != nil {
		return err
	}

	if target.Branch != "" && target.Branch != "(detached)" {
		if _, err := s.execGit(absRepo, "branch", "-D", target.Branch); err != nil {
			logger.Debugf("Branch cleanup for %s failed: %v", target.Branch, err)
		}
	}
	logger.Infof("Removed worktree %s", absWt)
	return nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
