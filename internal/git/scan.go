package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

// Directories never descended into while scanning for repositories.
var scanExclusions = map[string]bool{
	"node_modules": true,
	".cache":       true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

const scanConcurrency = 10

// Scanner locates git repositories under a base path. It prefers an
// external fast-find binary and falls back to a bounded recursive walk.
type Scanner struct {
	fdBin string
}

// NewScanner builds a scanner using the given fast-find binary (empty
// disables the fast path).
func NewScanner(fdBin string) *Scanner {
	return &Scanner{fdBin: fdBin}
}

// ScanRepos finds directories containing .git under basePath, up to
// maxDepth levels deep (3 when zero). Results are sorted by path.
func (sc *Scanner) ScanRepos(basePath string, maxDepth int) ([]models.RepoInfo, error) {
	abs, err := SafePath(basePath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, models.Errorf(models.ErrNotFound, "path not found: %s", basePath)
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	paths, err := sc.fastFind(abs, maxDepth)
	if err != nil {
		logger.Debugf("fast-find unavailable, falling back to recursive scan: %v", err)
		paths, err = recursiveFind(abs, maxDepth)
		if err != nil {
			return nil, err
		}
	}

	repos := make([]models.RepoInfo, 0, len(paths))
	for _, p := range paths {
		repos = append(repos, models.RepoInfo{
			Path:   p,
			Name:   filepath.Base(p),
			Branch: headBranch(p),
		})
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Path < repos[j].Path })
	return repos, nil
}

// fastFindArgs builds the fd invocation. --glob is a boolean flag; the
// only positionals are the ".git" pattern and the search root, so results
// stay rooted under basePath.
func fastFindArgs(basePath string, maxDepth int) []string {
	args := []string{
		"--hidden", "--no-ignore", "--max-depth", strconv.Itoa(maxDepth + 1),
		"--type", "d", "--type", "f", "--glob",
	}
	for name := range scanExclusions {
		args = append(args, "--exclude", name)
	}
	return append(args, ".git", basePath)
}

// fastFind shells out to fd to enumerate .git entries.
func (sc *Scanner) fastFind(basePath string, maxDepth int) ([]string, error) {
	if sc.fdBin == "" {
		return nil, exec.ErrNotFound
	}
	if _, err := exec.LookPath(sc.fdBin); err != nil {
		return nil, err
	}

	out, err := exec.Command(sc.fdBin, fastFindArgs(basePath, maxDepth)...).Output()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		// fd reports the .git entry itself; the repo is its parent
		paths = append(paths, filepath.Dir(filepath.Clean(line)))
	}
	return dedupe(paths), nil
}

// recursiveFind walks the tree breadth-first with bounded concurrency,
// skipping the exclusion set and dot-directories.
func recursiveFind(basePath string, maxDepth int) ([]string, error) {
	var (
		mu    sync.Mutex
		found []string
	)

	g := &errgroup.Group{}
	g.SetLimit(scanConcurrency)

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}

		for _, e := range entries {
			if e.Name() == ".git" {
				mu.Lock()
				found = append(found, dir)
				mu.Unlock()
				break
			}
		}

		if depth >= maxDepth {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") || scanExclusions[name] {
				continue
			}
			sub := filepath.Join(dir, name)
			d := depth + 1
			// TryGo keeps at most scanConcurrency walkers in flight;
			// walk inline rather than block when the pool is full.
			if !g.TryGo(func() error {
				walk(sub, d)
				return nil
			}) {
				walk(sub, d)
			}
		}
	}

	walk(basePath, 0)
	_ = g.Wait()
	return dedupe(found), nil
}

// headBranch reads the checked-out branch without shelling out.
func headBranch(repoPath string) string {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return "(detached)"
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

