package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/models"
)

func TestParseWorktreePorcelain(t *testing.T) {
	out := "worktree /home/dev/repo\n" +
		"HEAD 0123456789abcdef0123456789abcdef01234567\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /home/dev/repo-feature-login\n" +
		"HEAD fedcba9876543210fedcba9876543210fedcba98\n" +
		"branch refs/heads/feature/login\n" +
		"\n" +
		"worktree /home/dev/repo-hotfix\n" +
		"HEAD 1111111111111111111111111111111111111111\n" +
		"detached\n"

	worktrees := parseWorktreePorcelain(out)
	require.Len(t, worktrees, 3)

	main := worktrees[0]
	assert.True(t, main.IsMain)
	assert.Equal(t, "/home/dev/repo", main.Path)
	assert.Equal(t, "main", main.Branch)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", main.Commit)
	assert.Equal(t, models.WorktreeID("/home/dev/repo"), main.ID)

	feature := worktrees[1]
	assert.False(t, feature.IsMain)
	assert.Equal(t, "feature/login", feature.Branch)

	detached := worktrees[2]
	assert.Equal(t, "(detached)", detached.Branch)
}

func TestParseWorktreePorcelainBare(t *testing.T) {
	out := "worktree /srv/repos/thing.git\n" +
		"bare\n"

	worktrees := parseWorktreePorcelain(out)
	require.Len(t, worktrees, 1)
	assert.True(t, worktrees[0].IsBare)
	assert.True(t, worktrees[0].IsMain)
	assert.Empty(t, worktrees[0].Branch)
}

func TestParseWorktreePorcelainMissingTrailingBlank(t *testing.T) {
	// git omits the trailing blank line on some versions
	out := "worktree /a\nbranch refs/heads/main\n\nworktree /b\nbranch refs/heads/dev"

	worktrees := parseWorktreePorcelain(out)
	require.Len(t, worktrees, 2)
	assert.Equal(t, "/a", worktrees[0].Path)
	assert.Equal(t, "dev", worktrees[1].Branch)
}

func TestParseWorktreePorcelainEmpty(t *testing.T) {
	assert.Empty(t, parseWorktreePorcelain(""))
}

func TestWorktreeIDStable(t *testing.T) {
	a := models.WorktreeID("/home/dev/repo")
	b := models.WorktreeID("/home/dev/repo")
	c := models.WorktreeID("/home/dev/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
