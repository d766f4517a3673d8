package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/models"
)

func TestSafePath(t *testing.T) {
	t.Run("accepts clean absolute path", func(t *testing.T) {
		p, err := SafePath("/tmp/repo")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/repo", p)
	})

	t.Run("resolves relative path", func(t *testing.T) {
		p, err := SafePath("repo")
		require.NoError(t, err)
		assert.True(t, len(p) > len("repo"))
	})

	t.Run("rejects shell metacharacters", func(t *testing.T) {
		bad := []string{
			"/tmp/repo;rm -rf /",
			"/tmp/$(whoami)",
			"/tmp/repo|cat",
			"/tmp/repo`id`",
			"/tmp/repo&",
			"/tmp/re<po",
		}
		for _, p := range bad {
			_, err := SafePath(p)
			require.Error(t, err, "expected rejection for %q", p)
			assert.Equal(t, models.ErrInvalidArgument, models.KindOf(err))
		}
	})
}

func TestValidBranch(t *testing.T) {
	good := []string{"main", "feature/login", "fix-123", "v1.2.3", "user/deep/nest"}
	for _, b := range good {
		assert.NoError(t, ValidBranch(b), "expected %q to be valid", b)
	}

	bad := []string{"", "-leading-dash", "has space", "dot..dot", "semi;colon", "back`tick"}
	for _, b := range bad {
		err := ValidBranch(b)
		require.Error(t, err, "expected %q to be rejected", b)
		assert.Equal(t, models.ErrInvalidArgument, models.KindOf(err))
	}
}
