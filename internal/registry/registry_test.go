package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/models"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := openTestRegistry(t)

	row, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)
	assert.Equal(t, "s1", row.ID)
	assert.False(t, row.CreatedAt.IsZero())

	byID, err := r.GetByID("s1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "/tmp/repo", byID.WorktreePath)
	assert.Equal(t, models.SessionActive, byID.Status)

	byPath, err := r.GetByWorktreePath("/tmp/repo")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "s1", byPath.ID)
}

func TestRegistryGetMissingReturnsNil(t *testing.T) {
	r := openTestRegistry(t)

	row, err := r.GetByID("missing")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = r.GetByWorktreePath("/nowhere")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRegistryWorktreePathUnique(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)

	_, err = r.Create("s2", "wt1", "/tmp/repo", models.SessionActive)
	require.Error(t, err)
	assert.Equal(t, models.ErrConflict, models.KindOf(err))
}

func TestRegistryUpdateStatus(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionIdle)
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus("s1", models.SessionStopped))

	row, err := r.GetByID("s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, row.Status)

	err = r.UpdateStatus("ghost", models.SessionActive)
	require.Error(t, err)
	assert.Equal(t, models.ErrNotFound, models.KindOf(err))
}

func TestRegistryListAll(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/one", models.SessionActive)
	require.NoError(t, err)
	_, err = r.Create("s2", "wt2", "/tmp/two", models.SessionStopped)
	require.NoError(t, err)

	rows, err := r.ListAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRegistryMessages(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)

	first, err := r.AddMessage("s1", models.RoleUser, models.MessageText, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = r.AddMessage("s1", models.RoleAssistant, models.MessageText, "hi there")
	require.NoError(t, err)

	messages, err := r.MessagesOf("s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "hi there", messages[1].Content)
}

func TestRegistryAddMessageUnknownSession(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.AddMessage("ghost", models.RoleUser, models.MessageText, "hello")
	require.Error(t, err)
	assert.Equal(t, models.ErrNotFound, models.KindOf(err))
}

func TestRegistryDeleteCascadesMessages(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)
	_, err = r.AddMessage("s1", models.RoleUser, models.MessageText, "hello")
	require.NoError(t, err)

	require.NoError(t, r.Delete("s1"))

	messages, err := r.MessagesOf("s1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	row, err := r.GetByID("s1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRegistryClearMessages(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)
	_, err = r.AddMessage("s1", models.RoleUser, models.MessageText, "hello")
	require.NoError(t, err)

	require.NoError(t, r.ClearMessages("s1"))

	messages, err := r.MessagesOf("s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRegistrySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")

	r, err := Open(path)
	require.NoError(t, err)
	_, err = r.Create("s1", "wt1", "/tmp/repo", models.SessionActive)
	require.NoError(t, err)
	_, err = r.AddMessage("s1", models.RoleUser, models.MessageText, "before restart")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	row, err := r2.GetByWorktreePath("/tmp/repo")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "s1", row.ID)

	messages, err := r2.MessagesOf("s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "before restart", messages[0].Content)
}
