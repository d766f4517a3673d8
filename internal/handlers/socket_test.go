package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/models"
)

func TestRepoState(t *testing.T) {
	t.Run("empty allow-list permits everything", func(t *testing.T) {
		s := NewRepoState(nil)
		assert.True(t, s.Permitted("/anywhere"))
		assert.Empty(t, s.Current())
	})

	t.Run("allow-list restricts selection", func(t *testing.T) {
		s := NewRepoState([]string{"/repos/a", "/repos/b"})
		assert.Equal(t, "/repos/a", s.Current())
		assert.True(t, s.Permitted("/repos/b"))
		assert.False(t, s.Permitted("/repos/c"))
	})

	t.Run("select changes current", func(t *testing.T) {
		s := NewRepoState([]string{"/repos/a", "/repos/b"})
		s.Select("/repos/b")
		assert.Equal(t, "/repos/b", s.Current())
	})

	t.Run("allow-list is copied out", func(t *testing.T) {
		s := NewRepoState([]string{"/repos/a"})
		list := s.AllowList()
		list[0] = "/tampered"
		assert.Equal(t, []string{"/repos/a"}, s.AllowList())
	})
}

func TestEventFrame(t *testing.T) {
	ev := events.Event{
		Type:    events.SessionCreated,
		Payload: map[string]string{"id": "s1"},
	}
	frame := eventFrame(ev)
	assert.Equal(t, "session:created", frame.Event)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "s1", payload["id"])
}

func TestErrorPayload(t *testing.T) {
	err := models.Errorf(models.ErrNotFound, "session not found: s1")
	p := errorPayload(err)
	assert.Equal(t, string(models.ErrNotFound), p["kind"])
	assert.Equal(t, "session not found: s1", p["message"])
}

func TestFrameRoundTrip(t *testing.T) {
	raw := []byte(`{"event":"session:send","payload":{"sid":"abc12345","text":"ls -la"}}`)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "session:send", frame.Event)

	var p sessionSendPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, "abc12345", p.SID)
	assert.Equal(t, "ls -la", p.Text)
}
