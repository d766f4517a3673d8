package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/models"
)

type fakeDirectory struct {
	sessions map[string]*models.Session
	messages map[string][]models.Message
}

func (f *fakeDirectory) All() []models.Session {
	out := make([]models.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out
}

func (f *fakeDirectory) Get(sid string) (*models.Session, bool) {
	s, ok := f.sessions[sid]
	return s, ok
}

func (f *fakeDirectory) Messages(sid string) ([]models.Message, error) {
	return f.messages[sid], nil
}

func sessionsApp(dir SessionDirectory) *fiber.App {
	h := NewSessionsHandler(dir)
	app := fiber.New()
	app.Get("/v1/sessions", h.List)
	app.Get("/v1/sessions/:sid", h.Get)
	app.Get("/v1/sessions/:sid/messages", h.Messages)
	return app
}

func TestSessionsList(t *testing.T) {
	port := 7681
	dir := &fakeDirectory{sessions: map[string]*models.Session{
		"abc12345": {
			ID:           "abc12345",
			WorktreePath: "/tmp/repo",
			WindowName:   models.WindowName("abc12345"),
			GatewayPort:  &port,
			Status:       models.SessionActive,
			URL:          "/t/abc12345/",
		},
	}}
	app := sessionsApp(dir)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Sessions []models.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "abc12345", body.Sessions[0].ID)
	assert.Equal(t, "/t/abc12345/", body.Sessions[0].URL)
	require.NotNil(t, body.Sessions[0].GatewayPort)
	assert.Equal(t, 7681, *body.Sessions[0].GatewayPort)
}

func TestSessionsGetNotFound(t *testing.T) {
	app := sessionsApp(&fakeDirectory{sessions: map[string]*models.Session{}})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSessionsMessages(t *testing.T) {
	dir := &fakeDirectory{
		sessions: map[string]*models.Session{"s1": {ID: "s1"}},
		messages: map[string][]models.Message{
			"s1": {
				{ID: "m1", SessionID: "s1", Role: models.RoleUser, Type: models.MessageText, Content: "hello", Timestamp: time.Now()},
			},
		},
	}
	app := sessionsApp(dir)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions/s1/messages", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hello", body.Messages[0].Content)
}
