package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/models"
)

func TestQuickTunnelURLPattern(t *testing.T) {
	line := "2026-08-26T10:00:00Z INF +  https://witty-lemur-abc123.trycloudflare.com  +"
	assert.Equal(t, "https://witty-lemur-abc123.trycloudflare.com", quickTunnelURL.FindString(line))

	assert.Empty(t, quickTunnelURL.FindString("Registered tunnel connection connIndex=0"))
	assert.Empty(t, quickTunnelURL.FindString("https://example.com"))
}

func TestTunnelStartMissingBinary(t *testing.T) {
	s := NewTunnelService("/definitely-not-cloudflared", "", "", 8080, events.NewBus())

	_, err := s.Start()
	assert.Equal(t, models.ErrTunnelStartFailed, models.KindOf(err))
	assert.Empty(t, s.URL())

	// Stop without a running child is a no-op
	s.Stop()
}
