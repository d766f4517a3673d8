package services

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/models"
)

func TestWaitForMarkerFound(t *testing.T) {
	r := strings.NewReader("ttyd 1.7.4\nListening on port: 7681\n")
	assert.NoError(t, waitForMarker(r, "Listening", time.Second))
}

func TestWaitForMarkerEOF(t *testing.T) {
	r := strings.NewReader("spawn failed\n")
	err := waitForMarker(r, "Listening", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWaitForMarkerTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	err := waitForMarker(pr, "Listening", 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, models.ErrGatewayStartFailed, models.KindOf(err))
}

func TestGatewayServiceUnavailable(t *testing.T) {
	allocator := NewPortAllocator(7681, 7690)
	s := NewGatewayService("/definitely-not-a-real-binary", "tmux", "", allocator, events.NewBus())

	assert.False(t, s.Available())

	_, err := s.Start("s1", "ccm-s1")
	require.Error(t, err)
	assert.Equal(t, models.ErrGatewayUnavailable, models.KindOf(err))

	// The failed start must not burn a port
	port, err := allocator.Acquire("probe")
	require.NoError(t, err)
	assert.Equal(t, 7681, port)
}

func TestGatewayServiceStopUnknownIsNoop(t *testing.T) {
	s := NewGatewayService("/definitely-not-a-real-binary", "tmux", "", NewPortAllocator(7681, 7690), events.NewBus())
	assert.NoError(t, s.Stop("ghost"))
	assert.Empty(t, s.All())
}
