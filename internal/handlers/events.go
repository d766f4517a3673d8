package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/logger"
)

const longPollTimeout = 25 * time.Second

// EventsHandler exposes the bus over HTTP for clients that cannot hold a
// WebSocket: an SSE stream and a cursor-based long poll.
type EventsHandler struct {
	bus *events.Bus
}

// NewEventsHandler creates the handler over the shared bus.
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Stream handles GET /v1/events as Server-Sent Events.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	if ah := c.Get("Accept"); ah != "" && !strings.Contains(ah, "text/event-stream") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "this endpoint only serves text/event-stream",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.bus.Subscribe()
	logger.Debugf("SSE client connected: %s from %s", sub.ID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.bus.Unsubscribe(sub.ID)

		send := func(ev events.Event) bool {
			b, _ := json.Marshal(ev)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok || !send(ev) {
					return
				}
			case <-tick.C:
				// Comment line keeps intermediaries from timing us out
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// Poll handles GET /v1/events/poll?cursor=<n>: it returns every buffered
// event after the cursor, blocking until one arrives or the window ends.
func (h *EventsHandler) Poll(c *fiber.Ctx) error {
	cursor, err := strconv.ParseUint(c.Query("cursor", "0"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "cursor must be a non-negative integer",
		})
	}

	deadline := time.After(longPollTimeout)
	for {
		buffered, wake := h.bus.After(cursor)
		if len(buffered) > 0 {
			return c.JSON(fiber.Map{
				"events": buffered,
				"cursor": buffered[len(buffered)-1].Seq,
			})
		}

		select {
		case <-wake:
		case <-deadline:
			return c.JSON(fiber.Map{
				"events": []events.Event{},
				"cursor": cursor,
			})
		}
	}
}
