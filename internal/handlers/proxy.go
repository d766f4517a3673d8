package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"

	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

// SessionResolver maps a session ID to its live gateway port.
type SessionResolver interface {
	Get(sid string) (*models.Session, bool)
}

// ProxyHandler forwards /t/<sid>/… to the session's loopback gateway,
// both plain HTTP and the WebSocket the browser terminal rides on.
type ProxyHandler struct {
	resolver SessionResolver
	client   *http.Client
}

// NewProxyHandler creates the reverse proxy over a session resolver.
func NewProxyHandler(resolver SessionResolver) *ProxyHandler {
	return &ProxyHandler{
		resolver: resolver,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// resolvePort finds the gateway port for a session, or 0.
func (h *ProxyHandler) resolvePort(sid string) int {
	session, ok := h.resolver.Get(sid)
	if !ok || session.GatewayPort == nil {
		return 0
	}
	return *session.GatewayPort
}

// ProxyHTTP handles the plain-HTTP leg of /t/:sid/*.
func (h *ProxyHandler) ProxyHTTP(c *fiber.Ctx) error {
	sid := c.Params("sid")
	port := h.resolvePort(sid)
	if port == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("no active session %q", sid),
		})
	}

	path := c.Params("*")
	targetURL := fmt.Sprintf("http://127.0.0.1:%d/%s", port, path)
	if qs := c.Request().URI().QueryString(); len(qs) > 0 {
		targetURL += "?" + string(qs)
	}

	req, err := http.NewRequestWithContext(c.Context(), c.Method(), targetURL, bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to build upstream request",
		})
	}

	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if k == "Host" || k == "Connection" || k == "Content-Length" {
			return
		}
		req.Header.Set(k, string(value))
	})
	req.Host = fmt.Sprintf("127.0.0.1:%d", port)

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Warnf("Proxy to session %s (port %d) failed: %v", sid, port, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "session gateway unreachable",
		})
	}
	defer resp.Body.Close()

	c.Status(resp.StatusCode)
	for name, values := range resp.Header {
		for _, value := range values {
			c.Response().Header.Add(name, value)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to read gateway response",
		})
	}
	return c.Send(body)
}

// Handle splits the two proxy legs. Plain requests are forwarded
// immediately; upgrade requests resolve the session and dial the gateway
// before the client handshake completes, because inside the upgraded
// handler there is no way left to answer with 404 or 502.
func (h *ProxyHandler) Handle(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return h.ProxyHTTP(c)
	}
	sid := c.Params("sid")
	port := h.resolvePort(sid)
	if port == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("no active session %q", sid),
		})
	}

	target := fmt.Sprintf("ws://127.0.0.1:%d/%s", port, c.Params("*"))
	if qs := c.Request().URI().QueryString(); len(qs) > 0 {
		target += "?" + string(qs)
	}
	header := http.Header{}
	if protocol := c.Get("Sec-WebSocket-Protocol"); protocol != "" {
		header.Set("Sec-WebSocket-Protocol", protocol)
	}

	upstream, _, err := websocket.DefaultDialer.Dial(target, header)
	if err != nil {
		logger.Warnf("Upstream WebSocket dial %s failed: %v", target, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "session gateway unreachable",
		})
	}
	c.Locals("proxyUpstream", upstream)
	return c.Next()
}

// ProxyWS pumps frames between the browser and the gateway's WebSocket.
// The upstream connection was already dialed during the handshake.
func (h *ProxyHandler) ProxyWS() fiber.Handler {
	return fiberws.New(func(client *fiberws.Conn) {
		upstream, _ := client.Locals("proxyUpstream").(*websocket.Conn)
		if upstream == nil {
			_ = client.Close()
			return
		}
		defer upstream.Close()

		errc := make(chan error, 2)

		go func() {
			for {
				mt, data, err := client.ReadMessage()
				if err != nil {
					errc <- err
					return
				}
				if err := upstream.WriteMessage(mt, data); err != nil {
					errc <- err
					return
				}
			}
		}()
		go func() {
			for {
				mt, data, err := upstream.ReadMessage()
				if err != nil {
					errc <- err
					return
				}
				if err := client.WriteMessage(mt, data); err != nil {
					errc <- err
					return
				}
			}
		}()

		err := <-errc
		if err != nil && !isExpectedClose(err) {
			logger.Debugf("WebSocket proxy closed: %v", err)
		}
		_ = client.Close()
	})
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
