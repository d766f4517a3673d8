package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ccm-sh/ccm/internal/logger"
)

// staticExtensions are always served without a token so the SPA shell can
// load before the client has authenticated.
var staticExtensions = map[string]bool{
	".js":    true,
	".css":   true,
	".map":   true,
	".ico":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".webp":  true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".txt":   true,
}

// AuthGate guards every non-static request with a process-wide token once
// the server is exposed beyond loopback. Local requests always pass.
type AuthGate struct {
	enabled bool
	token   string
}

// NewAuthGate mints the startup token when enabled is set. The token is
// logged once so the launcher can hand it to the browser.
func NewAuthGate(enabled bool) *AuthGate {
	g := &AuthGate{enabled: enabled}
	if enabled {
		g.token = generateToken()
		logger.Infof("Remote access token: %s", g.token)
	}
	return g
}

// Enabled reports whether the gate checks tokens at all.
func (g *AuthGate) Enabled() bool { return g.enabled }

// Token returns the process-wide token, or "" when the gate is disabled.
func (g *AuthGate) Token() string { return g.token }

// RequireAuth is the fiber middleware form of the gate.
func (g *AuthGate) RequireAuth(c *fiber.Ctx) error {
	if g.Allow(c) {
		return c.Next()
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "authentication required",
	})
}

// Allow evaluates the gate for one plain HTTP request. Socket handshake
// paths pass through here because their token may arrive in the first
// frame; the socket handler applies AllowHandshake itself.
func (g *AuthGate) Allow(c *fiber.Ctx) bool {
	if !g.enabled {
		return true
	}
	if c.Path() == "/health" || staticExtensions[path.Ext(c.Path())] {
		return true
	}
	if strings.HasPrefix(c.Path(), "/ws") || strings.HasPrefix(c.Path(), "/socket.io") {
		return true
	}
	return g.AllowHandshake(c)
}

// AllowHandshake is the bare predicate: local request, or a matching
// token in the query string or X-Auth-Token header.
func (g *AuthGate) AllowHandshake(c *fiber.Ctx) bool {
	if !g.enabled {
		return true
	}
	if isLocalRequest(c) {
		return true
	}
	token := c.Query("token")
	if token == "" {
		token = c.Get("X-Auth-Token")
	}
	return g.TokenMatches(token)
}

// TokenMatches compares a presented token against the startup constant in
// constant time.
func (g *AuthGate) TokenMatches(token string) bool {
	if !g.enabled {
		return true
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) == 1
}

// isLocalRequest decides whether the request originated on this machine.
// Anything that came through a proxy (X-Forwarded-Host present, or a
// non-private first hop in X-Forwarded-For) is remote.
func isLocalRequest(c *fiber.Ctx) bool {
	if c.Get("X-Forwarded-Host") != "" {
		return false
	}
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		return isPrivateAddr(first)
	}

	host := c.Hostname()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func isPrivateAddr(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// generateToken returns 128 random bits as lowercase hex.
func generateToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
