package handlers

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"

	"github.com/ccm-sh/ccm/internal/assets"
)

// ServeEmbeddedAssets serves the embedded SPA bundle under /assets.
func ServeEmbeddedAssets() fiber.Handler {
	embeddedFS := assets.Embedded()
	if embeddedFS == nil {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusNotFound).SendString("frontend assets not embedded")
		}
	}
	return filesystem.New(filesystem.Config{
		Root:   http.FS(embeddedFS),
		Browse: false,
		Index:  "index.html",
	})
}

// ServeSPA is the catch-all: exact asset paths are served directly,
// everything else falls back to the SPA entry file so client routing
// works on a hard reload.
func ServeSPA(c *fiber.Ctx) error {
	embeddedFS := assets.Embedded()
	if embeddedFS == nil {
		return c.Status(fiber.StatusNotFound).SendString("frontend assets not embedded")
	}

	path := strings.TrimPrefix(c.Path(), "/")
	if path == "" {
		path = "index.html"
	}
	path = filepath.Clean(path)

	if data, err := fs.ReadFile(embeddedFS, path); err == nil {
		return c.Type(filepath.Ext(path)).Send(data)
	}
	if data, err := fs.ReadFile(embeddedFS, "index.html"); err == nil {
		return c.Type("html").Send(data)
	}
	return c.Status(fiber.StatusNotFound).SendString("asset not found")
}
