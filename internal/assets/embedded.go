package assets

import (
	"embed"
	"io/fs"
)

//go:embed dist
var embedded embed.FS

// Embedded returns the frontend bundle with the "dist" prefix stripped,
// or nil when the bundle was not baked in (development builds).
func Embedded() fs.FS {
	if _, err := embedded.ReadDir("dist"); err != nil {
		return nil
	}
	sub, err := fs.Sub(embedded, "dist")
	if err != nil {
		return nil
	}
	return sub
}

// Available reports whether a frontend bundle is embedded.
func Available() bool {
	_, err := embedded.ReadDir("dist")
	return err == nil
}
