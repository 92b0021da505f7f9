// Package fs provides the local file system backend. CSV files carry their
// structure in a header line, JSON-lines files are free-form and
// directories are containers. It registers itself with the driver registry
// on import.
package fs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for file:// uris.
type Driver struct{}

// Name returns the primary scheme.
func (d *Driver) Name() string {
	return "file"
}

// Aliases returns alternative schemes for this driver.
func (d *Driver) Aliases() []string {
	return []string{"fs"}
}

// Open returns a connection rooted at the directory of uri. An empty path
// roots it at the working directory.
func (d *Driver) Open(name, uri string, _ map[string]string) (resource.Connection, error) {
	root, err := RootFromURI(uri)
	if err != nil {
		return nil, err
	}
	return New(name, root)
}

// RootFromURI returns the local directory of a file:// uri.
func RootFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", uri, exitcodes.ErrInvalidURI)
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		// file://relative/dir
		p = u.Host + p
	}
	if p == "" {
		return os.Getwd()
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(filepath.FromSlash(p))
}

// URIFromRoot returns the file:// uri of a local directory.
func URIFromRoot(root string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(root)}).String()
}
