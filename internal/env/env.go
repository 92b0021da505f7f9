// Package env owns the connection registry of a process and resolves data
// uris to resources. An Environment is built once at startup and passed to
// every component that needs resolution.
package env

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/datauri"
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/driver/fs"
	"github.com/tabulify/tabulify-sub009/internal/driver/memory"
	"github.com/tabulify/tabulify-sub009/internal/driver/noop"
	"github.com/tabulify/tabulify-sub009/internal/driver/web"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/resource"

	// Backends register their drivers on import.
	_ "github.com/tabulify/tabulify-sub009/internal/driver/mssql"
	_ "github.com/tabulify/tabulify-sub009/internal/driver/postgres"
	_ "github.com/tabulify/tabulify-sub009/internal/driver/s3"
	_ "github.com/tabulify/tabulify-sub009/internal/driver/sqlite"
)

// Built-in connection names.
const (
	ConnCd     = "cd"
	ConnTemp   = "temp"
	ConnHome   = "home"
	ConnMemory = "memory"
	ConnNoop   = "noop"
)

// maxScriptDepth bounds the nesting of script selectors.
const maxScriptDepth = 16

// ConnectionSpec declares a connection.
type ConnectionSpec struct {
	Name       string
	URI        string
	Attributes map[string]string
}

// Options configure an Environment.
type Options struct {
	// DefaultConnection is used by uris without a connection. Default: cd.
	DefaultConnection string
	// WorkDir is the root of the cd connection. Default: the working directory.
	WorkDir string
	// Home is the root of the home connection. Default: $TABUL_HOME or ~/.tabul.
	Home        string
	Connections []ConnectionSpec
}

// Environment resolves data uris against its registry.
type Environment struct {
	registry    *resource.Registry
	defaultConn string
	home        string
	web         *web.Connection
}

// New creates the built-in connections and opens the declared ones.
func New(opts Options) (*Environment, error) {
	e := &Environment{registry: resource.NewRegistry(), defaultConn: opts.DefaultConnection}
	if e.defaultConn == "" {
		e.defaultConn = ConnCd
	}

	wd := opts.WorkDir
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}
	e.home = opts.Home
	if e.home == "" {
		e.home = DefaultHome()
	}

	cd, err := fs.New(ConnCd, wd)
	if err != nil {
		return nil, err
	}
	temp, err := fs.New(ConnTemp, os.TempDir())
	if err != nil {
		return nil, err
	}
	home, err := fs.New(ConnHome, e.home)
	if err != nil {
		return nil, err
	}
	for _, c := range []resource.Connection{cd, temp, home, memory.New(ConnMemory), noop.New(ConnNoop)} {
		if err := e.registry.Add(c); err != nil {
			return nil, err
		}
	}
	if e.web, err = web.New("web", "https://", nil); err != nil {
		return nil, err
	}

	for _, spec := range opts.Connections {
		if _, err := e.AddConnection(spec); err != nil {
			e.Close()
			return nil, err
		}
	}
	if !e.registry.Has(e.defaultConn) {
		e.Close()
		return nil, fmt.Errorf("the default connection (%s) is unknown: %w", e.defaultConn, exitcodes.ErrConnectionNotFound)
	}
	return e, nil
}

// DefaultHome returns $TABUL_HOME, else ~/.tabul.
func DefaultHome() string {
	if h := os.Getenv("TABUL_HOME"); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tabul")
	}
	return filepath.Join(os.TempDir(), "tabul")
}

// Registry returns the connection registry.
func (e *Environment) Registry() *resource.Registry { return e.registry }

// DefaultConnection returns the name used for uris without a connection.
func (e *Environment) DefaultConnection() string { return e.defaultConn }

// Home returns the application home directory.
func (e *Environment) Home() string { return e.home }

// Connection returns a registered connection.
func (e *Environment) Connection(name string) (resource.Connection, error) {
	return e.registry.Get(name)
}

// AddConnection opens spec and registers it.
func (e *Environment) AddConnection(spec ConnectionSpec) (resource.Connection, error) {
	conn, err := e.RuntimeConnection(spec)
	if err != nil {
		return nil, err
	}
	if err := e.registry.Add(conn); err != nil {
		conn.Close()
		return nil, err
	}
	logging.Debug("connection %s registered (%s)", conn.Name(), conn.Scheme())
	return conn, nil
}

// RuntimeConnection opens spec without registering it. Callers register it
// with Registry().Add when they want it resolvable.
func (e *Environment) RuntimeConnection(spec ConnectionSpec) (resource.Connection, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("the connection with the uri (%s) has no name: %w", spec.URI, exitcodes.ErrInvalidURI)
	}
	return driver.Open(resource.NormalizeName(spec.Name), spec.URI, spec.Attributes)
}

// Close closes every registered connection.
func (e *Environment) Close() error {
	if e.web != nil {
		e.web.Close()
	}
	return e.registry.Close()
}

func (e *Environment) connectionOf(u datauri.URI) (resource.Connection, error) {
	if isWeb(u.Scheme()) {
		return e.web, nil
	}
	conn, err := e.registry.Get(u.Connection())
	if err != nil {
		return nil, fmt.Errorf("The connection (%s) given by the data uri (%s) is unknown: %w", u.Connection(), u, exitcodes.ErrConnectionNotFound)
	}
	return conn, nil
}

func isWeb(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

// Parse parses s and attaches the default connection.
func (e *Environment) Parse(s string) (datauri.URI, error) {
	u, err := datauri.Parse(s)
	if err != nil {
		return datauri.URI{}, err
	}
	return u.WithDefault(e.defaultConn), nil
}

// Select returns the resources selected by every selector, without
// duplicates, in selector order. With strict, a selector that selects
// nothing fails with exitcodes.ErrNoSelection; otherwise it is logged.
func (e *Environment) Select(ctx context.Context, strict bool, selectors ...string) ([]*resource.DataPath, error) {
	var out []*resource.DataPath
	seen := make(map[string]bool)
	for _, s := range selectors {
		u, err := e.Parse(s)
		if err != nil {
			return nil, err
		}
		dps, err := e.selectURI(ctx, u, 0)
		if err != nil {
			return nil, err
		}
		if len(dps) == 0 {
			if strict {
				return nil, fmt.Errorf("the data selector (%s) selects no resource: %w", u, exitcodes.ErrNoSelection)
			}
			logging.Warn("The data selector (%s) selects no resource", u)
			continue
		}
		for _, dp := range dps {
			if seen[dp.Key()] {
				continue
			}
			seen[dp.Key()] = true
			out = append(out, dp)
		}
	}
	return out, nil
}

func (e *Environment) selectURI(ctx context.Context, u datauri.URI, depth int) ([]*resource.DataPath, error) {
	if depth > maxScriptDepth {
		return nil, fmt.Errorf("the data uri (%s) nests more than %d scripts: %w", u, maxScriptDepth, exitcodes.ErrInvalidURI)
	}
	conn, err := e.connectionOf(u)
	if err != nil {
		return nil, err
	}

	if script, ok := u.Script(); ok {
		scripts, err := e.selectURI(ctx, script, depth+1)
		if err != nil {
			return nil, err
		}
		out := make([]*resource.DataPath, 0, len(scripts))
		for _, s := range scripts {
			exe := resource.NewExecutable(conn, s)
			for k, v := range s.Attributes() {
				exe.SetAttribute(k, v)
			}
			out = append(out, exe)
		}
		return out, nil
	}

	if isWeb(u.Scheme()) || isWeb(conn.Scheme()) {
		dp, err := conn.DataPath(u.Path(), resource.MediaUnknown)
		if err != nil {
			return nil, err
		}
		dp.SetAttribute("0", dp.Name())
		return []*resource.DataPath{dp}, nil
	}

	if u.Path() == "" {
		dp, err := conn.DataPath("", resource.MediaUnknown)
		if err != nil {
			return nil, err
		}
		return []*resource.DataPath{dp}, nil
	}

	pattern := u.Path()
	if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "/") {
		pattern = resource.Relativize(pattern, conn.CurrentPath())
	}
	pattern = filepath.ToSlash(pattern)
	dps, err := conn.DataSystem().Select(ctx, pattern, resource.MediaUnknown)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", u, err)
	}
	attachBackReferences(glob.New(pattern), dps)
	return dps, nil
}

// attachBackReferences sets the attributes "0" (the matched relative path)
// and "1".."n" (one per wildcard) on each resource.
func attachBackReferences(g glob.Glob, dps []*resource.DataPath) {
	for _, dp := range dps {
		rel := filepath.ToSlash(dp.RelativePath())
		groups := g.Groups(rel)
		if groups == nil {
			dp.SetAttribute("0", rel)
			continue
		}
		for i, v := range groups {
			dp.SetAttribute(strconv.Itoa(i), v)
		}
	}
}

// DataPath resolves uri to a single resource that may not exist yet. A
// script uri must select exactly one script.
func (e *Environment) DataPath(ctx context.Context, uri string) (*resource.DataPath, error) {
	u, err := e.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.IsScript() {
		dps, err := e.selectURI(ctx, u, 0)
		if err != nil {
			return nil, err
		}
		if len(dps) != 1 {
			return nil, fmt.Errorf("the script selector (%s) selects %d scripts, expected one: %w", u, len(dps), exitcodes.ErrNoSelection)
		}
		return dps[0], nil
	}
	conn, err := e.connectionOf(u)
	if err != nil {
		return nil, err
	}
	return conn.DataPath(u.Path(), resource.MediaUnknown)
}

// TargetFor resolves the target uri of source. Back-references ($1, $2,
// ...) in the uri are replaced by the attributes of source.
func (e *Environment) TargetFor(ctx context.Context, uri string, source *resource.DataPath) (*resource.DataPath, error) {
	if glob.HasBackReference(uri) {
		uri = glob.Expand(uri, source.Attributes())
	}
	return e.DataPath(ctx, uri)
}

// Describe returns the connections sorted by name with their uri, for
// listings.
func (e *Environment) Describe() [][2]string {
	conns := e.registry.Connections()
	out := make([][2]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, [2]string{c.Name(), c.URI()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
