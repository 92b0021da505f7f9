package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Connection is a local directory. It is both the resource.Connection and
// its resource.DataSystem.
type Connection struct {
	name string
	root string
}

// New returns a connection rooted at the absolute directory root.
func New(name, root string) (*Connection, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Connection{name: name, root: abs}, nil
}

func (c *Connection) Name() string                      { return c.name }
func (c *Connection) URI() string                       { return URIFromRoot(c.root) }
func (c *Connection) Scheme() string                    { return "file" }
func (c *Connection) ServiceID() string                 { return "file://localhost" }
func (c *Connection) CurrentPath() string               { return c.root }
func (c *Connection) Capabilities() resource.Capability { return resource.CapAll }
func (c *Connection) DataSystem() resource.DataSystem   { return c }
func (c *Connection) Close() error                      { return nil }

// DataPath resolves path against the root. The media type is taken from
// the extension when not given.
func (c *Connection) DataPath(path string, mediaType resource.MediaType) (*resource.DataPath, error) {
	p := c.abs(path)
	if mediaType == resource.MediaUnknown {
		mediaType = MediaTypeOf(p)
	}
	return resource.NewDataPath(c, p, mediaType), nil
}

func (c *Connection) abs(path string) string {
	if path == "" {
		return c.root
	}
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.root, p)
	}
	return filepath.Clean(p)
}

// MediaTypeOf guesses the media type of a local path.
func MediaTypeOf(path string) resource.MediaType {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return resource.MediaDirectory
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return resource.MediaCSV
	case ".jsonl", ".ndjson", ".json":
		return resource.MediaJSONL
	case ".sql":
		return resource.MediaSQL
	case ".html", ".htm":
		return resource.MediaHTML
	case "":
		return resource.MediaDirectory
	}
	return resource.MediaUnknown
}

func (c *Connection) Exists(_ context.Context, dp *resource.DataPath) (bool, error) {
	if dp.IsRuntime() {
		return false, nil
	}
	_, err := os.Stat(dp.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (c *Connection) IsEmpty(ctx context.Context, dp *resource.DataPath) (bool, error) {
	n, err := c.Count(ctx, dp)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return n == 0, err
}

func (c *Connection) IsContainer(dp *resource.DataPath) bool {
	if dp.IsRuntime() {
		return false
	}
	if info, err := os.Stat(dp.Path()); err == nil {
		return info.IsDir()
	}
	return dp.MediaType() == resource.MediaDirectory
}

func (c *Connection) Create(ctx context.Context, target, _ *resource.DataPath) error {
	if target.MediaType() == resource.MediaDirectory {
		return os.MkdirAll(target.Path(), 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target.Path()), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target.Path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer f.Close()
	if target.MediaType() == resource.MediaCSV {
		def, err := target.Relation(ctx)
		if err != nil {
			return err
		}
		return writeHeader(f, def.ColumnNames())
	}
	return nil
}

func (c *Connection) Drop(_ context.Context, dp *resource.DataPath) error {
	info, err := os.Stat(dp.Path())
	if err != nil {
		return fmt.Errorf("dropping %s: %w", dp, err)
	}
	if info.IsDir() {
		return os.RemoveAll(dp.Path())
	}
	return os.Remove(dp.Path())
}

// Truncate keeps the header of a CSV file and empties any other file.
func (c *Connection) Truncate(ctx context.Context, dp *resource.DataPath) error {
	if c.IsContainer(dp) {
		return fmt.Errorf("cannot truncate the directory %s: %w", dp, exitcodes.ErrUnsupported)
	}
	var header []string
	if dp.MediaType() == resource.MediaCSV {
		def, err := c.Describe(ctx, dp)
		if err != nil {
			return err
		}
		header = def.ColumnNames()
	}
	f, err := os.OpenFile(dp.Path(), os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncating %s: %w", dp, err)
	}
	defer f.Close()
	if header != nil {
		return writeHeader(f, header)
	}
	return nil
}

// Rename moves a file or directory with os.Rename.
func (c *Connection) Rename(_ context.Context, source, target *resource.DataPath) error {
	if target.Connection().ServiceID() != c.ServiceID() {
		return fmt.Errorf("rename from %s to %s crosses file systems: %w", source, target, exitcodes.ErrUnsupported)
	}
	if err := os.MkdirAll(filepath.Dir(target.Path()), 0o755); err != nil {
		return err
	}
	return os.Rename(source.Path(), target.Path())
}

// Select walks the directories below the static prefix of pattern and
// returns the files whose path relative to the root matches it.
func (c *Connection) Select(_ context.Context, pattern string, mediaType resource.MediaType) ([]*resource.DataPath, error) {
	rel := filepath.ToSlash(resource.Relativize(filepath.FromSlash(pattern), c.root))
	if filepath.IsAbs(filepath.FromSlash(rel)) {
		return nil, fmt.Errorf("the pattern %s is outside of %s", pattern, c.root)
	}
	g := glob.New(rel)
	if !g.HasWildcard() {
		dp, _ := c.DataPath(rel, mediaType)
		if _, err := os.Stat(dp.Path()); err != nil {
			return nil, nil
		}
		return []*resource.DataPath{dp}, nil
	}

	segments := strings.Split(rel, "/")
	var static []string
	for _, s := range segments {
		if glob.New(s).HasWildcard() {
			break
		}
		static = append(static, s)
	}
	start := filepath.Join(append([]string{c.root}, static...)...)
	maxDepth := len(segments)
	if strings.Contains(rel, "**") {
		maxDepth = -1
	}

	var matches []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		r, _ := filepath.Rel(c.root, p)
		r = filepath.ToSlash(r)
		if r == "." {
			return nil
		}
		depth := strings.Count(r, "/") + 1
		if d.IsDir() && maxDepth > 0 && depth >= maxDepth {
			if g.Match(r) {
				matches = append(matches, p)
			}
			return fs.SkipDir
		}
		if g.Match(r) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]*resource.DataPath, 0, len(matches))
	for _, m := range matches {
		dp, _ := c.DataPath(m, mediaType)
		out = append(out, dp)
	}
	return out, nil
}

// Count returns the number of records of a file or of entries of a
// directory.
func (c *Connection) Count(ctx context.Context, dp *resource.DataPath) (int64, error) {
	if c.IsContainer(dp) {
		entries, err := os.ReadDir(dp.Path())
		if err != nil {
			return -1, err
		}
		return int64(len(entries)), nil
	}
	switch dp.MediaType() {
	case resource.MediaCSV, resource.MediaJSONL:
		s, err := c.NewSelectStream(ctx, dp)
		if err != nil {
			return -1, err
		}
		defer s.Close()
		var n int64
		for s.Next() {
			n++
		}
		return n, s.Err()
	}
	info, err := os.Stat(dp.Path())
	if err != nil {
		return -1, err
	}
	if info.Size() == 0 {
		return 0, nil
	}
	return -1, nil
}

// Child returns name inside the directory parent. A name without extension
// gets the .csv extension.
func (c *Connection) Child(parent *resource.DataPath, name string) (*resource.DataPath, error) {
	if filepath.Ext(name) == "" {
		name += ".csv"
	}
	return c.DataPath(filepath.Join(parent.Path(), name), resource.MediaUnknown)
}

func (c *Connection) Describe(_ context.Context, dp *resource.DataPath) (*relation.Def, error) {
	switch dp.MediaType() {
	case resource.MediaCSV:
		return describeCSV(dp.Path())
	case resource.MediaJSONL:
		return describeJSONL(dp.Path())
	}
	def := relation.New()
	if c.IsContainer(dp) {
		def.MustAddColumn("path", relation.TypeVarchar)
		return def, nil
	}
	def.MustAddColumn("line", relation.TypeVarchar)
	return def, nil
}

// FreeForm reports true for JSON-lines files.
func (c *Connection) FreeForm(dp *resource.DataPath) bool {
	return dp.MediaType() == resource.MediaJSONL
}

// TargetColumn declares every column as text; CSV has no types.
func (c *Connection) TargetColumn(col relation.Column) relation.Column {
	col.Type = relation.TypeVarchar
	col.TypeName = ""
	col.Scale = 0
	return col
}

// ReadText returns the content of a file.
func (c *Connection) ReadText(_ context.Context, dp *resource.DataPath) (string, error) {
	b, err := os.ReadFile(dp.Path())
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dp, err)
	}
	return string(b), nil
}

func (c *Connection) NewSelectStream(ctx context.Context, dp *resource.DataPath) (resource.SelectStream, error) {
	switch dp.MediaType() {
	case resource.MediaCSV:
		return openCSV(dp.Path())
	case resource.MediaJSONL:
		def, err := dp.Relation(ctx)
		if err != nil {
			return nil, err
		}
		return openJSONL(dp.Path(), def.ColumnNames())
	}
	if c.IsContainer(dp) {
		return newDirStream(dp.Path())
	}
	return openLines(dp.Path())
}

func (c *Connection) NewInsertStream(ctx context.Context, dp *resource.DataPath, spec resource.WriteSpec) (resource.InsertStream, error) {
	if spec.Kind != resource.StatementInsert && spec.Kind != resource.StatementCopy {
		return nil, fmt.Errorf("the file %s only accepts inserts, not %s: %w", dp, spec.Kind, exitcodes.ErrUnsupported)
	}
	switch dp.MediaType() {
	case resource.MediaCSV:
		def, err := describeCSV(dp.Path())
		if err != nil {
			return nil, err
		}
		return newCSVWriter(dp.Path(), def, spec.Columns)
	case resource.MediaJSONL:
		return newJSONLWriter(dp.Path(), spec.Columns)
	}
	return nil, fmt.Errorf("cannot write records to %s (%s): %w", dp, dp.MediaType(), exitcodes.ErrUnsupported)
}
