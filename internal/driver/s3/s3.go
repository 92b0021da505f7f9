package s3

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Connection is a bucket, optionally restricted to a key prefix.
type Connection struct {
	name  string
	uri   string
	loc   location
	store objectStore
}

// Open parses uri and creates the minio client. No request is sent.
func Open(name, uri string, attrs map[string]string) (*Connection, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return nil, err
	}
	store, err := newMinioStore(loc, attrs)
	if err != nil {
		return nil, err
	}
	return &Connection{name: name, uri: uri, loc: loc, store: store}, nil
}

func (c *Connection) Name() string   { return c.name }
func (c *Connection) URI() string    { return c.uri }
func (c *Connection) Scheme() string { return "s3" }

// ServiceID is the bucket: objects can be renamed inside it.
func (c *Connection) ServiceID() string                 { return "s3://" + c.loc.endpoint + "/" + c.loc.bucket }
func (c *Connection) CurrentPath() string               { return c.loc.prefix }
func (c *Connection) Capabilities() resource.Capability { return resource.CapAll }
func (c *Connection) DataSystem() resource.DataSystem   { return c }
func (c *Connection) Close() error                      { return nil }

// DataPath returns the object at p. A path ending with a slash is a
// directory.
func (c *Connection) DataPath(p string, mediaType resource.MediaType) (*resource.DataPath, error) {
	key := c.key(p)
	if mediaType == resource.MediaUnknown {
		mediaType = mediaTypeOf(key)
	}
	return resource.NewDataPath(c, key, mediaType), nil
}

// key resolves p against the prefix. A leading slash makes p an absolute
// key of the bucket.
func (c *Connection) key(p string) string {
	dir := strings.HasSuffix(p, "/") || p == ""
	if strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(p, "/")
	} else if c.loc.prefix != "" {
		p = path.Join(c.loc.prefix, p)
	}
	if dir && p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func mediaTypeOf(key string) resource.MediaType {
	if key == "" || strings.HasSuffix(key, "/") {
		return resource.MediaDirectory
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return resource.MediaCSV
	case ".sql":
		return resource.MediaSQL
	case ".html", ".htm":
		return resource.MediaHTML
	}
	return resource.MediaUnknown
}

func (c *Connection) Exists(ctx context.Context, dp *resource.DataPath) (bool, error) {
	if c.IsContainer(dp) {
		return true, nil
	}
	return c.store.Exists(ctx, dp.Path())
}

func (c *Connection) IsEmpty(ctx context.Context, dp *resource.DataPath) (bool, error) {
	n, err := c.Count(ctx, dp)
	return n == 0, err
}

func (c *Connection) IsContainer(dp *resource.DataPath) bool {
	return dp.MediaType() == resource.MediaDirectory
}

// Create writes the CSV header of the relation of target. Directories are
// implicit in an object store.
func (c *Connection) Create(ctx context.Context, target, _ *resource.DataPath) error {
	if c.IsContainer(target) {
		return nil
	}
	var body []byte
	if target.MediaType() == resource.MediaCSV {
		def, err := target.Relation(ctx)
		if err != nil {
			return err
		}
		if body, err = csvHeader(def.ColumnNames()); err != nil {
			return err
		}
	}
	return c.store.Put(ctx, target.Path(), body, contentType(target))
}

func (c *Connection) Drop(ctx context.Context, dp *resource.DataPath) error {
	if !c.IsContainer(dp) {
		return c.store.Remove(ctx, dp.Path())
	}
	keys, err := c.store.List(ctx, dp.Path())
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.store.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Truncate keeps the header of a CSV object.
func (c *Connection) Truncate(ctx context.Context, dp *resource.DataPath) error {
	if c.IsContainer(dp) {
		return c.Drop(ctx, dp)
	}
	var body []byte
	if dp.MediaType() == resource.MediaCSV {
		def, err := c.Describe(ctx, dp)
		if err != nil {
			return err
		}
		if body, err = csvHeader(def.ColumnNames()); err != nil {
			return err
		}
	}
	return c.store.Put(ctx, dp.Path(), body, contentType(dp))
}

// Rename copies the object server side and removes the source.
func (c *Connection) Rename(ctx context.Context, source, target *resource.DataPath) error {
	if source.Connection().ServiceID() != c.ServiceID() {
		return fmt.Errorf("cannot rename %s to %s across buckets: %w", source, target, exitcodes.ErrUnsupported)
	}
	if err := c.store.Copy(ctx, source.Path(), target.Path()); err != nil {
		return err
	}
	return c.store.Remove(ctx, source.Path())
}

// Select lists the keys under the static part of the pattern and matches
// them relative to the prefix.
func (c *Connection) Select(ctx context.Context, pattern string, mediaType resource.MediaType) ([]*resource.DataPath, error) {
	g := glob.New(pattern)
	if !g.HasWildcard() {
		dp, err := c.DataPath(pattern, mediaType)
		if err != nil {
			return nil, err
		}
		ok, err := c.Exists(ctx, dp)
		if err != nil || !ok {
			return nil, err
		}
		return []*resource.DataPath{dp}, nil
	}
	keys, err := c.store.List(ctx, c.key(staticPrefix(pattern)))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	var out []*resource.DataPath
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			continue
		}
		if !g.Match(resource.Relativize(k, c.loc.prefix)) {
			continue
		}
		dp, err := c.DataPath("/"+k, mediaType)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, nil
}

// staticPrefix returns the directory part of pattern before its first
// wildcard.
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{")
	if i < 0 {
		return pattern
	}
	j := strings.LastIndex(pattern[:i], "/")
	if j < 0 {
		return ""
	}
	return pattern[:j+1]
}

func (c *Connection) Count(ctx context.Context, dp *resource.DataPath) (int64, error) {
	if c.IsContainer(dp) {
		keys, err := c.store.List(ctx, dp.Path())
		return int64(len(keys)), err
	}
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

// Child returns name under the directory parent; a name without
// extension gets .csv.
func (c *Connection) Child(parent *resource.DataPath, name string) (*resource.DataPath, error) {
	if path.Ext(name) == "" {
		name += ".csv"
	}
	return c.DataPath("/"+parent.Path()+name, resource.MediaUnknown)
}

func (c *Connection) Describe(ctx context.Context, dp *resource.DataPath) (*relation.Def, error) {
	def := relation.New()
	if c.IsContainer(dp) {
		def.MustAddColumn("key", relation.TypeVarchar)
		return def, nil
	}
	if dp.MediaType() != resource.MediaCSV {
		def.MustAddColumn("line", relation.TypeVarchar)
		return def, nil
	}
	data, err := c.store.Get(ctx, dp.Path())
	if err != nil {
		return nil, err
	}
	hdr, err := readHeader(newCSVReader(bytes.NewReader(data)))
	if errors.Is(err, io.EOF) {
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", dp, err)
	}
	for i, h := range hdr {
		if h == "" {
			h = fmt.Sprintf("col%d", i+1)
		}
		if _, err := def.AddColumn(relation.Column{Name: h, Type: relation.TypeVarchar, Nullable: true}); err != nil {
			return nil, fmt.Errorf("header of %s: %w", dp, err)
		}
	}
	return def, nil
}

func (c *Connection) FreeForm(*resource.DataPath) bool { return false }

// TargetColumn declares every column as text.
func (c *Connection) TargetColumn(col relation.Column) relation.Column {
	col.Type = relation.TypeVarchar
	col.TypeName = ""
	col.Scale = 0
	return col
}

func (c *Connection) ReadText(ctx context.Context, dp *resource.DataPath) (string, error) {
	data, err := c.store.Get(ctx, dp.Path())
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dp, err)
	}
	return string(data), nil
}

func (c *Connection) NewSelectStream(ctx context.Context, dp *resource.DataPath) (resource.SelectStream, error) {
	if c.IsContainer(dp) {
		keys, err := c.store.List(ctx, dp.Path())
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
		records := make([][]any, len(keys))
		for i, k := range keys {
			records[i] = []any{k}
		}
		return &recordStream{records: records, pos: -1}, nil
	}
	s := &objectStream{ctx: ctx, store: c.store, key: dp.Path(), csv: dp.MediaType() == resource.MediaCSV}
	if err := s.BeforeFirst(); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Connection) NewInsertStream(ctx context.Context, dp *resource.DataPath, spec resource.WriteSpec) (resource.InsertStream, error) {
	if spec.Kind != resource.StatementInsert && spec.Kind != resource.StatementCopy {
		return nil, fmt.Errorf("the object %s only accepts inserts, not %s: %w", dp, spec.Kind, exitcodes.ErrUnsupported)
	}
	if dp.MediaType() != resource.MediaCSV {
		return nil, fmt.Errorf("cannot write records to %s (%s): %w", dp, dp.MediaType(), exitcodes.ErrUnsupported)
	}
	return newObjectWriter(ctx, c, dp, spec.Columns)
}

func contentType(dp *resource.DataPath) string {
	if dp.MediaType() == resource.MediaUnknown {
		return "application/octet-stream"
	}
	return string(dp.MediaType())
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func readHeader(cr *csv.Reader) ([]string, error) {
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	for i := range hdr {
		hdr[i] = strings.TrimSpace(strings.TrimPrefix(hdr[i], "\uFEFF"))
	}
	return hdr, nil
}

func csvHeader(names []string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(names); err != nil {
		return nil, err
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}
