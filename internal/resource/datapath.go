package resource

import (
	"context"
	"fmt"
	"maps"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// Kind tags the DataPath variant.
type Kind int

const (
	// Literal addresses a resource directly.
	Literal Kind = iota
	// Executable addresses the result of running a script on the
	// connection. It has no structure until executed.
	Executable
)

// DataPath is an addressable resource of a connection.
type DataPath struct {
	conn      Connection
	path      string
	mediaType MediaType
	kind      Kind
	script    *DataPath

	mu    sync.Mutex
	attrs map[string]string

	// defMu is held while the definition is read from the backend.
	defMu sync.Mutex
	def   *relation.Def
}

// NewDataPath returns a Literal resource. Backends call it from
// Connection.DataPath.
func NewDataPath(conn Connection, p string, mediaType MediaType) *DataPath {
	return &DataPath{conn: conn, path: p, mediaType: mediaType, kind: Literal, attrs: map[string]string{}}
}

// NewExecutable returns the resource produced by running script on conn.
func NewExecutable(conn Connection, script *DataPath) *DataPath {
	return &DataPath{conn: conn, mediaType: MediaQuery, kind: Executable, script: script, attrs: map[string]string{}}
}

func (d *DataPath) Connection() Connection { return d.conn }

func (d *DataPath) DataSystem() DataSystem { return d.conn.DataSystem() }

// Path is the backend path. It is empty for an executable.
func (d *DataPath) Path() string { return d.path }

func (d *DataPath) MediaType() MediaType { return d.mediaType }

func (d *DataPath) Kind() Kind { return d.kind }

// IsRuntime reports whether the resource is the result of a script.
func (d *DataPath) IsRuntime() bool { return d.kind == Executable }

// Script returns the script of an executable, nil for a literal.
func (d *DataPath) Script() *DataPath { return d.script }

// Name returns the last segment of the path. An executable takes the name
// of its script.
func (d *DataPath) Name() string {
	if d.kind == Executable {
		return d.script.Name()
	}
	p := strings.TrimRight(d.path, "/")
	if p == "" {
		return d.conn.Name()
	}
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// LogicalName is Name without its extension.
func (d *DataPath) LogicalName() string {
	n := d.Name()
	if ext := path.Ext(n); ext != "" && ext != n {
		return strings.TrimSuffix(n, ext)
	}
	return n
}

// RelativePath returns the path relative to the current path of the
// connection.
func (d *DataPath) RelativePath() string {
	if d.kind == Executable {
		return d.script.RelativePath()
	}
	return Relativize(d.path, d.conn.CurrentPath())
}

// Relativize strips base from p when p is under base.
func Relativize(p, base string) string {
	if base == "" {
		return p
	}
	b := strings.TrimRight(base, `/\`)
	if p == b {
		return ""
	}
	for _, sep := range []string{"/", `\`} {
		if strings.HasPrefix(p, b+sep) {
			return p[len(b)+1:]
		}
	}
	return p
}

// Attribute returns a named attribute such as a glob back-reference.
func (d *DataPath) Attribute(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attrs[name]
	return v, ok
}

// SetAttribute sets a named attribute.
func (d *DataPath) SetAttribute(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[name] = value
}

// Attributes returns a copy of the attributes.
func (d *DataPath) Attributes() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.attrs)
}

// AttributeNames returns the attribute names, sorted.
func (d *DataPath) AttributeNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.attrs))
	for k := range d.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Relation returns the relation definition, reading it from the backend
// on first access. A resource that does not exist yet gets an empty
// definition the caller may populate before Create.
func (d *DataPath) Relation(ctx context.Context) (*relation.Def, error) {
	d.defMu.Lock()
	defer d.defMu.Unlock()
	if d.def != nil {
		return d.def, nil
	}
	ds := d.conn.DataSystem()
	exists, err := ds.Exists(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", d, err)
	}
	if exists {
		def, err := ds.Describe(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", d, err)
		}
		d.def = def
		return d.def, nil
	}
	d.def = relation.New()
	d.def.FreeForm = ds.FreeForm(d)
	return d.def, nil
}

// SetRelation replaces the cached definition.
func (d *DataPath) SetRelation(def *relation.Def) {
	d.defMu.Lock()
	defer d.defMu.Unlock()
	d.def = def
}

// ForgetRelation drops the cached definition so the next call to Relation
// reads it again.
func (d *DataPath) ForgetRelation() {
	d.SetRelation(nil)
}

// Exists reports whether the resource exists. An executable exists when
// its script does.
func (d *DataPath) Exists(ctx context.Context) (bool, error) {
	if d.kind == Executable {
		return d.script.Exists(ctx)
	}
	return d.conn.DataSystem().Exists(ctx, d)
}

// Count returns the number of records or -1 when unknown.
func (d *DataPath) Count(ctx context.Context) (int64, error) {
	return d.conn.DataSystem().Count(ctx, d)
}

// IsContainer reports whether the resource holds other resources.
func (d *DataPath) IsContainer() bool {
	if d.kind == Executable {
		return false
	}
	return d.conn.DataSystem().IsContainer(d)
}

// Child returns the resource named name inside this container.
func (d *DataPath) Child(name string) (*DataPath, error) {
	if !d.IsContainer() {
		return nil, fmt.Errorf("%s is not a container: %w", d, exitcodes.ErrUnsupported)
	}
	return d.conn.DataSystem().Child(d, name)
}

// Key identifies the resource for deduplication.
func (d *DataPath) Key() string {
	return d.String()
}

func (d *DataPath) String() string {
	if d.kind == Executable {
		return "(" + d.script.String() + ")@" + d.conn.Name()
	}
	return d.path + "@" + d.conn.Name()
}

// ReadText returns the content of a script resource. The content of an
// executable is its records joined by newlines.
func ReadText(ctx context.Context, dp *DataPath) (string, error) {
	if dp.IsRuntime() {
		s, err := dp.DataSystem().NewSelectStream(ctx, dp)
		if err != nil {
			return "", err
		}
		defer s.Close()
		var lines []string
		for s.Next() {
			var cells []string
			for _, v := range s.Values() {
				cells = append(cells, fmt.Sprint(v))
			}
			lines = append(lines, strings.Join(cells, " "))
		}
		return strings.Join(lines, "\n"), s.Err()
	}
	tr, ok := dp.DataSystem().(TextReader)
	if !ok {
		return "", fmt.Errorf("the resource %s cannot be read as a script: %w", dp, exitcodes.ErrUnsupported)
	}
	return tr.ReadText(ctx, dp)
}
