// Package web reads HTML tables over HTTP. A web resource is the first
// table of a page (or the first element matching the selector attribute);
// its header cells name the columns. Web connections are read-only.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for http and https uris.
type Driver struct{}

func (d *Driver) Name() string      { return "https" }
func (d *Driver) Aliases() []string { return []string{"http"} }

// Open creates a connection whose relative paths resolve against uri.
// Attributes: rate (requests per second, default 2), burst (default 1),
// selector (default "table"), timeout (seconds, default 30).
func (d *Driver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return New(name, uri, attrs)
}

// Connection is a rate limited HTTP client.
type Connection struct {
	name     string
	uri      string
	base     *url.URL
	selector string
	client   *http.Client
	limiter  *rate.Limiter
}

// New returns a web connection. uri may be a bare scheme ("https://") for
// a connection that only takes absolute urls.
func New(name, uri string, attrs map[string]string) (*Connection, error) {
	c := &Connection{name: name, uri: uri, selector: "table"}
	if u, err := url.Parse(uri); err == nil && u.Host != "" {
		c.base = u
	}
	if s := attrs["selector"]; s != "" {
		c.selector = s
	}
	perSecond, burst, timeout := 2.0, 1, 30*time.Second
	var err error
	if s := attrs["rate"]; s != "" {
		if perSecond, err = strconv.ParseFloat(s, 64); err != nil || perSecond <= 0 {
			return nil, fmt.Errorf("the rate attribute (%s) is not a positive number: %w", s, exitcodes.ErrInvalidURI)
		}
	}
	if s := attrs["burst"]; s != "" {
		if burst, err = strconv.Atoi(s); err != nil || burst < 1 {
			return nil, fmt.Errorf("the burst attribute (%s) is not a positive integer: %w", s, exitcodes.ErrInvalidURI)
		}
	}
	if s := attrs["timeout"]; s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("the timeout attribute (%s) is not an integer: %w", s, exitcodes.ErrInvalidURI)
		}
		timeout = time.Duration(secs) * time.Second
	}
	c.client = &http.Client{Timeout: timeout}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c, nil
}

func (c *Connection) Name() string { return c.name }
func (c *Connection) URI() string  { return c.uri }
func (c *Connection) Scheme() string {
	if c.base != nil {
		return c.base.Scheme
	}
	return "https"
}
func (c *Connection) ServiceID() string { return "web:" + c.name }
func (c *Connection) CurrentPath() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}
func (c *Connection) Capabilities() resource.Capability {
	return resource.CapSelect | resource.CapCount
}
func (c *Connection) DataSystem() resource.DataSystem { return c }
func (c *Connection) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// DataPath resolves p against the base url of the connection.
func (c *Connection) DataPath(p string, mediaType resource.MediaType) (*resource.DataPath, error) {
	u, err := url.Parse(p)
	if err != nil {
		return nil, fmt.Errorf("the url (%s) is not valid: %w", p, exitcodes.ErrInvalidURI)
	}
	if !u.IsAbs() {
		if c.base == nil {
			return nil, fmt.Errorf("the url (%s) is relative and the connection %s has no base url: %w", p, c.name, exitcodes.ErrInvalidURI)
		}
		u = c.base.ResolveReference(u)
	}
	if mediaType == resource.MediaUnknown {
		mediaType = resource.MediaHTML
	}
	return resource.NewDataPath(c, u.String(), mediaType), nil
}

// fetch downloads a page after waiting for the rate limiter.
func (c *Connection) fetch(ctx context.Context, dp *resource.DataPath) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dp.Path(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	logging.Debug("GET %s", dp.Path())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", dp.Path(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("the page %s does not exist: %w", dp.Path(), exitcodes.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching %s: status %d: %s", dp.Path(), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html of %s: %w", dp.Path(), err)
	}
	return doc, nil
}

// readTable returns the header and the data rows of the selected table.
func (c *Connection) readTable(ctx context.Context, dp *resource.DataPath) ([]string, [][]any, error) {
	doc, err := c.fetch(ctx, dp)
	if err != nil {
		return nil, nil, err
	}
	selector := c.selector
	if s, ok := dp.Attribute("selector"); ok {
		selector = s
	}
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, nil, fmt.Errorf("no element matches %q on %s: %w", selector, dp.Path(), exitcodes.ErrNotFound)
	}
	return parseTable(table)
}

func parseTable(table *goquery.Selection) ([]string, [][]any, error) {
	var header []string
	var rows [][]any
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		ths := tr.Find("th")
		tds := tr.Find("td")
		if header == nil && ths.Length() > 0 && tds.Length() == 0 {
			ths.Each(func(i int, th *goquery.Selection) {
				header = append(header, cellText(th, i))
			})
			return
		}
		if tds.Length() == 0 {
			return
		}
		var row []any
		tr.Find("th, td").Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	width := len(header)
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i := len(header); i < width; i++ {
		header = append(header, fmt.Sprintf("col%d", i+1))
	}
	for i, r := range rows {
		for len(r) < width {
			r = append(r, nil)
		}
		rows[i] = r
	}
	return header, rows, nil
}

func cellText(s *goquery.Selection, i int) string {
	t := strings.Join(strings.Fields(s.Text()), " ")
	if t == "" {
		return fmt.Sprintf("col%d", i+1)
	}
	return t
}

func (c *Connection) Exists(ctx context.Context, dp *resource.DataPath) (bool, error) {
	_, err := c.fetch(ctx, dp)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, exitcodes.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Connection) IsEmpty(ctx context.Context, dp *resource.DataPath) (bool, error) {
	n, err := c.Count(ctx, dp)
	return n == 0, err
}

func (c *Connection) IsContainer(*resource.DataPath) bool { return false }

func (c *Connection) readOnly(op string, dp *resource.DataPath) error {
	return fmt.Errorf("cannot %s %s, web connections are read-only: %w", op, dp, exitcodes.ErrUnsupported)
}

func (c *Connection) Create(_ context.Context, target, _ *resource.DataPath) error {
	return c.readOnly("create", target)
}
func (c *Connection) Drop(_ context.Context, dp *resource.DataPath) error {
	return c.readOnly("drop", dp)
}
func (c *Connection) Truncate(_ context.Context, dp *resource.DataPath) error {
	return c.readOnly("truncate", dp)
}

// Select returns the url itself. Pages cannot be listed so the pattern is
// taken literally, query string included.
func (c *Connection) Select(_ context.Context, pattern string, mediaType resource.MediaType) ([]*resource.DataPath, error) {
	dp, err := c.DataPath(pattern, mediaType)
	if err != nil {
		return nil, err
	}
	return []*resource.DataPath{dp}, nil
}

func (c *Connection) Count(ctx context.Context, dp *resource.DataPath) (int64, error) {
	_, rows, err := c.readTable(ctx, dp)
	if err != nil {
		return -1, err
	}
	return int64(len(rows)), nil
}

func (c *Connection) Child(_ *resource.DataPath, name string) (*resource.DataPath, error) {
	return c.DataPath(name, resource.MediaUnknown)
}

func (c *Connection) Describe(ctx context.Context, dp *resource.DataPath) (*relation.Def, error) {
	header, _, err := c.readTable(ctx, dp)
	if err != nil {
		return nil, err
	}
	def := relation.New()
	for _, h := range header {
		name := h
		for n := 2; def.HasColumn(name); n++ {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		if _, err := def.AddColumn(relation.Column{Name: name, Type: relation.TypeVarchar, Nullable: true}); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func (c *Connection) FreeForm(*resource.DataPath) bool { return false }

func (c *Connection) TargetColumn(col relation.Column) relation.Column { return col }

// ReadText returns the text of the page body.
func (c *Connection) ReadText(ctx context.Context, dp *resource.DataPath) (string, error) {
	doc, err := c.fetch(ctx, dp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("body").Text()), nil
}

func (c *Connection) NewSelectStream(ctx context.Context, dp *resource.DataPath) (resource.SelectStream, error) {
	_, rows, err := c.readTable(ctx, dp)
	if err != nil {
		return nil, err
	}
	return &tableStream{rows: rows, pos: -1}, nil
}

func (c *Connection) NewInsertStream(_ context.Context, dp *resource.DataPath, _ resource.WriteSpec) (resource.InsertStream, error) {
	return nil, c.readOnly("write to", dp)
}

type tableStream struct {
	rows [][]any
	pos  int
}

func (s *tableStream) Next() bool {
	if s.pos+1 >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *tableStream) Values() []any      { return s.rows[s.pos] }
func (s *tableStream) Err() error         { return nil }
func (s *tableStream) BeforeFirst() error { s.pos = -1; return nil }
func (s *tableStream) Close() error       { return nil }
