package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

const page = `<html><body>
<h1>Cities</h1>
<table id="cities">
  <thead><tr><th>Name</th><th>Country</th><th></th></tr></thead>
  <tbody>
    <tr><td>Paris</td><td>France</td><td>2.1</td></tr>
    <tr><td> Lyon </td><td>France</td></tr>
  </tbody>
</table>
<table id="other"><tr><td>x</td></tr></table>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cities" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDescribeAndSelect(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c, err := New("web", srv.URL+"/", map[string]string{"rate": "100"})
	if err != nil {
		t.Fatal(err)
	}
	dp, err := c.DataPath("cities", resource.MediaUnknown)
	if err != nil {
		t.Fatal(err)
	}
	if dp.Path() != srv.URL+"/cities" || dp.MediaType() != resource.MediaHTML {
		t.Fatalf("DataPath = %s (%s)", dp.Path(), dp.MediaType())
	}

	def, err := c.Describe(ctx, dp)
	if err != nil {
		t.Fatal(err)
	}
	names := def.ColumnNames()
	if len(names) != 3 || names[0] != "Name" || names[1] != "Country" || names[2] != "col3" {
		t.Errorf("columns = %v", names)
	}

	s, err := c.NewSelectStream(ctx, dp)
	if err != nil {
		t.Fatal(err)
	}
	var rows [][]any
	for s.Next() {
		rows = append(rows, s.Values())
	}
	if len(rows) != 2 || rows[1][0] != "Lyon" || rows[1][2] != nil {
		t.Errorf("rows = %v", rows)
	}
	if n, _ := c.Count(ctx, dp); n != 2 {
		t.Errorf("Count = %d", n)
	}

	dp.SetAttribute("selector", "#other")
	if n, _ := c.Count(ctx, dp); n != 1 {
		t.Errorf("Count with selector = %d", n)
	}
}

func TestMissingPageAndReadOnly(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c, _ := New("web", srv.URL, map[string]string{"rate": "100"})
	dp, _ := c.DataPath("/nope", resource.MediaUnknown)
	if ok, err := c.Exists(ctx, dp); ok || err != nil {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := c.Drop(ctx, dp); !errors.Is(err, exitcodes.ErrUnsupported) {
		t.Errorf("Drop = %v, want ErrUnsupported", err)
	}
	if _, err := c.NewInsertStream(ctx, dp, resource.WriteSpec{}); !errors.Is(err, exitcodes.ErrUnsupported) {
		t.Errorf("NewInsertStream = %v, want ErrUnsupported", err)
	}
}

func TestAttributes(t *testing.T) {
	for _, attrs := range []map[string]string{{"rate": "0"}, {"burst": "x"}, {"timeout": "soon"}} {
		if _, err := New("web", "https://", attrs); err == nil {
			t.Errorf("New(%v) should fail", attrs)
		}
	}
	c, _ := New("web", "https://", nil)
	if _, err := c.DataPath("relative", resource.MediaUnknown); !errors.Is(err, exitcodes.ErrInvalidURI) {
		t.Errorf("relative url without base = %v", err)
	}
}
