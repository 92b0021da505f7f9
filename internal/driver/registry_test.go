package driver

import (
	"errors"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

type fakeDriver struct {
	name    string
	aliases []string
}

func (f *fakeDriver) Name() string      { return f.name }
func (f *fakeDriver) Aliases() []string { return f.aliases }
func (f *fakeDriver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return nil, errors.New("fake driver opens nothing")
}

func TestRegisterAndLookup(t *testing.T) {
	Register(&fakeDriver{name: "fakedb", aliases: []string{"fake"}})

	if !IsRegistered("FAKE") {
		t.Error("alias lookup should be case-insensitive")
	}
	if got := Canonicalize("fake"); got != "fakedb" {
		t.Errorf("Canonicalize(fake) = %s, want fakedb", got)
	}
	if got := Canonicalize("unknown"); got != "unknown" {
		t.Errorf("Canonicalize(unknown) = %s", got)
	}
	found := false
	for _, n := range Available() {
		if n == "fake" {
			t.Error("Available should list primary names only")
		}
		found = found || n == "fakedb"
	}
	if !found {
		t.Error("fakedb missing from Available")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering a duplicate name should panic")
		}
	}()
	Register(&fakeDriver{name: "fakedb"})
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open("x", "no-scheme", nil); !errors.Is(err, exitcodes.ErrInvalidURI) {
		t.Errorf("Open without scheme: err = %v", err)
	}
	if _, err := Open("x", "nosuchscheme://host", nil); !errors.Is(err, exitcodes.ErrUnsupported) {
		t.Errorf("Open with unknown scheme: err = %v", err)
	}
	if s, err := Scheme("SQLite:///tmp/a.db"); err != nil || s != "sqlite" {
		t.Errorf("Scheme = %q, %v", s, err)
	}
}
