// Package datauri parses resource selectors of the form
// `<path-or-glob>[@connection]`.
//
// A path wrapped in parentheses is a script selector: the inner text is
// itself a data URI naming the script, and the outer connection executes it.
//
//	sales_*.csv@cd
//	(query.sql@cd)@sqlite
//	@memory
package datauri

import (
	"fmt"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

// Separator splits the path from the connection name.
const Separator = "@"

// URI is a parsed data uri.
type URI struct {
	raw        string
	path       string
	connection string
	script     *URI
}

// Parse parses s. The connection is empty when s has none; callers attach
// their default connection with WithDefault.
func Parse(s string) (URI, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return URI{}, fmt.Errorf("the data uri is empty: %w", exitcodes.ErrInvalidURI)
	}

	at := lastSeparator(raw)
	path, conn := raw, ""
	if at >= 0 {
		path, conn = raw[:at], strings.TrimSpace(raw[at+1:])
		if conn == "" {
			return URI{}, fmt.Errorf("the data uri (%s) has an empty connection name: %w", raw, exitcodes.ErrInvalidURI)
		}
		if strings.ContainsAny(conn, "()") {
			return URI{}, fmt.Errorf("the connection name (%s) of the data uri (%s) is not valid: %w", conn, raw, exitcodes.ErrInvalidURI)
		}
	}
	path = strings.TrimSpace(path)

	u := URI{raw: raw, path: path, connection: conn}
	if strings.HasPrefix(path, "(") {
		if !strings.HasSuffix(path, ")") {
			return URI{}, fmt.Errorf("the script selector of the data uri (%s) is not closed: %w", raw, exitcodes.ErrInvalidURI)
		}
		inner, err := Parse(path[1 : len(path)-1])
		if err != nil {
			return URI{}, fmt.Errorf("script selector of %s: %w", raw, err)
		}
		u.script = &inner
		u.path = ""
	}
	return u, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) URI {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// lastSeparator returns the index of the last @ outside parentheses or -1.
func lastSeparator(s string) int {
	depth := 0
	idx := -1
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '@':
			if depth == 0 {
				idx = i
			}
		}
	}
	return idx
}

// Path returns the path or glob pattern. It is empty for a script selector
// and when the uri addresses the current path of its connection.
func (u URI) Path() string { return u.path }

// Connection returns the connection name, empty when none was given.
func (u URI) Connection() string { return u.connection }

// IsScript reports whether the uri selects the result of a script.
func (u URI) IsScript() bool { return u.script != nil }

// Script returns the uri of the script for a script selector.
func (u URI) Script() (URI, bool) {
	if u.script == nil {
		return URI{}, false
	}
	return *u.script, true
}

// WithDefault returns u with connection set to def when u has none. Inner
// script selectors receive the same default.
func (u URI) WithDefault(def string) URI {
	if u.connection == "" {
		u.connection = def
	}
	if u.script != nil {
		inner := u.script.WithDefault(def)
		u.script = &inner
	}
	return u
}

// Scheme returns the scheme of a path such as https://host/x, lowercased,
// or the empty string.
func (u URI) Scheme() string {
	i := strings.Index(u.path, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(u.path[:i])
}

func (u URI) String() string {
	var sb strings.Builder
	if u.script != nil {
		sb.WriteString("(")
		sb.WriteString(u.script.String())
		sb.WriteString(")")
	} else {
		sb.WriteString(u.path)
	}
	if u.connection != "" {
		sb.WriteString(Separator)
		sb.WriteString(u.connection)
	}
	return sb.String()
}
