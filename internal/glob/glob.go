// Package glob translates resource selection patterns into regular
// expressions. Every wildcard becomes a capturing group so that matches can
// expose back-references ($1, $2, ...) to target name templates.
package glob

import (
	"regexp"
	"strconv"
	"strings"
)

// Glob is a selection pattern: `*` any sequence, `?` one character,
// `[...]` a class (`[!...]` negated), `{a,b}` alternatives, `\` escapes.
type Glob struct {
	pattern string
}

// New returns a Glob for the pattern.
func New(pattern string) Glob {
	return Glob{pattern: pattern}
}

func (g Glob) String() string {
	return g.pattern
}

// HasWildcard reports whether the pattern contains a wildcard character.
func (g Glob) HasWildcard() bool {
	escaped := false
	for _, r := range g.pattern {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// Regexp compiles the pattern. With groups, each wildcard is a capturing group.
func (g Glob) Regexp(groups bool) (*regexp.Regexp, error) {
	return regexp.Compile(g.translate(groups))
}

func (g Glob) translate(groups bool) string {
	var sb strings.Builder
	sb.WriteString("^")
	inClass := false
	classStart := -1
	inGroup := 0
	runes := []rune(g.pattern)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch ch {
		case '\\':
			i++
			if i >= len(runes) {
				sb.WriteString(`\\`)
			} else {
				sb.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		case '*':
			if inClass {
				sb.WriteRune('*')
				continue
			}
			// ** and * behave the same
			for i+1 < len(runes) && runes[i+1] == '*' {
				i++
			}
			if groups {
				sb.WriteString("(.*)")
			} else {
				sb.WriteString(".*")
			}
		case '?':
			if inClass {
				sb.WriteRune('?')
			} else if groups {
				sb.WriteString("(.)")
			} else {
				sb.WriteRune('.')
			}
		case '[':
			inClass = true
			classStart = i + 1
			if groups {
				sb.WriteRune('(')
			}
			sb.WriteRune('[')
		case ']':
			inClass = false
			sb.WriteRune(']')
			if groups {
				sb.WriteRune(')')
			}
		case '!':
			if inClass && classStart == i {
				sb.WriteRune('^')
			} else {
				sb.WriteRune('!')
			}
		case '{':
			inGroup++
			sb.WriteRune('(')
		case '}':
			inGroup--
			sb.WriteRune(')')
		case ',':
			if inGroup > 0 {
				sb.WriteRune('|')
			} else {
				sb.WriteRune(',')
			}
		case '.', '(', ')', '+', '|', '^', '$', '@', '%':
			if !inClass || (classStart == i && ch == '^') {
				sb.WriteRune('\\')
			}
			sb.WriteRune(ch)
		default:
			sb.WriteRune(ch)
		}
	}
	sb.WriteString("$")
	return sb.String()
}

// Match reports whether s matches the whole pattern.
func (g Glob) Match(s string) bool {
	re, err := g.Regexp(false)
	if err != nil {
		return s == g.pattern
	}
	return re.MatchString(s)
}

// Groups returns the back-references of s: index 0 is s itself, then one
// entry per capturing group. It returns nil when s does not match.
func (g Glob) Groups(s string) []string {
	re, err := g.Regexp(true)
	if err != nil {
		return nil
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	m[0] = s
	return m
}

var backReference = regexp.MustCompile(`\$([0-9]+)`)

// HasBackReference reports whether s contains a $N reference.
func HasBackReference(s string) bool {
	return backReference.MatchString(s)
}

// Expand replaces $N in template by the value of the attribute named N.
// Unknown references are left untouched.
func Expand(template string, attributes map[string]string) string {
	return backReference.ReplaceAllStringFunc(template, func(ref string) string {
		n, err := strconv.Atoi(ref[1:])
		if err != nil {
			return ref
		}
		if v, ok := attributes[strconv.Itoa(n)]; ok {
			return v
		}
		return ref
	})
}
