// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package pathmatch compiles route path patterns into matchers which
// test a URL path and extract its named captures.
//
// The pattern grammar is:
//
//	:name     captures exactly one path segment
//	*name     captures the rest of the path, slashes included
//	{...}     makes the enclosed part optional, e.g. /users{/:id}
//	\c        matches the character c literally
//
// Everything else is literal and matched verbatim against the escaped
// request path. Captured values are decoded with query string rules,
// so "+" becomes a space and percent escapes are resolved.
package pathmatch

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Params maps capture names to their decoded values.
type Params map[string]string

// Get returns the value captured for name, or "" if there is none.
func (p Params) Get(name string) string {
	return p[name]
}

// Matcher tests a URL path. Implementations must be safe for
// concurrent use and free of side effects.
type Matcher interface {
	// Match reports whether path is accepted and, if so, its captures.
	// The path must be in its escaped form, see [url.URL.EscapedPath].
	Match(path string) (Params, bool)

	String() string
}

// SyntaxError reports a malformed pattern.
type SyntaxError struct {
	Pattern string
	Offset  int
	Reason  string
}

// Error implements the [builtin.error] interface.
func (e SyntaxError) Error() string {
	return fmt.Sprintf("pathmatch: invalid pattern %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

// DuplicateParamError reports a parameter name declared more than once.
type DuplicateParamError struct {
	Pattern string
	Name    string
}

// Error implements the [builtin.error] interface.
func (e DuplicateParamError) Error() string {
	return fmt.Sprintf("pathmatch: parameter %q declared more than once in %q", e.Name, e.Pattern)
}

// Pattern is a compiled string pattern.
type Pattern struct {
	raw   string
	re    *regexp.Regexp
	names []string
}

// Compile parses pattern. It must start with "/" or an optional group.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" || (pattern[0] != '/' && pattern[0] != '{') {
		return nil, SyntaxError{Pattern: pattern, Reason: `must start with "/"`}
	}

	p := &parser{pattern: pattern}
	body, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos < len(pattern) {
		return nil, SyntaxError{Pattern: pattern, Offset: p.pos, Reason: `unexpected "}"`}
	}

	expr := "^" + body
	if !strings.HasSuffix(pattern, "/") {
		expr += "/?"
	}
	expr += "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, SyntaxError{Pattern: pattern, Reason: err.Error()}
	}
	return &Pattern{
		raw:   pattern,
		re:    re,
		names: p.names,
	}, nil
}

// MustCompile is like [Compile] but panics if the pattern is invalid.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the declared parameter names in declaration order.
func (p *Pattern) Names() []string {
	return slices.Clone(p.names)
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match implements the [Matcher] interface. Parameters inside an
// optional group which did not participate in the match are omitted.
// A capture holding an invalid percent escape makes the match fail.
func (p *Pattern) Match(path string) (Params, bool) {
	m := p.re.FindStringSubmatchIndex(path)
	if m == nil {
		return nil, false
	}

	params := make(Params, len(p.names))
	for i, name := range p.names {
		start, end := m[2*(i+1)], m[2*(i+1)+1]
		if start < 0 {
			continue
		}
		v, err := url.QueryUnescape(path[start:end])
		if err != nil {
			return nil, false
		}
		params[name] = v
	}
	return params, true
}

type parser struct {
	pattern string
	pos     int
	names   []string
}

func (p *parser) parse() (string, error) {
	var sb strings.Builder
	for p.pos < len(p.pattern) {
		c := p.pattern[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.pattern) {
				return "", SyntaxError{Pattern: p.pattern, Offset: p.pos, Reason: "trailing escape"}
			}
			sb.WriteString(regexp.QuoteMeta(p.pattern[p.pos+1 : p.pos+2]))
			p.pos += 2
		case ':', '*':
			err := p.name()
			if err != nil {
				return "", err
			}
			if c == ':' {
				sb.WriteString(`([^/]+)`)
			} else {
				sb.WriteString(`(.+)`)
			}
		case '{':
			open := p.pos
			p.pos++
			inner, err := p.parse()
			if err != nil {
				return "", err
			}
			if p.pos >= len(p.pattern) {
				return "", SyntaxError{Pattern: p.pattern, Offset: open, Reason: `unclosed "{"`}
			}
			p.pos++
			sb.WriteString("(?:" + inner + ")?")
		case '}':
			// the caller decides whether a closing brace is expected here
			return sb.String(), nil
		default:
			sb.WriteString(regexp.QuoteMeta(p.pattern[p.pos : p.pos+1]))
			p.pos++
		}
	}
	return sb.String(), nil
}

func (p *parser) name() error {
	start := p.pos
	p.pos++
	for p.pos < len(p.pattern) && isNameByte(p.pattern[p.pos]) {
		p.pos++
	}
	name := p.pattern[start+1 : p.pos]
	if name == "" {
		return SyntaxError{Pattern: p.pattern, Offset: start, Reason: "missing parameter name"}
	}
	if slices.Contains(p.names, name) {
		return DuplicateParamError{Pattern: p.pattern, Name: name}
	}
	p.names = append(p.names, name)
	return nil
}

func isNameByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

// Regexp returns an opaque [Matcher] backed by re. Captures are keyed by
// group number, starting at "1", and additionally by group name for named
// groups. Values are returned as matched, without decoding.
func Regexp(re *regexp.Regexp) Matcher {
	return regexpMatcher{re: re}
}

type regexpMatcher struct {
	re *regexp.Regexp
}

// Match implements the [Matcher] interface.
func (m regexpMatcher) Match(path string) (Params, bool) {
	idx := m.re.FindStringSubmatchIndex(path)
	if idx == nil {
		return nil, false
	}

	names := m.re.SubexpNames()
	params := make(Params, len(names)-1)
	for i := 1; i < len(names); i++ {
		start, end := idx[2*i], idx[2*i+1]
		if start < 0 {
			continue
		}
		v := path[start:end]
		params[strconv.Itoa(i)] = v
		if names[i] != "" {
			params[names[i]] = v
		}
	}
	return params, true
}

// String returns the regular expression source.
func (m regexpMatcher) String() string {
	return m.re.String()
}
