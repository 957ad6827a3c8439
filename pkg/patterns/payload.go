// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package patterns

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// valuePattern is a compiled leaf or subtree pattern.
type valuePattern interface {
	// match tests a decoded JSON value. doc is the enclosing envelope
	// document, needed by JSONPath keys nested below this pattern.
	match(value any, doc *Doc) bool
}

// Object key forms recognised inside payload patterns.
const (
	keyAnySingle = "*"
	keyAnyDeep   = "**"
)

// compileValue compiles one node of a payload pattern. Strings become glob,
// regex or literal matchers; arrays become sets of acceptable alternatives;
// maps recurse; numbers, booleans and null require equality.
func compileValue(pattern any) (valuePattern, error) {
	switch p := pattern.(type) {
	case string:
		m, err := compileString(p)
		if err != nil {
			return nil, err
		}
		return &stringValue{m: m}, nil
	case []any:
		alts := make([]valuePattern, 0, len(p))
		for _, alt := range p {
			vp, err := compileValue(alt)
			if err != nil {
				return nil, err
			}
			alts = append(alts, vp)
		}
		return &anyOfValue{alts: alts}, nil
	case map[string]any:
		return compileObject(p)
	case float64:
		return &numberValue{want: p}, nil
	case int:
		// YAML decoding yields ints where JSON yields float64.
		return &numberValue{want: float64(p)}, nil
	case int64:
		return &numberValue{want: float64(p)}, nil
	case bool:
		return &boolValue{want: p}, nil
	case nil:
		return &nullValue{}, nil
	default:
		return nil, fmt.Errorf("unsupported pattern leaf of type %T", pattern)
	}
}

// stringValue matches string envelope values.
type stringValue struct {
	m *stringMatcher
}

func (v *stringValue) match(value any, _ *Doc) bool {
	s, ok := value.(string)
	return ok && v.m.match(s)
}

// anyOfValue matches when any alternative matches.
type anyOfValue struct {
	alts []valuePattern
}

func (v *anyOfValue) match(value any, doc *Doc) bool {
	for _, alt := range v.alts {
		if alt.match(value, doc) {
			return true
		}
	}
	return false
}

// numberValue matches JSON numbers by equality.
type numberValue struct {
	want float64
}

func (v *numberValue) match(value any, _ *Doc) bool {
	switch n := value.(type) {
	case float64:
		return n == v.want
	case int:
		return float64(n) == v.want
	case int64:
		return float64(n) == v.want
	default:
		return false
	}
}

// boolValue matches JSON booleans by equality.
type boolValue struct {
	want bool
}

func (v *boolValue) match(value any, _ *Doc) bool {
	b, ok := value.(bool)
	return ok && b == v.want
}

// nullValue matches JSON null.
type nullValue struct{}

func (*nullValue) match(value any, _ *Doc) bool {
	return value == nil
}

// objectEntry is one compiled key of an object pattern.
type objectEntry struct {
	key     string
	sub     valuePattern
	anyKey  bool // "*": any single key's value must match
	deep    bool // "**": any descendant value must match
	gjPath  string
	hasPath bool // key began with "$": evaluate gjPath against the envelope
}

// objectPattern matches JSON objects. Every entry must be satisfied.
type objectPattern struct {
	entries []objectEntry
}

func compileObject(pattern map[string]any) (*objectPattern, error) {
	obj := &objectPattern{}
	for key, sub := range pattern {
		vp, err := compileValue(sub)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		entry := objectEntry{key: key, sub: vp}
		switch {
		case key == keyAnySingle:
			entry.anyKey = true
		case key == keyAnyDeep:
			entry.deep = true
		case strings.HasPrefix(key, "$"):
			entry.gjPath = jsonPathToGJSON(key)
			entry.hasPath = true
		}
		obj.entries = append(obj.entries, entry)
	}
	return obj, nil
}

func (o *objectPattern) match(value any, doc *Doc) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}

	for _, entry := range o.entries {
		switch {
		case entry.anyKey:
			if !matchAnyDirect(m, entry.sub, doc) {
				return false
			}
		case entry.deep:
			if !matchAnyDescendant(m, entry.sub, doc) {
				return false
			}
		case entry.hasPath:
			if doc == nil || !matchJSONPath(doc, entry.gjPath, entry.sub) {
				return false
			}
		default:
			sub, present := m[entry.key]
			if !present || !entry.sub.match(sub, doc) {
				return false
			}
		}
	}
	return true
}

// matchAnyDirect tests the values of every direct key.
func matchAnyDirect(m map[string]any, sub valuePattern, doc *Doc) bool {
	for _, v := range m {
		if sub.match(v, doc) {
			return true
		}
	}
	return false
}

// matchAnyDescendant walks the whole subtree and short-circuits on the first
// descendant value, scalar or composite, that matches.
func matchAnyDescendant(value any, sub valuePattern, doc *Doc) bool {
	switch v := value.(type) {
	case map[string]any:
		for _, child := range v {
			if sub.match(child, doc) || matchAnyDescendant(child, sub, doc) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if sub.match(child, doc) || matchAnyDescendant(child, sub, doc) {
				return true
			}
		}
	}
	return false
}

// matchJSONPath evaluates a gjson path against the envelope document and
// tests each resulting value. At least one result must match (existential).
func matchJSONPath(doc *Doc, path string, sub valuePattern) bool {
	result := gjson.GetBytes(doc.raw, path)
	if !result.Exists() {
		return false
	}
	if result.IsArray() {
		for _, r := range result.Array() {
			if sub.match(r.Value(), doc) {
				return true
			}
		}
		return false
	}
	return sub.match(result.Value(), doc)
}

// jsonPathToGJSON converts the supported JSONPath subset ($.a.b[0].c, with
// "*" wildcards) to gjson path syntax. The path is evaluated against the
// envelope document root, so "$.payload.method" addresses the payload.
func jsonPathToGJSON(path string) string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	// Bracketed indices and quoted keys become dot segments.
	p = strings.NewReplacer("['", ".", "']", "", "[", ".", "]", "").Replace(p)
	return strings.TrimPrefix(p, ".")
}
