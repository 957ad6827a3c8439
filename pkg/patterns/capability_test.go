// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package patterns

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// docFor builds a matcher document for a kind and payload.
func docFor(t *testing.T, kind string, payload map[string]any) *Doc {
	t.Helper()
	env := map[string]any{
		"protocol": "mew/v0.4",
		"id":       "env-1",
		"ts":       "2026-01-02T15:04:05Z",
		"from":     "alice",
		"kind":     kind,
		"payload":  payload,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return NewDoc(raw)
}

func TestKindForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		kind    string
		want    bool
	}{
		{"chat", "chat", true},
		{"chat", "mcp/request", false},
		{"mcp/*", "mcp/request", true},
		{"mcp/*", "mcp/proposal", true},
		{"mcp/*", "capability/grant", false},
		{"*", "chat", true},
		{"*", "mcp/request", true}, // bare "*" matches everything
		{"mcp/*", "mcp/a/b", false},
		{"mcp/**", "mcp/a/b", true},
		{"**", "mcp/request", true},
		{"**", "reasoning/thought", true},
		{"/^mcp\\//", "mcp/request", true},
		{"/^mcp\\//", "chat", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("%s vs %s", tc.pattern, tc.kind), func(t *testing.T) {
			t.Parallel()
			c := MustCompile(Spec{Kind: tc.pattern})
			assert.Equal(t, tc.want, c.Matches(docFor(t, tc.kind, map[string]any{})))
		})
	}
}

func TestNegatedKindInverts(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{Kind: "!mcp/*"})

	assert.True(t, c.Negated())
	assert.False(t, c.Matches(docFor(t, "mcp/request", map[string]any{})))
	assert.True(t, c.Matches(docFor(t, "chat", map[string]any{})))
}

func TestPayloadGlobLeaves(t *testing.T) {
	t.Parallel()
	// Scenario: tools/call restricted to read-only tools.
	c := MustCompile(Spec{
		Kind: "mcp/request",
		Payload: map[string]any{
			"method": "tools/call",
			"params": map[string]any{"name": "read_*"},
		},
	})

	allowed := docFor(t, "mcp/request", map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": "read_file"},
	})
	denied := docFor(t, "mcp/request", map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": "write_file"},
	})
	missing := docFor(t, "mcp/request", map[string]any{
		"method": "tools/call",
	})

	assert.True(t, c.Matches(allowed))
	assert.False(t, c.Matches(denied))
	assert.False(t, c.Matches(missing))
}

func TestDeepWildcardScansDescendants(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind:    "mcp/proposal",
		Payload: map[string]any{"**": "/dangerous/"},
	})

	nested := docFor(t, "mcp/proposal", map[string]any{
		"method": "tools/call",
		"params": map[string]any{
			"arguments": map[string]any{
				"command": "potential /dangerous/ command",
			},
		},
	})
	benign := docFor(t, "mcp/proposal", map[string]any{
		"method": "tools/call",
		"params": map[string]any{"arguments": map[string]any{"command": "ls"}},
	})

	assert.True(t, c.Matches(nested))
	assert.False(t, c.Matches(benign))
}

func TestSingleWildcardKey(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind:    "chat",
		Payload: map[string]any{"*": "urgent"},
	})

	assert.True(t, c.Matches(docFor(t, "chat", map[string]any{"priority": "urgent"})))
	assert.False(t, c.Matches(docFor(t, "chat", map[string]any{
		"nested": map[string]any{"priority": "urgent"},
	})))
}

func TestJSONPathKeys(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind:    "mcp/request",
		Payload: map[string]any{"$.payload.params.name": "read_*"},
	})

	assert.True(t, c.Matches(docFor(t, "mcp/request", map[string]any{
		"params": map[string]any{"name": "read_file"},
	})))
	assert.False(t, c.Matches(docFor(t, "mcp/request", map[string]any{
		"params": map[string]any{"name": "write_file"},
	})))
	assert.False(t, c.Matches(docFor(t, "mcp/request", map[string]any{})))
}

func TestJSONPathToGJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"$.payload.method", "payload.method"},
		{"$.payload.params[0].name", "payload.params.0.name"},
		{"$.payload['weird key']", "payload.weird key"},
		{"$payload.method", "payload.method"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, jsonPathToGJSON(tc.in), tc.in)
	}
}

func TestLiteralListAndScalarLeaves(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind: "mcp/request",
		Payload: map[string]any{
			"method":  []any{"tools/list", "resources/list"},
			"page":    float64(1),
			"verbose": true,
		},
	})

	match := map[string]any{"method": "tools/list", "page": 1, "verbose": true}
	assert.True(t, c.Matches(docFor(t, "mcp/request", match)))

	wrongMethod := map[string]any{"method": "tools/call", "page": 1, "verbose": true}
	assert.False(t, c.Matches(docFor(t, "mcp/request", wrongMethod)))

	wrongPage := map[string]any{"method": "tools/list", "page": 2, "verbose": true}
	assert.False(t, c.Matches(docFor(t, "mcp/request", wrongPage)))

	wrongType := map[string]any{"method": "tools/list", "page": "1", "verbose": true}
	assert.False(t, c.Matches(docFor(t, "mcp/request", wrongType)))
}

func TestMalformedPayloadIsFalseNotError(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind:    "chat",
		Payload: map[string]any{"text": "hello"},
	})

	// Payload is an array, not an object: shape mismatch, not a failure.
	doc := NewDoc([]byte(`{"kind":"chat","payload":[1,2,3]}`))
	assert.False(t, c.Matches(doc))

	// No payload at all.
	doc = NewDoc([]byte(`{"kind":"chat"}`))
	assert.False(t, c.Matches(doc))
}

func TestCompileRejectsMalformedRegex(t *testing.T) {
	t.Parallel()

	_, err := Compile(Spec{Kind: "/([unclosed/"})
	assert.Error(t, err)

	_, err = Compile(Spec{
		Kind:    "chat",
		Payload: map[string]any{"text": "/([unclosed/"},
	})
	assert.Error(t, err)

	_, err = Compile(Spec{Kind: ""})
	assert.Error(t, err)

	_, err = Compile(Spec{Kind: "!"})
	assert.Error(t, err)
}

func TestDecideRequiresPositiveMatch(t *testing.T) {
	t.Parallel()
	caps := []*Capability{
		MustCompile(Spec{ID: "chat", Kind: "chat"}),
		MustCompile(Spec{ID: "mcp", Kind: "mcp/*"}),
	}

	d := Decide(caps, docFor(t, "mcp/request", map[string]any{}))
	assert.True(t, d.Allowed)
	assert.Equal(t, "mcp", d.MatchedID)

	d = Decide(caps, docFor(t, "capability/grant", map[string]any{}))
	assert.False(t, d.Allowed)
	assert.Empty(t, d.MatchedID)
}

func TestDecideNegationBlocksAllow(t *testing.T) {
	t.Parallel()
	caps := []*Capability{
		MustCompile(Spec{ID: "all-mcp", Kind: "mcp/*"}),
		MustCompile(Spec{ID: "no-withdraw", Kind: "!mcp/withdraw"}),
	}

	d := Decide(caps, docFor(t, "mcp/request", map[string]any{}))
	assert.True(t, d.Allowed)

	d = Decide(caps, docFor(t, "mcp/withdraw", map[string]any{}))
	assert.False(t, d.Allowed)
	assert.Equal(t, "no-withdraw", d.DeniedBy)
}

func TestDecideOnlyNegationsNeverAllows(t *testing.T) {
	t.Parallel()
	caps := []*Capability{MustCompile(Spec{Kind: "!chat"})}

	d := Decide(caps, docFor(t, "mcp/request", map[string]any{}))
	assert.False(t, d.Allowed)
}

func TestDecisionCacheIsStable(t *testing.T) {
	t.Parallel()
	c := MustCompile(Spec{
		Kind:    "mcp/request",
		Payload: map[string]any{"method": "tools/*"},
	})
	doc := docFor(t, "mcp/request", map[string]any{"method": "tools/call"})

	for i := 0; i < 10; i++ {
		assert.True(t, c.Matches(doc))
	}

	other := docFor(t, "mcp/request", map[string]any{"method": "prompts/get"})
	for i := 0; i < 10; i++ {
		assert.False(t, c.Matches(other))
	}
}

func TestJSONPathInAlternativeListDisablesCache(t *testing.T) {
	t.Parallel()
	// The JSONPath key sits inside an array alternative; it still reads
	// envelope fields outside the (kind, payload) cache key.
	c := MustCompile(Spec{
		Kind:    "chat",
		Payload: map[string]any{"tag": []any{map[string]any{"$.from": "alice"}}},
	})
	require.True(t, c.usesJSONPath)

	fromAlice := NewDoc([]byte(`{"protocol":"mew/v0.4","id":"e-1","ts":"2026-01-02T15:04:05Z","from":"alice","kind":"chat","payload":{"tag":{}}}`))
	fromBob := NewDoc([]byte(`{"protocol":"mew/v0.4","id":"e-2","ts":"2026-01-02T15:04:06Z","from":"bob","kind":"chat","payload":{"tag":{}}}`))

	// Identical kind and payload, different sender: the second envelope must
	// be re-evaluated, not served the first one's verdict.
	require.True(t, c.Matches(fromAlice))
	assert.False(t, c.Matches(fromBob))
}

func TestJSONPathDetectionWalksNestedPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"top-level key", map[string]any{"$.from": "alice"}, true},
		{"nested object", map[string]any{"a": map[string]any{"$.from": "alice"}}, true},
		{"object inside list", map[string]any{"a": []any{map[string]any{"$.from": "alice"}}}, true},
		{"list inside nested object", map[string]any{
			"a": map[string]any{"b": []any{map[string]any{"$.ts": "*"}}},
		}, true},
		{"plain literals", map[string]any{"a": []any{"x", map[string]any{"b": "y"}}}, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := MustCompile(Spec{Kind: "chat", Payload: tc.payload})
			assert.Equal(t, tc.want, c.usesJSONPath)
		})
	}
}

func TestSpecFingerprintIgnoresID(t *testing.T) {
	t.Parallel()
	a := Spec{ID: "one", Kind: "chat", Payload: map[string]any{"a": 1, "b": 2}}
	b := Spec{ID: "two", Kind: "chat", Payload: map[string]any{"b": 2, "a": 1}}
	c := Spec{Kind: "chat", Payload: map[string]any{"a": 2}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
