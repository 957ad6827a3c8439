// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package patterns

import (
	"fmt"
	"strings"
	"sync"
)

// decisionCacheLimit bounds the per-capability decision cache. When the
// limit is hit the cache is dropped wholesale rather than evicted per-entry.
const decisionCacheLimit = 1024

// Capability is a compiled capability pattern. It is immutable after
// Compile and safe for concurrent use; its decision cache is internally
// synchronised.
type Capability struct {
	spec    Spec
	negated bool
	kind    *stringMatcher
	payload *objectPattern

	// usesJSONPath disables the decision cache: JSONPath keys can read
	// envelope fields outside the (kind, payload) cache key.
	usesJSONPath bool

	mu    sync.RWMutex
	cache map[uint64]bool
}

// Compile compiles a capability spec. Malformed globs or regex literals are
// configuration errors and must be surfaced at load time.
func Compile(spec Spec) (*Capability, error) {
	if spec.Kind == "" {
		return nil, fmt.Errorf("capability %q: kind is required", spec.ID)
	}

	c := &Capability{spec: spec}

	kindPattern := spec.Kind
	if strings.HasPrefix(kindPattern, "!") {
		c.negated = true
		kindPattern = kindPattern[1:]
		if kindPattern == "" {
			return nil, fmt.Errorf("capability %q: bare negation is not a pattern", spec.ID)
		}
	}

	km, err := compileString(kindPattern)
	if err != nil {
		return nil, fmt.Errorf("capability %q: kind: %w", spec.ID, err)
	}
	c.kind = km

	if len(spec.Payload) > 0 {
		obj, err := compileObject(spec.Payload)
		if err != nil {
			return nil, fmt.Errorf("capability %q: payload: %w", spec.ID, err)
		}
		c.payload = obj
		c.usesJSONPath = objectUsesJSONPath(spec.Payload)
	}

	return c, nil
}

// MustCompile is like Compile but panics on error. For tests and constants.
func MustCompile(spec Spec) *Capability {
	c, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// ID returns the stable handle of the capability, if one was declared.
func (c *Capability) ID() string {
	return c.spec.ID
}

// Spec returns the declarative form the capability was compiled from.
func (c *Capability) Spec() Spec {
	return c.spec
}

// Fingerprint returns the canonical structural form, used for dedup.
func (c *Capability) Fingerprint() string {
	return c.spec.Fingerprint()
}

// Negated reports whether the capability is a negation ("!…" kind). A
// negated capability in a set blocks envelopes its inner pattern matches.
func (c *Capability) Negated() bool {
	return c.negated
}

// Matches evaluates the capability against an envelope document, applying
// negation: for a "!…" capability the result of the inner pattern is
// inverted. Evaluation never fails; shape mismatches are false.
func (c *Capability) Matches(doc *Doc) bool {
	inner := c.matchInner(doc)
	if c.negated {
		return !inner
	}
	return inner
}

// matchInner evaluates the pattern without negation handling. Set
// evaluation uses this directly: a negated capability denies when its inner
// pattern matches.
func (c *Capability) matchInner(doc *Doc) bool {
	if c.usesJSONPath {
		return c.evaluate(doc)
	}

	key := doc.hash()
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	result := c.evaluate(doc)

	c.mu.Lock()
	if c.cache == nil || len(c.cache) >= decisionCacheLimit {
		c.cache = make(map[uint64]bool)
	}
	c.cache[key] = result
	c.mu.Unlock()

	return result
}

func (c *Capability) evaluate(doc *Doc) bool {
	if !c.kind.match(doc.kind) {
		return false
	}
	if c.payload == nil {
		return true
	}
	return c.payload.match(doc.payload, doc)
}

func objectUsesJSONPath(pattern map[string]any) bool {
	for key, sub := range pattern {
		if strings.HasPrefix(key, "$") {
			return true
		}
		if valueUsesJSONPath(sub) {
			return true
		}
	}
	return false
}

// valueUsesJSONPath walks a pattern subtree looking for JSONPath keys. Array
// elements are alternatives and can nest objects, so they are walked too.
func valueUsesJSONPath(pattern any) bool {
	switch p := pattern.(type) {
	case map[string]any:
		return objectUsesJSONPath(p)
	case []any:
		for _, alt := range p {
			if valueUsesJSONPath(alt) {
				return true
			}
		}
	}
	return false
}

// Decision is the outcome of evaluating a capability set.
type Decision struct {
	// Allowed reports whether the envelope may be sent.
	Allowed bool
	// MatchedID is the id (or fingerprint, when no id was declared) of the
	// positive capability that allowed the envelope.
	MatchedID string
	// DeniedBy is set when a negated capability blocked the envelope.
	DeniedBy string
}

// Decide evaluates an unordered capability set: the envelope is allowed iff
// at least one positive capability matches and no negated capability's inner
// pattern matches. Evaluation short-circuits on the first positive match
// when the set holds no negations; otherwise the negations are scanned too.
func Decide(caps []*Capability, doc *Doc) Decision {
	var decision Decision
	hasNegations := false
	for _, c := range caps {
		if c.Negated() {
			hasNegations = true
			break
		}
	}

	for _, c := range caps {
		if c.Negated() {
			continue
		}
		if c.matchInner(doc) {
			decision.Allowed = true
			decision.MatchedID = c.ID()
			if decision.MatchedID == "" {
				decision.MatchedID = c.Fingerprint()
			}
			if !hasNegations {
				return decision
			}
			break
		}
	}

	if !decision.Allowed || !hasNegations {
		return decision
	}

	for _, c := range caps {
		if c.Negated() && c.matchInner(doc) {
			decision.Allowed = false
			decision.MatchedID = ""
			decision.DeniedBy = c.ID()
			if decision.DeniedBy == "" {
				decision.DeniedBy = c.Fingerprint()
			}
			return decision
		}
	}
	return decision
}
