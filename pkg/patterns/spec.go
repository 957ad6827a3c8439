// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package patterns implements the capability pattern matcher: the pure
// decision engine that determines whether an envelope satisfies a capability
// pattern. Patterns support kind globs, regex literals, negation, nested
// payload shapes with single ("*") and deep ("**") wildcards, and JSONPath
// keys evaluated against the envelope document.
//
// All regexes are compiled when a capability is loaded; a malformed pattern
// is a configuration error surfaced at load time, never during evaluation.
// Evaluation itself never fails: a shape mismatch is simply false.
package patterns

import (
	"encoding/json"
	"fmt"
)

// Spec is the declarative JSON form of a capability pattern, as it appears
// in space configuration files and capability/grant payloads.
type Spec struct {
	// ID is a stable handle used for later revocation. Optional but recommended.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Kind matches the envelope kind. It may be an exact kind, contain
	// "*" or "**" globs, be prefixed with "!" for negation, or be a
	// "/…/" regex literal.
	Kind string `json:"kind" yaml:"kind"`
	// Payload is a nested pattern matched against the envelope payload.
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Fingerprint returns the canonical structural form of the spec, used for
// dedup on grant and exact-match revocation. The id is deliberately not part
// of the fingerprint: two grants of the same shape are the same capability.
func (s Spec) Fingerprint() string {
	canonical := struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload,omitempty"`
	}{Kind: s.Kind, Payload: s.Payload}

	// json.Marshal sorts map keys at every level, which makes the output
	// a canonical form for structurally equal payload patterns.
	data, err := json.Marshal(canonical)
	if err != nil {
		return fmt.Sprintf("unfingerprintable:%s", s.Kind)
	}
	return string(data)
}

// Equal reports structural equality of two specs, ignoring ids.
func (s Spec) Equal(other Spec) bool {
	return s.Fingerprint() == other.Fingerprint()
}
