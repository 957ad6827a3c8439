// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package capabilities holds the per-participant capability sets and applies
// the mutation messages that change them. It is the single authority the
// router consults before any envelope leaves a participant.
//
// The registry serialises all mutations behind one RWMutex; checks take the
// read lock, so concurrent envelope evaluation sees a consistent snapshot.
package capabilities

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/patterns"
)

// Registry maps participant ids to their capability sets.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*entry
}

type entry struct {
	caps []*patterns.Capability
	// fingerprints dedups structurally equal capabilities across grants.
	fingerprints map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]*entry)}
}

// Load registers a participant with its initial capability set from space
// configuration. Compile failures are configuration errors and abort the join.
func (r *Registry) Load(participant string, specs []patterns.Spec) error {
	compiled := make([]*patterns.Capability, 0, len(specs))
	fingerprints := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		fp := spec.Fingerprint()
		if _, dup := fingerprints[fp]; dup {
			continue
		}
		c, err := patterns.Compile(spec)
		if err != nil {
			return fmt.Errorf("participant %q: %w", participant, err)
		}
		compiled = append(compiled, c)
		fingerprints[fp] = struct{}{}
	}

	r.mu.Lock()
	r.participants[participant] = &entry{caps: compiled, fingerprints: fingerprints}
	r.mu.Unlock()
	return nil
}

// Remove drops a participant and its capability set.
func (r *Registry) Remove(participant string) {
	r.mu.Lock()
	delete(r.participants, participant)
	r.mu.Unlock()
}

// Registered reports whether the participant is currently loaded.
func (r *Registry) Registered(participant string) bool {
	r.mu.RLock()
	_, ok := r.participants[participant]
	r.mu.RUnlock()
	return ok
}

// Participants returns the ids of all registered participants, sorted.
func (r *Registry) Participants() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Check evaluates the participant's capability set against an envelope
// document. An unregistered participant is always denied.
func (r *Registry) Check(participant string, doc *patterns.Doc) patterns.Decision {
	r.mu.RLock()
	e, ok := r.participants[participant]
	r.mu.RUnlock()
	if !ok {
		return patterns.Decision{}
	}
	return patterns.Decide(e.caps, doc)
}

// Kinds returns the kind clauses of the participant's capabilities, for
// inclusion in capability_violation error payloads.
func (r *Registry) Kinds(participant string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.participants[participant]
	if !ok {
		return nil
	}
	kinds := make([]string, 0, len(e.caps))
	for _, c := range e.caps {
		kinds = append(kinds, c.Spec().Kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Snapshot returns the participant's current capability specs, for welcome
// envelopes and audits.
func (r *Registry) Snapshot(participant string) []patterns.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.participants[participant]
	if !ok {
		return nil
	}
	specs := make([]patterns.Spec, 0, len(e.caps))
	for _, c := range e.caps {
		specs = append(specs, c.Spec())
	}
	return specs
}

// Grant appends capabilities to the recipient's set. Structural duplicates
// are deduped, making repeated grants idempotent. The granter must itself
// hold every capability it grants (delegation rule), and system/* kinds are
// never grantable.
func (r *Registry) Grant(granter, recipient string, specs []patterns.Spec) (int, *envelope.ProtocolError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.participants[recipient]
	if !ok {
		return 0, envelope.Errorf(envelope.ClassInvalidEnvelope,
			"grant recipient %q is not in the space", recipient)
	}
	source, ok := r.participants[granter]
	if !ok {
		return 0, envelope.Errorf(envelope.ClassInternalError,
			"granter %q is not registered", granter)
	}

	for _, spec := range specs {
		if envelope.IsSystemKind(strings.TrimPrefix(spec.Kind, "!")) {
			return 0, envelope.Errorf(envelope.ClassDelegationViolation,
				"system capabilities cannot be granted")
		}
		if !holds(source, spec) {
			return 0, envelope.Errorf(envelope.ClassDelegationViolation,
				"granter does not hold capability kind %q", spec.Kind)
		}
	}

	added := 0
	for _, spec := range specs {
		fp := spec.Fingerprint()
		if _, dup := target.fingerprints[fp]; dup {
			continue
		}
		c, err := patterns.Compile(spec)
		if err != nil {
			return added, envelope.NewProtocolError(envelope.ClassInvalidEnvelope,
				"granted capability does not compile", err)
		}
		target.caps = append(target.caps, c)
		target.fingerprints[fp] = struct{}{}
		added++
	}
	return added, nil
}

// Revoke removes capabilities from the recipient's set, either every
// capability whose id equals byID, or every capability structurally equal to
// one of byPattern. The removal is visible to the next Check call.
func (r *Registry) Revoke(recipient, byID string, byPattern []patterns.Spec) (int, *envelope.ProtocolError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.participants[recipient]
	if !ok {
		return 0, envelope.Errorf(envelope.ClassInvalidEnvelope,
			"revoke recipient %q is not in the space", recipient)
	}

	removed := 0
	kept := target.caps[:0]
	for _, c := range target.caps {
		if revokes(c, byID, byPattern) {
			delete(target.fingerprints, c.Fingerprint())
			removed++
			continue
		}
		kept = append(kept, c)
	}
	target.caps = kept
	return removed, nil
}

func revokes(c *patterns.Capability, byID string, byPattern []patterns.Spec) bool {
	if byID != "" && c.ID() == byID {
		return true
	}
	for _, p := range byPattern {
		if c.Spec().Equal(p) {
			return true
		}
	}
	return false
}

// holds implements the delegation rule. A granter holds a capability when
// one of its own positive capabilities subsumes it:
//   - a structurally equal capability always does;
//   - an unrestricted capability (no payload pattern) whose kind clause
//     covers the granted kind does. A literal granted kind is covered when
//     the granter's kind pattern matches it; a patterned granted kind only
//     by the textually identical pattern.
//
// A payload-restricted granter capability never subsumes a different shape:
// deciding pattern implication in general is not attempted.
func holds(source *entry, spec patterns.Spec) bool {
	for _, c := range source.caps {
		if c.Negated() {
			continue
		}
		own := c.Spec()
		if own.Equal(spec) {
			return true
		}
		if len(own.Payload) > 0 {
			continue
		}
		if kindCovers(own.Kind, spec.Kind) {
			return true
		}
	}
	return false
}

func kindCovers(ownKind, grantedKind string) bool {
	if ownKind == grantedKind {
		return true
	}
	if strings.ContainsAny(grantedKind, "*!") || strings.HasPrefix(grantedKind, "/") {
		// Pattern kinds are only covered by the identical pattern.
		return false
	}
	probe, err := patterns.Compile(patterns.Spec{Kind: ownKind})
	if err != nil {
		return false
	}
	doc, err := json.Marshal(map[string]any{"kind": grantedKind})
	if err != nil {
		return false
	}
	return probe.Matches(patterns.NewDoc(doc))
}
