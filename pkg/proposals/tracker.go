// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package proposals tracks the lifecycle of mcp/proposal envelopes observed
// by the router. A proposal opens when the gateway accepts it and reaches a
// terminal state on the first matching withdraw, reject or fulfilling
// request; every transition after that is ignored.
//
// Memory is bounded by two LRUs, one for open and one for closed records.
// An evicted proposal is simply forgotten: later references to it have no
// side effect beyond being logged as uncorrelated by the caller.
package proposals

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a proposal.
type State string

// Proposal states. All states other than StateOpen are terminal.
const (
	StateOpen      State = "open"
	StateWithdrawn State = "withdrawn"
	StateRejected  State = "rejected"
	StateFulfilled State = "fulfilled"
)

// Default LRU bounds.
const (
	DefaultMaxOpen   = 10_000
	DefaultMaxClosed = 100_000
)

// Tracker errors.
var (
	// ErrUnknownProposal means the id was never seen or has been evicted.
	ErrUnknownProposal = errors.New("proposal not known")
	// ErrNotProposer means a withdraw came from someone other than the author.
	ErrNotProposer = errors.New("only the proposer may withdraw a proposal")
	// ErrAlreadyTerminal means the proposal has already been resolved.
	ErrAlreadyTerminal = errors.New("proposal already in a terminal state")
)

// Record is the tracked state of one proposal.
type Record struct {
	// ID is the envelope id of the mcp/proposal.
	ID string
	// Proposer is the authenticated sender of the proposal.
	Proposer string
	// To is the intended recipient list, empty for broadcast proposals.
	To []string
	// State is the current lifecycle state.
	State State
	// OpenedAt is when the gateway accepted the proposal.
	OpenedAt time.Time
	// ResolvedBy is the participant whose envelope closed the proposal.
	ResolvedBy string
}

// Tracker maintains the proposal state machine. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	open   *lruMap
	closed *lruMap
}

// NewTracker creates a tracker with the given LRU bounds. Non-positive
// bounds fall back to the defaults.
func NewTracker(maxOpen, maxClosed int) *Tracker {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}
	if maxClosed <= 0 {
		maxClosed = DefaultMaxClosed
	}
	return &Tracker{
		open:   newLRUMap(maxOpen),
		closed: newLRUMap(maxClosed),
	}
}

// Open records a newly accepted proposal. Reopening a known id is ignored
// and reported so the caller can log it.
func (t *Tracker) Open(id, proposer string, to []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.open.get(id); exists {
		return fmt.Errorf("proposal %s: %w", id, ErrAlreadyTerminal)
	}
	if _, exists := t.closed.get(id); exists {
		return fmt.Errorf("proposal %s: %w", id, ErrAlreadyTerminal)
	}

	t.open.put(id, &Record{
		ID:       id,
		Proposer: proposer,
		To:       append([]string(nil), to...),
		State:    StateOpen,
		OpenedAt: time.Now().UTC(),
	})
	return nil
}

// Withdraw moves an open proposal to withdrawn. Only the proposer may do so.
func (t *Tracker) Withdraw(id, from string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open.get(id)
	if !ok {
		return t.resolveMiss(id)
	}
	if rec.Proposer != from {
		return fmt.Errorf("proposal %s: %w", id, ErrNotProposer)
	}
	t.close(rec, StateWithdrawn, from)
	return nil
}

// Reject moves an open proposal to rejected.
func (t *Tracker) Reject(id, by string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open.get(id)
	if !ok {
		return t.resolveMiss(id)
	}
	t.close(rec, StateRejected, by)
	return nil
}

// Fulfill moves an open proposal to fulfilled. The caller has already
// verified that the fulfilling request passed the capability check.
func (t *Tracker) Fulfill(id, by string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open.get(id)
	if !ok {
		return t.resolveMiss(id)
	}
	t.close(rec, StateFulfilled, by)
	return nil
}

// WithdrawAllFrom closes every open proposal authored by the participant,
// returning the affected ids. Called when a participant leaves the space.
func (t *Tracker) WithdrawAllFrom(proposer string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []*Record
	t.open.each(func(rec *Record) {
		if rec.Proposer == proposer {
			stale = append(stale, rec)
		}
	})

	ids := make([]string, 0, len(stale))
	for _, rec := range stale {
		t.close(rec, StateWithdrawn, proposer)
		ids = append(ids, rec.ID)
	}
	return ids
}

// Get returns a copy of the record for id, open or closed.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.open.get(id); ok {
		return *rec, true
	}
	if rec, ok := t.closed.get(id); ok {
		return *rec, true
	}
	return Record{}, false
}

// IsOpen reports whether id names a currently open proposal.
func (t *Tracker) IsOpen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open.get(id)
	return ok
}

// OpenCount returns the number of currently open proposals.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open.len()
}

// close must be called with the lock held and an open record.
func (t *Tracker) close(rec *Record, state State, by string) {
	rec.State = state
	rec.ResolvedBy = by
	t.open.remove(rec.ID)
	t.closed.put(rec.ID, rec)
}

// resolveMiss distinguishes "already terminal" from "never seen" for callers
// deciding between an ignored transition and an uncorrelated reference.
func (t *Tracker) resolveMiss(id string) error {
	if _, closed := t.closed.get(id); closed {
		return fmt.Errorf("proposal %s: %w", id, ErrAlreadyTerminal)
	}
	return fmt.Errorf("proposal %s: %w", id, ErrUnknownProposal)
}
