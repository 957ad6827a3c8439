// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package proposals

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndFulfill(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0, 0)

	require.NoError(t, tr.Open("P1", "proposer", []string{"calculator"}))
	assert.True(t, tr.IsOpen("P1"))

	require.NoError(t, tr.Fulfill("P1", "fulfiller"))
	assert.False(t, tr.IsOpen("P1"))

	rec, ok := tr.Get("P1")
	require.True(t, ok)
	assert.Equal(t, StateFulfilled, rec.State)
	assert.Equal(t, "fulfiller", rec.ResolvedBy)
	assert.Equal(t, "proposer", rec.Proposer)
}

func TestTransitionsAreTerminal(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0, 0)

	require.NoError(t, tr.Open("P1", "alice", nil))
	require.NoError(t, tr.Reject("P1", "bob"))

	// Every further transition for the same id is ignored.
	assert.ErrorIs(t, tr.Fulfill("P1", "carol"), ErrAlreadyTerminal)
	assert.ErrorIs(t, tr.Withdraw("P1", "alice"), ErrAlreadyTerminal)
	assert.ErrorIs(t, tr.Reject("P1", "dave"), ErrAlreadyTerminal)
	assert.ErrorIs(t, tr.Open("P1", "alice", nil), ErrAlreadyTerminal)

	rec, ok := tr.Get("P1")
	require.True(t, ok)
	assert.Equal(t, StateRejected, rec.State)
	assert.Equal(t, "bob", rec.ResolvedBy)
}

func TestWithdrawRequiresProposer(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0, 0)

	require.NoError(t, tr.Open("P1", "alice", nil))

	assert.ErrorIs(t, tr.Withdraw("P1", "mallory"), ErrNotProposer)
	assert.True(t, tr.IsOpen("P1"))

	require.NoError(t, tr.Withdraw("P1", "alice"))
	rec, _ := tr.Get("P1")
	assert.Equal(t, StateWithdrawn, rec.State)
}

func TestUnknownProposal(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0, 0)

	assert.ErrorIs(t, tr.Reject("ghost", "bob"), ErrUnknownProposal)
	assert.ErrorIs(t, tr.Withdraw("ghost", "bob"), ErrUnknownProposal)
	assert.ErrorIs(t, tr.Fulfill("ghost", "bob"), ErrUnknownProposal)
}

func TestWithdrawAllFrom(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0, 0)

	require.NoError(t, tr.Open("P1", "alice", nil))
	require.NoError(t, tr.Open("P2", "bob", nil))
	require.NoError(t, tr.Open("P3", "alice", nil))

	ids := tr.WithdrawAllFrom("alice")
	assert.ElementsMatch(t, []string{"P1", "P3"}, ids)
	assert.Equal(t, 1, tr.OpenCount())
	assert.True(t, tr.IsOpen("P2"))

	rec, _ := tr.Get("P1")
	assert.Equal(t, StateWithdrawn, rec.State)
}

func TestOpenLRUEviction(t *testing.T) {
	t.Parallel()
	tr := NewTracker(3, 10)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Open(fmt.Sprintf("P%d", i), "alice", nil))
	}
	assert.Equal(t, 3, tr.OpenCount())

	// The two oldest were evicted and are now unknown, not terminal.
	assert.ErrorIs(t, tr.Reject("P0", "bob"), ErrUnknownProposal)
	assert.ErrorIs(t, tr.Reject("P1", "bob"), ErrUnknownProposal)

	// The survivors still transition normally.
	require.NoError(t, tr.Reject("P4", "bob"))
}

func TestClosedLRUEviction(t *testing.T) {
	t.Parallel()
	tr := NewTracker(10, 2)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("P%d", i)
		require.NoError(t, tr.Open(id, "alice", nil))
		require.NoError(t, tr.Fulfill(id, "bob"))
	}

	// Evicted closed records are forgotten entirely.
	_, ok := tr.Get("P0")
	assert.False(t, ok)
	assert.ErrorIs(t, tr.Reject("P0", "bob"), ErrUnknownProposal)

	_, ok = tr.Get("P3")
	assert.True(t, ok)
}
