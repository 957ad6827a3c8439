// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package gateway

import "time"

// Defaults for gateway tuning knobs.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueLength       = 1000
	DefaultQueueBytes        = 16 << 20
	DefaultRecentIDs         = 100_000
	// writeTimeout is the maximum time to wait when writing a frame.
	writeTimeout = 10 * time.Second
)

// Options tunes a Gateway. The zero value takes every default.
type Options struct {
	// HeartbeatInterval is the WS ping cadence. A connection that misses
	// pongs for twice this interval is closed.
	HeartbeatInterval time.Duration
	// MaxEnvelopeBytes is the envelope size ceiling. Envelopes above it are
	// rejected with payload_too_large; frames above four times it close the
	// connection with 1009.
	MaxEnvelopeBytes int
	// QueueLength bounds each recipient's outbound queue in envelopes.
	QueueLength int
	// QueueBytes bounds each recipient's outbound queue in bytes.
	QueueBytes int64
	// MaxOpenProposals and MaxClosedProposals bound the proposal tracker.
	MaxOpenProposals   int
	MaxClosedProposals int
	// RecentIDs bounds the recently-observed envelope id set used to spot
	// uncorrelated responses.
	RecentIDs int
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.QueueLength <= 0 {
		o.QueueLength = DefaultQueueLength
	}
	if o.QueueBytes <= 0 {
		o.QueueBytes = DefaultQueueBytes
	}
	if o.RecentIDs <= 0 {
		o.RecentIDs = DefaultRecentIDs
	}
	// MaxEnvelopeBytes and the proposal bounds have their defaults applied
	// by the codec and tracker constructors.
}
