// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package audit

import (
	"time"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
)

// Envelope-history event types.
const (
	// EventDelivered records an envelope forwarded to its recipients.
	EventDelivered = "delivered"
	// EventDenied records an envelope the capability check refused.
	EventDenied = "denied"
	// EventUndeliverable records named recipients that were not connected.
	EventUndeliverable = "undeliverable"
)

// Capability-decision results.
const (
	// ResultAllowed records a capability check that passed.
	ResultAllowed = "allowed"
	// ResultDenied records a capability check that failed.
	ResultDenied = "denied"
)

// EnvelopeSummary is the envelope digest embedded in history records. The
// payload is deliberately omitted: history answers who sent what kind where,
// not what it said.
type EnvelopeSummary struct {
	ID            string   `json:"id"`
	From          string   `json:"from"`
	To            []string `json:"to,omitempty"`
	Kind          string   `json:"kind"`
	CorrelationID []string `json:"correlation_id,omitempty"`
}

// HistoryRecord is one line of envelope-history.jsonl.
type HistoryRecord struct {
	Event        string          `json:"event"`
	Envelope     EnvelopeSummary `json:"envelope"`
	Participants []string        `json:"participants"`
	TS           time.Time       `json:"ts"`
}

// DecisionRecord is one line of capability-decisions.jsonl.
type DecisionRecord struct {
	EnvelopeID          string    `json:"envelope_id"`
	Participant         string    `json:"participant"`
	Result              string    `json:"result"`
	RequiredCapability  string    `json:"required_capability,omitempty"`
	MatchedCapabilityID string    `json:"matched_capability_id,omitempty"`
	TS                  time.Time `json:"ts"`
}

// summarize digests an envelope for a history record.
func summarize(env *envelope.Envelope) EnvelopeSummary {
	return EnvelopeSummary{
		ID:            env.ID,
		From:          env.From,
		To:            env.To,
		Kind:          env.Kind,
		CorrelationID: env.CorrelationID,
	}
}
