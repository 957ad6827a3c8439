// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package envelope defines the MEW wire format: the envelope schema, the
// closed set of message kinds, protocol error classes, and the codec that
// turns WebSocket text frames into validated envelopes and back.
//
// The payload is kept as an opaque JSON subtree; interpreting it is the job
// of the capability pattern matcher and of participants, not the codec.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is one message on the wire.
type Envelope struct {
	// Protocol is the fixed protocol version tag.
	Protocol string `json:"protocol"`
	// ID is the globally unique message identifier.
	ID string `json:"id"`
	// TS is the RFC3339 timestamp set by the sender and echoed unmodified.
	TS string `json:"ts"`
	// From is the participant identifier. The gateway binds it to the
	// authenticated identity of the sending connection.
	From string `json:"from"`
	// To is the explicit recipient list. Empty means broadcast.
	To []string `json:"to,omitempty"`
	// Kind is the message type.
	Kind string `json:"kind"`
	// CorrelationID lists envelope ids this message references.
	CorrelationID []string `json:"correlation_id,omitempty"`
	// Context is a path-like grouping key tying reasoning streams together.
	Context string `json:"context,omitempty"`
	// Payload is the kind-specific body, kept opaque at this layer.
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope of the given kind with a fresh id and timestamp.
// The payload must marshal to a JSON object.
func New(kind string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Protocol: Protocol,
		ID:       uuid.New().String(),
		TS:       time.Now().UTC().Format(time.RFC3339),
		Kind:     kind,
		Payload:  raw,
	}, nil
}

// IsBroadcast reports whether the envelope has no explicit recipients.
func (e *Envelope) IsBroadcast() bool {
	return len(e.To) == 0
}

// AddressedTo reports whether participant appears in the recipient list.
func (e *Envelope) AddressedTo(participant string) bool {
	for _, to := range e.To {
		if to == participant {
			return true
		}
	}
	return false
}

// Correlates reports whether the envelope references the given id.
func (e *Envelope) Correlates(id string) bool {
	for _, c := range e.CorrelationID {
		if c == id {
			return true
		}
	}
	return false
}

// PayloadMap decodes the payload into a generic map. Returns nil on any
// decode failure; a malformed payload is a shape mismatch, not an error.
func (e *Envelope) PayloadMap() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil
	}
	return m
}

// DecodePayload unmarshals the payload into out.
func (e *Envelope) DecodePayload(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// ErrorPayload is the body of a system/error envelope.
type ErrorPayload struct {
	Error         string   `json:"error"`
	Message       string   `json:"message,omitempty"`
	AttemptedKind string   `json:"attempted_kind,omitempty"`
	Capabilities  []string `json:"your_capabilities,omitempty"`
}

// PresencePayload is the body of a system/presence envelope.
type PresencePayload struct {
	Event       string `json:"event"`
	Participant string `json:"participant"`
}

// Presence event values.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// ParticipantInfo describes one participant in a system/welcome envelope.
type ParticipantInfo struct {
	ID           string            `json:"id"`
	Capabilities []json.RawMessage `json:"capabilities,omitempty"`
}

// WelcomePayload is the body of a system/welcome envelope.
type WelcomePayload struct {
	You          ParticipantInfo   `json:"you"`
	Participants []ParticipantInfo `json:"participants"`
}

// NewSystemError builds a system/error envelope addressed to the responsible
// participant, correlated to the offending envelope id when known.
func NewSystemError(to string, correlates string, payload ErrorPayload) *Envelope {
	env, _ := New(KindSystemError, payload)
	env.From = GatewayParticipant
	env.To = []string{to}
	if correlates != "" {
		env.CorrelationID = []string{correlates}
	}
	return env
}

// GatewayParticipant is the from identity used on gateway-originated envelopes.
const GatewayParticipant = "system:gateway"
