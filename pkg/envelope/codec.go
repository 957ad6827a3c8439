// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMaxBytes is the default envelope size ceiling (1 MiB).
const DefaultMaxBytes = 1 << 20

// Codec parses inbound frames into envelopes and serialises outbound ones.
// The zero value is not usable; construct with NewCodec.
type Codec struct {
	maxBytes int
}

// NewCodec returns a codec enforcing the given size ceiling.
// A non-positive maxBytes falls back to DefaultMaxBytes.
func NewCodec(maxBytes int) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{maxBytes: maxBytes}
}

// MaxBytes returns the configured envelope size ceiling.
func (c *Codec) MaxBytes() int {
	return c.maxBytes
}

// Parse decodes one text frame into an envelope and validates its structure.
// Failures are returned as *ProtocolError so the caller can surface the
// class on the wire; the connection stays open in all cases.
func (c *Codec) Parse(frame []byte) (*Envelope, *ProtocolError) {
	if len(frame) > c.maxBytes {
		return nil, Errorf(ClassPayloadTooLarge,
			"envelope is %d bytes, ceiling is %d", len(frame), c.maxBytes)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, NewProtocolError(ClassInvalidEnvelope, "malformed JSON", err)
	}

	if err := Validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Marshal serialises an envelope to a text frame.
func (c *Codec) Marshal(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
	}
	return data, nil
}

// Validate checks the structural invariants of a parsed envelope.
func Validate(env *Envelope) *ProtocolError {
	switch {
	case env.Protocol == "":
		return Errorf(ClassInvalidEnvelope, "missing protocol field")
	case env.Protocol != Protocol:
		return Errorf(ClassInvalidEnvelope, "unsupported protocol %q, want %q", env.Protocol, Protocol)
	case env.ID == "":
		return Errorf(ClassInvalidEnvelope, "missing id field")
	case env.TS == "":
		return Errorf(ClassInvalidEnvelope, "missing ts field")
	case env.Kind == "":
		return Errorf(ClassInvalidEnvelope, "missing kind field")
	}

	if !KnownKind(env.Kind) {
		return Errorf(ClassInvalidEnvelope, "unknown kind %q", env.Kind)
	}

	for i, to := range env.To {
		if to == "" {
			return Errorf(ClassInvalidEnvelope, "to[%d] is empty", i)
		}
	}

	if len(env.Payload) == 0 {
		return Errorf(ClassInvalidEnvelope, "missing payload field")
	}
	if !isJSONObject(env.Payload) {
		return Errorf(ClassInvalidEnvelope, "payload must be a JSON object")
	}

	return nil
}

// isJSONObject reports whether raw starts with an object open brace after
// leading whitespace. json.Unmarshal has already proven raw is valid JSON.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
