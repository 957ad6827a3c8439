// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package envelope

import "fmt"

// Class identifies the protocol error category surfaced to participants in
// system/error payloads.
type Class string

// Protocol error classes raised by the gateway.
const (
	// ClassInvalidEnvelope is returned on structural parse failure or an unknown kind.
	ClassInvalidEnvelope Class = "invalid_envelope"
	// ClassPayloadTooLarge is returned when an envelope exceeds the size ceiling.
	ClassPayloadTooLarge Class = "payload_too_large"
	// ClassIdentityMismatch is returned when from does not equal the authenticated id.
	ClassIdentityMismatch Class = "identity_mismatch"
	// ClassSystemNamespaceViolation is returned when a participant attempts a system/* kind.
	ClassSystemNamespaceViolation Class = "system_namespace_violation"
	// ClassCapabilityViolation is returned when no capability matched the envelope.
	ClassCapabilityViolation Class = "capability_violation"
	// ClassDelegationViolation is returned when a granter lacked the capability it tried to grant.
	ClassDelegationViolation Class = "delegation_violation"
	// ClassBackpressureDisconnect is recorded when an outbound queue overflows.
	ClassBackpressureDisconnect Class = "backpressure_disconnect"
	// ClassAuthFailure is returned when a token is unknown or bound to another space.
	ClassAuthFailure Class = "auth_failure"
	// ClassInternalError is returned on unexpected internal failure.
	ClassInternalError Class = "internal_error"
)

// ProtocolError is an error with a protocol-visible class. The gateway maps
// it onto a system/error envelope addressed to the responsible participant.
type ProtocolError struct {
	// Class is the error category surfaced on the wire.
	Class Class
	// Message is a human-readable description.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a protocol error of the given class.
func NewProtocolError(class Class, message string, cause error) *ProtocolError {
	return &ProtocolError{
		Class:   class,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates a protocol error with a formatted message.
func Errorf(class Class, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
	}
}
