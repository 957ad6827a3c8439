// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package envelope

// Protocol is the wire tag carried by every envelope.
const Protocol = "mew/v0.4"

// Message kinds recognised by the gateway. The set is closed: envelopes
// carrying any other kind are rejected as invalid.
const (
	// KindMCPRequest invokes a method on one or more participants.
	KindMCPRequest = "mcp/request"
	// KindMCPResponse replies to a request and must carry a correlation_id.
	KindMCPResponse = "mcp/response"
	// KindMCPProposal asks a more-privileged participant to execute an
	// operation on the sender's behalf.
	KindMCPProposal = "mcp/proposal"
	// KindMCPWithdraw cancels an earlier proposal authored by the same participant.
	KindMCPWithdraw = "mcp/withdraw"
	// KindMCPReject refuses a proposal.
	KindMCPReject = "mcp/reject"

	// KindReasoningStart opens a transparent reasoning stream.
	KindReasoningStart = "reasoning/start"
	// KindReasoningThought carries one step of a reasoning stream.
	KindReasoningThought = "reasoning/thought"
	// KindReasoningConclusion closes a reasoning stream.
	KindReasoningConclusion = "reasoning/conclusion"

	// KindChat is free-form text for humans.
	KindChat = "chat"

	// KindCapabilityGrant adds capabilities to another participant.
	KindCapabilityGrant = "capability/grant"
	// KindCapabilityRevoke removes capabilities from another participant.
	KindCapabilityRevoke = "capability/revoke"
	// KindCapabilityGrantAck acknowledges an applied grant.
	KindCapabilityGrantAck = "capability/grant-ack"

	// KindSpaceInvite announces an invitation to the space.
	KindSpaceInvite = "space/invite"
	// KindSpaceKick removes a participant from the space.
	KindSpaceKick = "space/kick"

	// KindSystemWelcome greets a newly joined participant. Gateway-originated only.
	KindSystemWelcome = "system/welcome"
	// KindSystemPresence announces joins and leaves. Gateway-originated only.
	KindSystemPresence = "system/presence"
	// KindSystemError reports a protocol error to a participant. Gateway-originated only.
	KindSystemError = "system/error"
	// KindSystemHeartbeat is an optional liveness signal participants may
	// send. The gateway absorbs it; WS ping/pong is the real heartbeat.
	KindSystemHeartbeat = "system/heartbeat"
)

// SystemPrefix is the kind namespace reserved for the gateway.
const SystemPrefix = "system/"

var knownKinds = map[string]struct{}{
	KindMCPRequest:          {},
	KindMCPResponse:         {},
	KindMCPProposal:         {},
	KindMCPWithdraw:         {},
	KindMCPReject:           {},
	KindReasoningStart:      {},
	KindReasoningThought:    {},
	KindReasoningConclusion: {},
	KindChat:                {},
	KindCapabilityGrant:     {},
	KindCapabilityRevoke:    {},
	KindCapabilityGrantAck:  {},
	KindSpaceInvite:         {},
	KindSpaceKick:           {},
	KindSystemWelcome:       {},
	KindSystemPresence:      {},
	KindSystemError:         {},
	KindSystemHeartbeat:     {},
}

// KnownKind reports whether kind belongs to the closed set the gateway routes.
func KnownKind(kind string) bool {
	_, ok := knownKinds[kind]
	return ok
}

// IsSystemKind reports whether kind lives in the reserved system namespace.
func IsSystemKind(kind string) bool {
	return len(kind) >= len(SystemPrefix) && kind[:len(SystemPrefix)] == SystemPrefix
}
