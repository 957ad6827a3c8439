// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package gateway

import (
	"errors"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/audit"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/capabilities"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/patterns"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/proposals"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/space"
)

// handleFrame is the entry point for every inbound frame: codec first, then
// the routing pipeline. Structural rejects keep the connection open.
func (g *Gateway) handleFrame(c *connection, frame []byte) {
	env, perr := g.codec.Parse(frame)
	if perr != nil {
		// Best-effort correlation: the id may be recoverable even from an
		// envelope that failed validation.
		g.rejectFrame(c, gjson.GetBytes(frame, "id").String(), "", perr)
		return
	}
	g.route(c, env)
}

// rejectFrame surfaces a protocol error to the sender without routing.
func (g *Gateway) rejectFrame(c *connection, offendingID, attemptedKind string, perr *envelope.ProtocolError) {
	g.metrics.EnvelopesRejected.WithLabelValues(string(perr.Class)).Inc()
	logger.Debugw("envelope rejected",
		"participant", c.id, "class", perr.Class, "detail", perr.Message)

	errEnv := envelope.NewSystemError(c.id, offendingID, envelope.ErrorPayload{
		Error:         string(perr.Class),
		Message:       perr.Message,
		AttemptedKind: attemptedKind,
	})
	g.sendSystem(c, errEnv)
}

// route runs the routing pipeline for one accepted envelope. The pipeline
// order is fixed: identity, system-namespace guard, capability decision,
// side-effect hooks, fan-out, audit.
func (g *Gateway) route(c *connection, env *envelope.Envelope) {
	// 1. Identity binding. An absent from is filled in; a mismatching one is
	// rejected so a participant can never speak as someone else.
	if env.From == "" {
		env.From = c.id
	} else if env.From != c.id {
		g.rejectFrame(c, env.ID, env.Kind, envelope.Errorf(envelope.ClassIdentityMismatch,
			"from %q does not match authenticated identity %q", env.From, c.id))
		return
	}

	// Optional participant heartbeats are absorbed: liveness is refreshed on
	// every inbound frame, so there is nothing to route.
	if env.Kind == envelope.KindSystemHeartbeat {
		logger.Debugw("heartbeat", "participant", c.id)
		return
	}

	// 2. The system namespace otherwise belongs to the gateway alone.
	if envelope.IsSystemKind(env.Kind) {
		g.rejectFrame(c, env.ID, env.Kind, envelope.Errorf(envelope.ClassSystemNamespaceViolation,
			"participants cannot send %s kinds", envelope.SystemPrefix+"*"))
		return
	}

	frame, err := g.codec.Marshal(env)
	if err != nil {
		logger.Errorw("failed to re-marshal envelope", "envelope", env.ID, "error", err)
		g.disconnect(c, websocket.CloseInternalServerErr, "internal error", true)
		return
	}
	doc := patterns.NewDoc(frame)

	g.mu.Lock()

	// 3. Capability decision. Every outbound envelope passes through here;
	// there are no shortcuts around the chokepoint.
	decision := g.registry.Check(c.id, doc)
	if !decision.Allowed {
		auditErr := errors.Join(
			g.auditor.Decision(env.ID, c.id, audit.ResultDenied, env.Kind, decision.DeniedBy),
			g.auditor.Denied(env),
		)
		kinds := g.registry.Kinds(c.id)
		g.mu.Unlock()

		g.metrics.EnvelopesDenied.Inc()
		if auditErr != nil {
			g.auditFailure(c, auditErr)
			return
		}
		g.sendSystem(c, envelope.NewSystemError(c.id, env.ID, envelope.ErrorPayload{
			Error:         string(envelope.ClassCapabilityViolation),
			AttemptedKind: env.Kind,
			Capabilities:  kinds,
		}))
		return
	}

	if err := g.auditor.Decision(env.ID, c.id, audit.ResultAllowed, "", decision.MatchedID); err != nil {
		g.mu.Unlock()
		g.auditFailure(c, err)
		return
	}

	// 4. Side-effect hooks, all before fan-out.
	ack, kickTarget, perr := g.applySideEffects(env)
	if perr != nil {
		g.mu.Unlock()
		g.rejectFrame(c, env.ID, env.Kind, perr)
		return
	}

	// 5. Fan-out. The sender never receives its own envelope back.
	delivered, missing, overflowed := g.fanOut(c, env, frame)
	g.recent.add(env.ID)

	// 6. Audit, before any response leaves the gateway.
	auditErr := g.auditor.Delivered(env, delivered)
	if len(missing) > 0 {
		auditErr = errors.Join(auditErr, g.auditor.Undeliverable(env, missing))
	}
	g.mu.Unlock()

	if auditErr != nil {
		g.auditFailure(c, auditErr)
		return
	}
	g.metrics.EnvelopesRouted.WithLabelValues(env.Kind).Inc()

	for _, slow := range overflowed {
		g.overflow(slow)
	}
	if ack != nil {
		g.sendSystem(c, ack)
	}
	if kickTarget != nil {
		g.disconnect(kickTarget, websocket.CloseNormalClosure, "kicked from space", true)
	}
}

// fanOut delivers the frame. Must be called with the router lock held.
func (g *Gateway) fanOut(sender *connection, env *envelope.Envelope, frame []byte) (delivered, missing []string, overflowed []*connection) {
	if env.IsBroadcast() {
		for id, conn := range g.conns {
			if id == sender.id {
				continue
			}
			// Directed participants opt out of application broadcasts; they
			// still receive gateway presence traffic.
			if conn.routing == space.RoutingDirected {
				continue
			}
			if conn.enqueue(frame) {
				delivered = append(delivered, id)
			} else {
				overflowed = append(overflowed, conn)
			}
		}
		return delivered, nil, overflowed
	}

	for _, id := range env.To {
		if id == sender.id {
			continue
		}
		conn, ok := g.conns[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if conn.enqueue(frame) {
			delivered = append(delivered, id)
		} else {
			overflowed = append(overflowed, conn)
		}
	}
	return delivered, missing, overflowed
}

// applySideEffects runs the pre-fan-out hooks for kinds the gateway tracks.
// Must be called with the router lock held. A returned protocol error stops
// the envelope from being forwarded.
func (g *Gateway) applySideEffects(env *envelope.Envelope) (ack *envelope.Envelope, kick *connection, perr *envelope.ProtocolError) {
	switch env.Kind {
	case envelope.KindMCPProposal:
		if err := g.tracker.Open(env.ID, env.From, env.To); err != nil {
			logger.Debugw("proposal reopen ignored", "proposal", env.ID, "error", err)
		}

	case envelope.KindMCPWithdraw:
		return nil, nil, g.resolveProposal(env, proposals.StateWithdrawn)

	case envelope.KindMCPReject:
		return nil, nil, g.resolveProposal(env, proposals.StateRejected)

	case envelope.KindMCPRequest:
		// A request correlated to an open proposal fulfills it: the sender
		// has just passed the capability check the proposal was asking for.
		for _, cid := range env.CorrelationID {
			if g.tracker.IsOpen(cid) {
				if err := g.tracker.Fulfill(cid, env.From); err != nil {
					logger.Debugw("proposal fulfillment ignored", "proposal", cid, "error", err)
				}
			}
		}

	case envelope.KindMCPResponse:
		if len(env.CorrelationID) == 0 {
			return nil, nil, envelope.Errorf(envelope.ClassInvalidEnvelope,
				"mcp/response requires correlation_id")
		}
		if !g.anyRecent(env.CorrelationID) {
			// The request may have been evicted long ago; the response is
			// still passed through.
			logger.Debugw("uncorrelated response",
				"envelope", env.ID, "correlates", env.CorrelationID)
		}

	case envelope.KindCapabilityGrant:
		return g.applyGrant(env)

	case envelope.KindCapabilityRevoke:
		return nil, nil, g.applyRevoke(env)

	case envelope.KindSpaceKick:
		var payload capabilities.KickPayload
		if err := env.DecodePayload(&payload); err != nil || payload.Participant == "" {
			return nil, nil, envelope.Errorf(envelope.ClassInvalidEnvelope,
				"space/kick requires a participant field")
		}
		if target, ok := g.conns[payload.Participant]; ok {
			kick = target
		}
	}
	return ack, kick, nil
}

// resolveProposal applies a withdraw or reject transition. Must be called
// with the router lock held.
func (g *Gateway) resolveProposal(env *envelope.Envelope, to proposals.State) *envelope.ProtocolError {
	if len(env.CorrelationID) == 0 {
		return envelope.Errorf(envelope.ClassInvalidEnvelope,
			"%s requires correlation_id referencing a proposal", env.Kind)
	}
	id := env.CorrelationID[0]

	var err error
	if to == proposals.StateWithdrawn {
		err = g.tracker.Withdraw(id, env.From)
	} else {
		err = g.tracker.Reject(id, env.From)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, proposals.ErrNotProposer):
		return envelope.Errorf(envelope.ClassInvalidEnvelope,
			"only the proposer may withdraw proposal %s", id)
	default:
		// Unknown or already terminal: the transition has no effect but the
		// envelope still flows, per the tracker's eviction contract.
		logger.Debugw("proposal transition without effect",
			"proposal", id, "kind", env.Kind, "error", err)
		return nil
	}
}

// applyGrant validates and applies a capability/grant. Must be called with
// the router lock held.
func (g *Gateway) applyGrant(env *envelope.Envelope) (*envelope.Envelope, *connection, *envelope.ProtocolError) {
	var payload capabilities.GrantPayload
	if err := env.DecodePayload(&payload); err != nil || payload.Recipient == "" || len(payload.Capabilities) == 0 {
		return nil, nil, envelope.Errorf(envelope.ClassInvalidEnvelope,
			"capability/grant requires recipient and capabilities")
	}

	added, perr := g.registry.Grant(env.From, payload.Recipient, payload.Capabilities)
	if perr != nil {
		return nil, nil, perr
	}

	ack, _ := envelope.New(envelope.KindCapabilityGrantAck, capabilities.GrantAckPayload{
		Recipient: payload.Recipient,
		GrantID:   payload.GrantID,
		Added:     added,
	})
	ack.From = envelope.GatewayParticipant
	ack.To = []string{env.From}
	ack.CorrelationID = []string{env.ID}
	return ack, nil, nil
}

// applyRevoke validates and applies a capability/revoke. Must be called with
// the router lock held.
func (g *Gateway) applyRevoke(env *envelope.Envelope) *envelope.ProtocolError {
	var payload capabilities.RevokePayload
	if err := env.DecodePayload(&payload); err != nil || payload.Recipient == "" {
		return envelope.Errorf(envelope.ClassInvalidEnvelope,
			"capability/revoke requires a recipient")
	}
	if payload.GrantID == "" && len(payload.Capabilities) == 0 {
		return envelope.Errorf(envelope.ClassInvalidEnvelope,
			"capability/revoke requires grant_id or capabilities")
	}

	removed, perr := g.registry.Revoke(payload.Recipient, payload.GrantID, payload.Capabilities)
	if perr != nil {
		return perr
	}
	if removed == 0 {
		logger.Debugw("revoke matched no capabilities",
			"recipient", payload.Recipient, "grant_id", payload.GrantID)
	}
	return nil
}

func (g *Gateway) anyRecent(ids []string) bool {
	for _, id := range ids {
		if g.recent.contains(id) {
			return true
		}
	}
	return false
}

// auditFailure closes a connection after an audit write failed: routing an
// envelope that cannot be logged would break the audit contract.
func (g *Gateway) auditFailure(c *connection, err error) {
	logger.Errorw("audit write failed", "participant", c.id, "error", err)
	g.disconnect(c, websocket.CloseInternalServerErr, "internal error", true)
}
