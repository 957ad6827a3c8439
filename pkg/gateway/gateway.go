// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package gateway hosts a MEW space: it accepts and authenticates WebSocket
// connections, binds each to a participant identity, and routes envelopes
// between participants under capability enforcement.
//
// One goroutine per connection reads frames; a second drains that
// connection's bounded outbound queue. The routing pipeline itself is
// serialised by a single mutex that owns the connection table, the
// capability registry and the proposal tracker together, so every envelope
// observes a consistent snapshot of all three.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/audit"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/capabilities"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/patterns"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/proposals"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/space"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/telemetry"
)

// Close codes used on top of the standard WS set.
const (
	// CloseBackpressure is sent when a recipient's outbound queue overflows.
	CloseBackpressure = 1013
)

// Gateway is one running space.
type Gateway struct {
	opts     Options
	space    *space.Config
	codec    *envelope.Codec
	registry *capabilities.Registry
	tracker  *proposals.Tracker
	auditor  *audit.Logger
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader

	// mu serialises the routing pipeline: the connection table, registry
	// mutations and proposal transitions all change under it.
	mu     sync.Mutex
	conns  map[string]*connection
	recent *recentSet
	closed bool
}

// New creates a gateway for the given space. The audit logger is required;
// metrics may be nil when instrumentation is not wanted.
func New(cfg *space.Config, auditor *audit.Logger, metrics *telemetry.Metrics, opts Options) *Gateway {
	opts.withDefaults()
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Gateway{
		opts:     opts,
		space:    cfg,
		codec:    envelope.NewCodec(opts.MaxEnvelopeBytes),
		registry: capabilities.NewRegistry(),
		tracker:  proposals.NewTracker(opts.MaxOpenProposals, opts.MaxClosedProposals),
		auditor:  auditor,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway is token-authenticated; browser origins are not
			// part of the trust model.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[string]*connection),
		recent: newRecentSet(opts.RecentIDs),
	}
}

// Handler returns the HTTP surface: the WS upgrade plus a health probe.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", g.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return r
}

// handleWS runs the join flow: upgrade, authenticate, register, welcome,
// presence. Authentication failures close the socket with 1008 so clients
// see a protocol-level reason rather than a bare HTTP error.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	participant, reason := g.authenticate(r)
	if reason != "" {
		closeWith(ws, websocket.ClosePolicyViolation, reason)
		return
	}

	conn := newConnection(participant, g.space.RoutingFor(participant), ws, g)
	welcome, reason := g.register(conn)
	if reason != "" {
		closeWith(ws, websocket.ClosePolicyViolation, reason)
		return
	}

	logger.Infow("participant joined", "participant", participant, "space", g.space.Space.ID)
	g.metrics.ConnectedParticipants.Inc()

	go conn.writePump()
	g.sendSystem(conn, welcome)
	g.broadcastPresence(envelope.PresenceJoin, participant)
	conn.readPump()
}

// authenticate resolves the request to a participant id, or returns a close
// reason on failure.
func (g *Gateway) authenticate(r *http.Request) (string, string) {
	if spaceID := r.URL.Query().Get("space"); spaceID != g.space.Space.ID {
		return "", fmt.Sprintf("unknown space %q", spaceID)
	}

	token := bearerToken(r)
	participant, ok := g.space.Authenticate(token)
	if !ok {
		return "", "authentication failed"
	}
	return participant, ""
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, found := strings.CutPrefix(h, "Bearer "); found {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// register adds the connection to the space and builds its welcome envelope
// under the router lock, so the participant list it reports is consistent.
func (g *Gateway) register(c *connection) (*envelope.Envelope, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, "gateway shutting down"
	}
	if _, dup := g.conns[c.id]; dup {
		return nil, fmt.Sprintf("participant %q already connected", c.id)
	}

	if err := g.registry.Load(c.id, g.space.Participants[c.id].Capabilities); err != nil {
		// Space config is validated at load, so this is unexpected.
		logger.Errorw("failed to load capabilities", "participant", c.id, "error", err)
		return nil, "internal error"
	}
	g.conns[c.id] = c

	welcome := g.buildWelcome(c.id)
	return welcome, ""
}

// buildWelcome must be called with the router lock held.
func (g *Gateway) buildWelcome(joiner string) *envelope.Envelope {
	you := envelope.ParticipantInfo{
		ID:           joiner,
		Capabilities: marshalSpecs(g.registry.Snapshot(joiner)),
	}
	others := make([]envelope.ParticipantInfo, 0, len(g.conns))
	for id := range g.conns {
		if id == joiner {
			continue
		}
		others = append(others, envelope.ParticipantInfo{
			ID:           id,
			Capabilities: marshalSpecs(g.registry.Snapshot(id)),
		})
	}
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })

	env, _ := envelope.New(envelope.KindSystemWelcome, envelope.WelcomePayload{
		You:          you,
		Participants: others,
	})
	env.From = envelope.GatewayParticipant
	env.To = []string{joiner}
	return env
}

// dropConnection removes a connection after its socket failed or closed.
func (g *Gateway) dropConnection(c *connection, code int, reason string) {
	g.disconnect(c, code, reason, true)
}

// disconnect tears down a connection, withdraws its open proposals and
// announces the departure. Idempotent per connection.
func (g *Gateway) disconnect(c *connection, code int, reason string, announce bool) {
	g.mu.Lock()
	current, present := g.conns[c.id]
	if !present || current != c {
		g.mu.Unlock()
		c.shutdown(code, reason)
		return
	}
	delete(g.conns, c.id)
	g.registry.Remove(c.id)
	withdrawn := g.tracker.WithdrawAllFrom(c.id)
	g.mu.Unlock()

	c.shutdown(code, reason)
	g.metrics.ConnectedParticipants.Dec()
	if len(withdrawn) > 0 {
		logger.Debugw("withdrew open proposals on leave",
			"participant", c.id, "proposals", withdrawn)
	}
	logger.Infow("participant left", "participant", c.id, "reason", reason)

	if announce {
		g.broadcastPresence(envelope.PresenceLeave, c.id)
	}
}

// broadcastPresence tells every connected participant about a join or leave.
// Presence reaches directed participants too; it is gateway traffic, not
// application fan-out.
func (g *Gateway) broadcastPresence(event, participant string) {
	env, _ := envelope.New(envelope.KindSystemPresence, envelope.PresencePayload{
		Event:       event,
		Participant: participant,
	})
	env.From = envelope.GatewayParticipant

	frame, err := g.codec.Marshal(env)
	if err != nil {
		logger.Errorw("failed to marshal presence", "error", err)
		return
	}

	g.mu.Lock()
	targets := make([]*connection, 0, len(g.conns))
	for id, conn := range g.conns {
		if id == participant {
			continue
		}
		targets = append(targets, conn)
	}
	g.mu.Unlock()

	delivered := make([]string, 0, len(targets))
	for _, conn := range targets {
		if conn.enqueue(frame) {
			delivered = append(delivered, conn.id)
		}
	}
	if err := g.auditor.Delivered(env, delivered); err != nil {
		logger.Errorw("failed to audit presence", "error", err)
	}
}

// sendSystem delivers a gateway-originated envelope to one participant and
// records it in the envelope history. System envelopes bypass capability
// checks and are never logged under capability decisions.
func (g *Gateway) sendSystem(c *connection, env *envelope.Envelope) {
	frame, err := g.codec.Marshal(env)
	if err != nil {
		logger.Errorw("failed to marshal system envelope", "kind", env.Kind, "error", err)
		return
	}
	if !c.enqueue(frame) {
		g.overflow(c)
		return
	}
	if err := g.auditor.Delivered(env, []string{c.id}); err != nil {
		logger.Errorw("failed to audit system envelope", "error", err)
	}
}

// overflow handles an outbound queue overflow: the slow recipient is closed
// with 1013 so it cannot stall senders.
func (g *Gateway) overflow(c *connection) {
	g.metrics.QueueOverflows.Inc()
	logger.Warnw("outbound queue overflow", "participant", c.id)
	go g.disconnect(c, CloseBackpressure, "outbound queue overflow", true)
}

// Shutdown closes every connection with a normal close and stops accepting
// new ones. The audit logger is left to the caller to close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.conns = make(map[string]*connection)
	g.mu.Unlock()

	for _, c := range conns {
		g.registry.Remove(c.id)
		c.shutdown(websocket.CloseNormalClosure, "gateway shutting down")
		g.metrics.ConnectedParticipants.Dec()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(writeTimeout)
	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logger.Debugw("failed to write close frame", "error", err)
	}
	ws.Close()
}

func marshalSpecs(specs []patterns.Spec) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(specs))
	for _, s := range specs {
		if data, err := json.Marshal(s); err == nil {
			out = append(out, data)
		}
	}
	return out
}
