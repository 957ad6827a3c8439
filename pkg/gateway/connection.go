// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
)

// connection is one participant's WebSocket. Frames to deliver are queued on
// a bounded channel drained by the write pump; the read pump feeds inbound
// frames to the router.
type connection struct {
	id      string
	routing string
	ws      *websocket.Conn
	gw      *Gateway

	send        chan []byte
	queuedBytes atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id, routing string, ws *websocket.Conn, gw *Gateway) *connection {
	return &connection{
		id:      id,
		routing: routing,
		ws:      ws,
		gw:      gw,
		send:    make(chan []byte, gw.opts.QueueLength),
		done:    make(chan struct{}),
	}
}

// enqueue places a frame on the outbound queue. It reports false when either
// queue bound would be exceeded; the caller then disconnects the recipient.
func (c *connection) enqueue(frame []byte) bool {
	if c.queuedBytes.Load()+int64(len(frame)) > c.gw.opts.QueueBytes {
		return false
	}
	select {
	case c.send <- frame:
		c.queuedBytes.Add(int64(len(frame)))
		return true
	default:
		return false
	}
}

// shutdown sends a close frame and tears the socket down. Safe to call more
// than once; only the first call's code and reason reach the peer.
func (c *connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logger.Debugw("failed to write close frame",
				"participant", c.id, "code", code, "error", err)
		}
		c.ws.Close()
	})
}

// readPump reads frames until the socket dies and feeds them to the router.
// It owns the read side: deadlines, the read limit, and the pong handler.
func (c *connection) readPump() {
	defer c.gw.dropConnection(c, websocket.CloseNormalClosure, "")

	pongWait := 2 * c.gw.opts.HeartbeatInterval
	// Frames beyond the hard limit close the connection with 1009; envelopes
	// between the codec ceiling and the hard limit get payload_too_large
	// with the connection left open.
	c.ws.SetReadLimit(int64(4 * c.gw.codec.MaxBytes()))
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("connection read failed", "participant", c.id, "error", err)
			}
			return
		}
		// Any inbound frame proves liveness.
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.gw.handleFrame(c, frame)
	}
}

// writePump drains the outbound queue and keeps the heartbeat going.
func (c *connection) writePump() {
	ticker := time.NewTicker(c.gw.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.queuedBytes.Add(-int64(len(frame)))
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.gw.dropConnection(c, websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.gw.dropConnection(c, websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
