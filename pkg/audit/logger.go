// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package audit writes the gateway's two append-only JSONL streams:
// envelope-history.jsonl, one record per envelope accepted into the routing
// pipeline with its delivery outcome, and capability-decisions.jsonl, one
// record per allow/deny decision.
//
// Writes are synchronous and happen before the corresponding frame leaves
// the gateway, so a crash never leaves a delivered envelope unlogged.
// Size-triggered rotation is policy, not correctness: a rotated-out file is
// renamed with a timestamp suffix and a fresh stream is opened.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/envelope"
)

// Stream file names inside the audit directory.
const (
	HistoryFile   = "envelope-history.jsonl"
	DecisionsFile = "capability-decisions.jsonl"
)

// DefaultMaxBytes is the default rotation threshold per stream (100 MiB).
const DefaultMaxBytes int64 = 100 << 20

// Logger owns the two audit streams. Safe for concurrent use; every write
// is serialised and flushed before the method returns.
type Logger struct {
	mu        sync.Mutex
	history   *stream
	decisions *stream
	now       func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxBytes overrides the per-stream rotation threshold.
func WithMaxBytes(n int64) Option {
	return func(l *Logger) {
		l.history.maxBytes = n
		l.decisions.maxBytes = n
	}
}

// WithClock overrides the timestamp source. For tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New opens (or creates) the audit streams under dir.
func New(dir string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	history, err := openStream(filepath.Join(dir, HistoryFile))
	if err != nil {
		return nil, err
	}
	decisions, err := openStream(filepath.Join(dir, DecisionsFile))
	if err != nil {
		history.close()
		return nil, err
	}

	l := &Logger{
		history:   history,
		decisions: decisions,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Delivered records an envelope forwarded to the given recipients.
func (l *Logger) Delivered(env *envelope.Envelope, recipients []string) error {
	return l.writeHistory(HistoryRecord{
		Event:        EventDelivered,
		Envelope:     summarize(env),
		Participants: recipients,
	})
}

// Denied records an envelope the capability check refused.
func (l *Logger) Denied(env *envelope.Envelope) error {
	return l.writeHistory(HistoryRecord{
		Event:    EventDenied,
		Envelope: summarize(env),
	})
}

// Undeliverable records named recipients that were not connected when the
// envelope was routed.
func (l *Logger) Undeliverable(env *envelope.Envelope, missing []string) error {
	return l.writeHistory(HistoryRecord{
		Event:        EventUndeliverable,
		Envelope:     summarize(env),
		Participants: missing,
	})
}

// Decision records one capability check outcome.
func (l *Logger) Decision(envelopeID, participant, result, requiredCapability, matchedID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decisions.append(DecisionRecord{
		EnvelopeID:          envelopeID,
		Participant:         participant,
		Result:              result,
		RequiredCapability:  requiredCapability,
		MatchedCapabilityID: matchedID,
		TS:                  l.now(),
	})
}

// Close flushes and closes both streams.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	herr := l.history.close()
	derr := l.decisions.close()
	if herr != nil {
		return herr
	}
	return derr
}

func (l *Logger) writeHistory(rec HistoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.TS = l.now()
	if rec.Participants == nil {
		rec.Participants = []string{}
	}
	return l.history.append(rec)
}

// stream is one append-only JSONL file with size-triggered rotation.
type stream struct {
	path     string
	file     *os.File
	size     int64
	maxBytes int64
}

func openStream(path string) (*stream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit stream %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat audit stream %s: %w", path, err)
	}
	return &stream{
		path:     path,
		file:     f,
		size:     info.Size(),
		maxBytes: DefaultMaxBytes,
	}, nil
}

func (s *stream) append(record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	line = append(line, '\n')

	if s.size > 0 && s.size+int64(len(line)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

func (s *stream) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s for rotation: %w", s.path, err)
	}
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate %s: %w", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to reopen %s after rotation: %w", s.path, err)
	}
	s.file = f
	s.size = 0
	return nil
}

func (s *stream) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
