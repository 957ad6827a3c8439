// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package gateway

// recentSet remembers the ids of recently routed envelopes so responses to
// long-forgotten requests can be spotted and logged as uncorrelated. It is a
// FIFO ring over a membership map; the router's lock serialises access.
type recentSet struct {
	max   int
	ring  []string
	next  int
	known map[string]struct{}
}

func newRecentSet(max int) *recentSet {
	return &recentSet{
		max:   max,
		ring:  make([]string, 0, max),
		known: make(map[string]struct{}, max),
	}
}

func (s *recentSet) add(id string) {
	if _, ok := s.known[id]; ok {
		return
	}
	if len(s.ring) < s.max {
		s.ring = append(s.ring, id)
	} else {
		delete(s.known, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % s.max
	}
	s.known[id] = struct{}{}
}

func (s *recentSet) contains(id string) bool {
	_, ok := s.known[id]
	return ok
}
