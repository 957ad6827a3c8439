// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package proposals

import "container/list"

// lruMap is an insertion-bounded map from proposal id to record. When the
// bound is exceeded the least recently touched record is evicted; evicted
// proposals are simply forgotten, per the tracker's memory contract.
type lruMap struct {
	max   int
	order *list.List // front = most recently touched
	items map[string]*list.Element
}

type lruEntry struct {
	id  string
	rec *Record
}

func newLRUMap(max int) *lruMap {
	return &lruMap{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *lruMap) get(id string) (*Record, bool) {
	el, ok := m.items[id]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*lruEntry).rec, true
}

func (m *lruMap) put(id string, rec *Record) {
	if el, ok := m.items[id]; ok {
		el.Value.(*lruEntry).rec = rec
		m.order.MoveToFront(el)
		return
	}
	m.items[id] = m.order.PushFront(&lruEntry{id: id, rec: rec})
	for m.order.Len() > m.max {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*lruEntry).id)
	}
}

func (m *lruMap) remove(id string) {
	if el, ok := m.items[id]; ok {
		m.order.Remove(el)
		delete(m.items, id)
	}
}

func (m *lruMap) len() int {
	return m.order.Len()
}

// each visits every record, most recently touched first.
func (m *lruMap) each(fn func(*Record)) {
	for el := m.order.Front(); el != nil; el = el.Next() {
		fn(el.Value.(*lruEntry).rec)
	}
}
