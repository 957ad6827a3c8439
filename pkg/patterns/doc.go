// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package patterns

import (
	"encoding/json"
	"hash/fnv"

	"github.com/tidwall/gjson"
)

// Doc is an envelope document prepared for matching. It is built once per
// inbound envelope and shared across every capability evaluation.
type Doc struct {
	raw        []byte // the full serialised envelope, for JSONPath keys
	kind       string
	payloadRaw []byte // the payload subtree, for cache hashing
	payload    any    // decoded payload subtree; nil when malformed
}

// NewDoc prepares a serialised envelope for matching. A missing or malformed
// payload is tolerated: payload patterns simply evaluate to false against it.
func NewDoc(serialized []byte) *Doc {
	d := &Doc{
		raw:  serialized,
		kind: gjson.GetBytes(serialized, "kind").String(),
	}

	payload := gjson.GetBytes(serialized, "payload")
	if payload.Exists() {
		d.payloadRaw = []byte(payload.Raw)
		var decoded any
		if err := json.Unmarshal(d.payloadRaw, &decoded); err == nil {
			d.payload = decoded
		}
	}
	return d
}

// Kind returns the envelope kind field.
func (d *Doc) Kind() string {
	return d.kind
}

// hash returns a cache key derived from the kind and payload bytes. Two
// envelopes with the same kind and payload are indistinguishable to any
// capability whose pattern does not use JSONPath keys.
func (d *Doc) hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(d.kind))
	h.Write([]byte{0})
	h.Write(d.payloadRaw)
	return h.Sum64()
}
