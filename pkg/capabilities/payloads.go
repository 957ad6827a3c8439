// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package capabilities

import "github.com/rjcorwin/mew-protocol-sub009/pkg/patterns"

// GrantPayload is the body of a capability/grant envelope.
type GrantPayload struct {
	// Recipient is the participant receiving the capabilities.
	Recipient string `json:"recipient"`
	// GrantID is an optional handle grouping this grant for audits.
	GrantID string `json:"grant_id,omitempty"`
	// Capabilities are the patterns being granted.
	Capabilities []patterns.Spec `json:"capabilities"`
}

// RevokePayload is the body of a capability/revoke envelope. Exactly one of
// GrantID or Capabilities selects what is removed: GrantID removes every
// capability whose id equals it, Capabilities removes structural matches.
type RevokePayload struct {
	Recipient    string          `json:"recipient"`
	GrantID      string          `json:"grant_id,omitempty"`
	Capabilities []patterns.Spec `json:"capabilities,omitempty"`
}

// GrantAckPayload is the body of the capability/grant-ack the gateway sends
// back to a granter once a grant has been applied.
type GrantAckPayload struct {
	Recipient string `json:"recipient"`
	GrantID   string `json:"grant_id,omitempty"`
	// Added is the number of capabilities actually appended; structural
	// duplicates of already-held capabilities do not count.
	Added int `json:"added"`
}

// KickPayload is the body of a space/kick envelope.
type KickPayload struct {
	Participant string `json:"participant"`
	Reason      string `json:"reason,omitempty"`
}
