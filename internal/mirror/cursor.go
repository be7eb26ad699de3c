// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

// Cursor tracks the server-assigned response ID of the last fully applied
// delta. A zero-valued Cursor means no delta has been applied yet and the next
// poll must request a full snapshot.
type Cursor struct {
	rid   int64
	valid bool
}

// Rid returns the current response ID and whether one is held. When ok is
// false the rid must not be sent to the server.
func (c *Cursor) Rid() (rid int64, ok bool) {
	return c.rid, c.valid
}

// Advance records the response ID of a delta that has been applied in full.
// Advancing with a rid the server chose to reuse is fine; the server owns the
// numbering and the client never interprets it beyond echoing it back.
func (c *Cursor) Advance(rid int64) {
	c.rid = rid
	c.valid = true
}

// Reset clears the cursor so the next poll requests a full snapshot. Called
// when the session is lost or credentials change.
func (c *Cursor) Reset() {
	c.rid = 0
	c.valid = false
}
