// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import "github.com/qbmirror/qbmirror/internal/qbt"

// Selection tracks the hashes the user has marked for bulk operations. The
// owning session keeps it consistent with the derived view: a hash that is no
// longer visible must not stay selected, so bulk actions never touch torrents
// the user cannot see.
type Selection struct {
	hashes map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{hashes: make(map[string]struct{})}
}

func (s *Selection) Contains(hash string) bool {
	_, ok := s.hashes[hash]
	return ok
}

func (s *Selection) Len() int {
	return len(s.hashes)
}

// Hashes returns the selected identifiers in unspecified order.
func (s *Selection) Hashes() []string {
	out := make([]string, 0, len(s.hashes))
	for hash := range s.hashes {
		out = append(out, hash)
	}
	return out
}

func (s *Selection) Toggle(hash string) {
	if _, ok := s.hashes[hash]; ok {
		delete(s.hashes, hash)
		return
	}
	s.hashes[hash] = struct{}{}
}

// SelectAll replaces the selection with exactly the torrents of the given
// view.
func (s *Selection) SelectAll(view []qbt.Torrent) {
	s.hashes = make(map[string]struct{}, len(view))
	for _, t := range view {
		s.hashes[t.Hash] = struct{}{}
	}
}

func (s *Selection) Clear() {
	s.hashes = make(map[string]struct{})
}

// Prune drops every selected hash that is absent from the view. Hashes still
// visible stay selected. Returns true when anything was dropped.
func (s *Selection) Prune(view []qbt.Torrent) bool {
	visible := VisibleHashes(view)
	pruned := false
	for hash := range s.hashes {
		if _, ok := visible[hash]; !ok {
			delete(s.hashes, hash)
			pruned = true
		}
	}
	return pruned
}
