// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

// Session is the single owner of the sync cursor, the state mirror, the
// selection set and the active filter/search pair. The poller writes through
// ApplyDelta and Reset; API consumers read derived snapshots and adjust
// filter, search and selection. All methods are safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	cursor    Cursor
	state     State
	selection *Selection
	filter    string
	search    string
	view      []qbt.Torrent
}

func NewSession() *Session {
	return &Session{
		state:     NewState(),
		selection: NewSelection(),
		filter:    FilterAll,
		view:      []qbt.Torrent{},
	}
}

// Rid exposes the cursor for the next poll. ok is false when the next poll
// must request a full snapshot.
func (s *Session) Rid() (rid int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor.Rid()
}

// ApplyDelta reconciles one delta envelope into the mirror, recomputes the
// derived view, prunes the selection and only then advances the cursor. The
// ordering matters: if anything in here failed the cursor would still point
// at the last fully applied delta.
func (s *Session) ApplyDelta(delta *qbt.MainData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reconcile(s.state, delta)
	s.recomputeLocked()
	s.cursor.Advance(delta.Rid)

	log.Trace().
		Int64("rid", delta.Rid).
		Bool("fullUpdate", delta.FullUpdate).
		Int("torrents", len(s.state.Torrents)).
		Int("visible", len(s.view)).
		Msg("Applied sync delta")
}

// Reset clears cursor, mirror and selection so the next successful poll
// rebuilds everything from a full snapshot. Filter and search are user intent
// and survive the reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor.Reset()
	s.state = NewState()
	s.selection.Clear()
	s.view = []qbt.Torrent{}
}

// SetCategories replaces the category map from the slow independent category
// poll. Torrent records are untouched.
func (s *Session) SetCategories(categories map[string]qbt.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]qbt.Category, len(categories))
	for name, c := range categories {
		next[name] = c
	}
	s.state.Categories = next
}

func (s *Session) SetFilter(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter == "" {
		filter = FilterAll
	}
	if filter == s.filter {
		return
	}
	s.filter = filter
	s.recomputeLocked()
}

func (s *Session) SetSearch(search string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if search == s.search {
		return
	}
	s.search = search
	s.recomputeLocked()
}

func (s *Session) Filter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

func (s *Session) Search() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search
}

// View returns a copy of the current derived view.
func (s *Session) View() []qbt.Torrent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.view)
}

// Snapshot returns the current mirror generation. The returned State is a
// read-only generation per the Reconcile contract; callers must not mutate it.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Toggle flips the selection state of a hash. Selecting a hash that is not in
// the current view is refused, since the selection must stay a subset of what
// the user can see.
func (s *Session) Toggle(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection.Contains(hash) {
		s.selection.Toggle(hash)
		return true
	}
	if !slices.ContainsFunc(s.view, func(t qbt.Torrent) bool { return t.Hash == hash }) {
		return false
	}
	s.selection.Toggle(hash)
	return true
}

func (s *Session) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.SelectAll(s.view)
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Clear()
}

func (s *Session) IsSelected(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection.Contains(hash)
}

// SelectedHashes returns the selection in canonical hash order.
func (s *Session) SelectedHashes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := s.selection.Hashes()
	slices.Sort(hashes)
	return hashes
}

// recomputeLocked rederives the view and prunes the selection against it.
// Callers must hold the write lock.
func (s *Session) recomputeLocked() {
	s.view = DeriveView(s.state, s.filter, s.search)
	s.selection.Prune(s.view)
}
