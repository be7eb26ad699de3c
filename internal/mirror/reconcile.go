// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"slices"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

// State is one immutable generation of the mirror. Reconcile produces a new
// State from the previous one; callers must treat a State they were handed as
// read-only.
type State struct {
	Torrents    map[string]qbt.Torrent
	Categories  map[string]qbt.Category
	Tags        []string
	ServerState qbt.ServerState
}

// NewState returns an empty generation, used at session start and after a
// session reset.
func NewState() State {
	return State{
		Torrents:   make(map[string]qbt.Torrent),
		Categories: make(map[string]qbt.Category),
	}
}

// Reconcile applies one delta envelope to the previous state and returns the
// next one. It is a pure function: prev is never modified, so a failed or
// abandoned cycle leaves the current generation intact.
//
// A full update discards everything and rebuilds from the envelope alone. An
// incremental update overlays the sparse per-torrent fields onto copies of the
// existing records, creates records for hashes not seen before, and drops the
// explicitly removed ones. Removal of an unknown hash is a no-op.
func Reconcile(prev State, delta *qbt.MainData) State {
	if delta.FullUpdate {
		return reconcileFull(delta)
	}

	next := State{
		Torrents:    make(map[string]qbt.Torrent, len(prev.Torrents)+len(delta.Torrents)),
		Categories:  make(map[string]qbt.Category, len(prev.Categories)+len(delta.Categories)),
		Tags:        prev.Tags,
		ServerState: prev.ServerState,
	}
	for hash, t := range prev.Torrents {
		next.Torrents[hash] = t
	}
	for name, c := range prev.Categories {
		next.Categories[name] = c
	}

	for hash, partial := range delta.Torrents {
		t := next.Torrents[hash]
		t.Hash = hash
		partial.ApplyTo(&t)
		next.Torrents[hash] = t
	}
	for _, hash := range delta.TorrentsRemoved {
		delete(next.Torrents, hash)
	}

	for name, c := range delta.Categories {
		next.Categories[name] = c
	}
	for _, name := range delta.CategoriesRemoved {
		delete(next.Categories, name)
	}

	if len(delta.Tags) > 0 || len(delta.TagsRemoved) > 0 {
		next.Tags = mergeTags(prev.Tags, delta.Tags, delta.TagsRemoved)
	}

	if delta.ServerState != nil {
		next.ServerState = *delta.ServerState
	}

	return next
}

func reconcileFull(delta *qbt.MainData) State {
	next := State{
		Torrents:   make(map[string]qbt.Torrent, len(delta.Torrents)),
		Categories: make(map[string]qbt.Category, len(delta.Categories)),
	}

	for hash, partial := range delta.Torrents {
		var t qbt.Torrent
		t.Hash = hash
		partial.ApplyTo(&t)
		next.Torrents[hash] = t
	}

	for name, c := range delta.Categories {
		next.Categories[name] = c
	}

	if len(delta.Tags) > 0 {
		next.Tags = mergeTags(nil, delta.Tags, nil)
	}

	if delta.ServerState != nil {
		next.ServerState = *delta.ServerState
	}

	return next
}

// mergeTags folds added and removed tag names into a fresh sorted,
// deduplicated slice. The previous slice is left untouched.
func mergeTags(prev, added, removed []string) []string {
	merged := make([]string, 0, len(prev)+len(added))
	merged = append(merged, prev...)
	merged = append(merged, added...)
	slices.Sort(merged)
	merged = slices.Compact(merged)

	for _, name := range removed {
		if i, found := slices.BinarySearch(merged, name); found {
			merged = slices.Delete(merged, i, i+1)
		}
	}

	return merged
}
