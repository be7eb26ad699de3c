// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"slices"
	"strings"

	qbtlib "github.com/autobrr/go-qbittorrent"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

// UncategorizedLabel stands in for an empty category when matching
// "category:" filters, so uncategorized torrents are addressable.
const UncategorizedLabel = "Uncategorized"

const (
	FilterAll      = "all"
	categoryPrefix = "category:"
	tagPrefix      = "tag:"
)

// torrentStateCategories groups raw torrent states under the coarse status
// names users actually filter by. A filter literal that is not one of these
// groups is compared against the raw state string.
var torrentStateCategories = map[string]map[qbtlib.TorrentState]struct{}{
	"downloading": {
		qbtlib.TorrentStateDownloading: {},
		qbtlib.TorrentStateMetaDl:      {},
		qbtlib.TorrentStateQueuedDl:    {},
		qbtlib.TorrentStateStalledDl:   {},
		qbtlib.TorrentStateCheckingDl:  {},
		qbtlib.TorrentStateForcedDl:    {},
		qbtlib.TorrentStateAllocating:  {},
	},
	"seeding": {
		qbtlib.TorrentStateUploading:  {},
		qbtlib.TorrentStateQueuedUp:   {},
		qbtlib.TorrentStateStalledUp:  {},
		qbtlib.TorrentStateCheckingUp: {},
		qbtlib.TorrentStateForcedUp:   {},
	},
	"paused": {
		qbtlib.TorrentStatePausedDl:  {},
		qbtlib.TorrentStatePausedUp:  {},
		qbtlib.TorrentStateStoppedDl: {},
		qbtlib.TorrentStateStoppedUp: {},
	},
	"checking": {
		qbtlib.TorrentStateCheckingDl:         {},
		qbtlib.TorrentStateCheckingUp:         {},
		qbtlib.TorrentStateCheckingResumeData: {},
	},
	"errored": {
		qbtlib.TorrentStateError:        {},
		qbtlib.TorrentStateMissingFiles: {},
	},
	"stalled": {
		qbtlib.TorrentStateStalledDl: {},
		qbtlib.TorrentStateStalledUp: {},
	},
	"moving": {
		qbtlib.TorrentStateMoving: {},
	},
}

// DeriveView projects the snapshot through the active search term and filter
// and returns the matching torrents in canonical hash order. It is a pure
// function of its inputs: the snapshot is not modified and two calls with the
// same inputs produce identical output. Sorting for presentation is the
// caller's concern.
func DeriveView(snap State, filter, search string) []qbt.Torrent {
	hashes := make([]string, 0, len(snap.Torrents))
	for hash := range snap.Torrents {
		hashes = append(hashes, hash)
	}
	slices.Sort(hashes)

	search = strings.ToLower(strings.TrimSpace(search))

	view := make([]qbt.Torrent, 0, len(hashes))
	for _, hash := range hashes {
		t := snap.Torrents[hash]
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) {
			continue
		}
		if !matchFilter(&t, filter) {
			continue
		}
		view = append(view, t)
	}

	return view
}

func matchFilter(t *qbt.Torrent, filter string) bool {
	switch {
	case filter == "" || filter == FilterAll:
		return true
	case strings.HasPrefix(filter, categoryPrefix):
		want := strings.TrimPrefix(filter, categoryPrefix)
		category := t.Category
		if category == "" {
			category = UncategorizedLabel
		}
		return category == want
	case strings.HasPrefix(filter, tagPrefix):
		return matchAnyTag(t.Tags, strings.TrimPrefix(filter, tagPrefix))
	default:
		return matchStatus(t.State, filter)
	}
}

// matchAnyTag implements OR semantics: the torrent passes when any requested
// tag name equals any of its own tags, case-insensitively.
func matchAnyTag(torrentTags, requested string) bool {
	for _, want := range strings.Split(requested, ",") {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, have := range strings.Split(torrentTags, ",") {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

func matchStatus(state qbtlib.TorrentState, filter string) bool {
	if group, ok := torrentStateCategories[filter]; ok {
		_, member := group[state]
		return member
	}
	return string(state) == filter
}

// VisibleHashes returns the set of identifiers present in a derived view,
// used by the selection tracker's pruning step.
func VisibleHashes(view []qbt.Torrent) map[string]struct{} {
	visible := make(map[string]struct{}, len(view))
	for _, t := range view {
		visible[t.Hash] = struct{}{}
	}
	return visible
}
