// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qbtlib "github.com/autobrr/go-qbittorrent"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

func viewFixture() State {
	snap := NewState()
	snap.Torrents["aaa"] = qbt.Torrent{
		Hash: "aaa", Name: "Ubuntu 24.04 ISO", State: qbtlib.TorrentStateDownloading,
		Category: "distros", Tags: "linux, iso",
	}
	snap.Torrents["bbb"] = qbt.Torrent{
		Hash: "bbb", Name: "Debian Netinst", State: qbtlib.TorrentStatePausedDl,
		Category: "distros", Tags: "linux",
	}
	snap.Torrents["ccc"] = qbt.Torrent{
		Hash: "ccc", Name: "Big Buck Bunny", State: qbtlib.TorrentStateUploading,
		Category: "movies", Tags: "video, open",
	}
	snap.Torrents["ddd"] = qbt.Torrent{
		Hash: "ddd", Name: "Untagged stray", State: qbtlib.TorrentStateStalledUp,
	}
	return snap
}

func viewHashes(view []qbt.Torrent) []string {
	hashes := make([]string, 0, len(view))
	for _, t := range view {
		hashes = append(hashes, t.Hash)
	}
	return hashes
}

func TestDeriveViewFilters(t *testing.T) {
	t.Parallel()

	snap := viewFixture()

	tests := []struct {
		name   string
		filter string
		search string
		want   []string
	}{
		{name: "all", filter: FilterAll, want: []string{"aaa", "bbb", "ccc", "ddd"}},
		{name: "empty filter behaves as all", filter: "", want: []string{"aaa", "bbb", "ccc", "ddd"}},
		{name: "category equality", filter: "category:distros", want: []string{"aaa", "bbb"}},
		{name: "uncategorized placeholder", filter: "category:Uncategorized", want: []string{"ddd"}},
		{name: "tag OR semantics", filter: "tag:iso,video", want: []string{"aaa", "ccc"}},
		{name: "tag match is case-insensitive", filter: "tag:LINUX", want: []string{"aaa", "bbb"}},
		{name: "raw state literal", filter: "pausedDL", want: []string{"bbb"}},
		{name: "state group seeding", filter: "seeding", want: []string{"ccc", "ddd"}},
		{name: "search narrows before filter", filter: "category:distros", search: "ubuntu", want: []string{"aaa"}},
		{name: "search is substring case-insensitive", filter: FilterAll, search: "BUnny", want: []string{"ccc"}},
		{name: "no matches", filter: "category:music", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DeriveView(snap, tt.filter, tt.search)
			assert.Equal(t, tt.want, viewHashes(got))
		})
	}
}

func TestDeriveViewIsDeterministic(t *testing.T) {
	t.Parallel()

	snap := viewFixture()
	first := DeriveView(snap, FilterAll, "")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, DeriveView(snap, FilterAll, ""))
	}
}

func TestDeriveViewTracksReconciledState(t *testing.T) {
	t.Parallel()

	// full snapshot with one downloading and one paused torrent
	full := &qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {State: statePtr(qbtlib.TorrentStateDownloading)},
			"bbb": {State: statePtr(qbtlib.TorrentStatePausedDl)},
		},
	}
	snap := Reconcile(NewState(), full)

	view := DeriveView(snap, "downloading", "")
	require.Equal(t, []string{"aaa"}, viewHashes(view))

	// incremental delta flips the paused torrent to downloading
	snap = Reconcile(snap, &qbt.MainData{
		Rid: 2,
		Torrents: map[string]qbt.TorrentPartial{
			"bbb": {State: statePtr(qbtlib.TorrentStateDownloading)},
		},
	})

	view = DeriveView(snap, "downloading", "")
	assert.Equal(t, []string{"aaa", "bbb"}, viewHashes(view))
}
