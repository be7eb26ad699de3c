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

func TestSessionCursorAdvancesWithEachDelta(t *testing.T) {
	t.Parallel()

	sess := NewSession()

	_, ok := sess.Rid()
	assert.False(t, ok)

	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("first"), Progress: f64Ptr(0.1)},
		},
	})
	sess.ApplyDelta(&qbt.MainData{
		Rid: 2,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Progress: f64Ptr(0.5)},
		},
	})
	sess.ApplyDelta(&qbt.MainData{
		Rid: 3,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Progress: f64Ptr(0.9)},
		},
	})

	rid, ok := sess.Rid()
	require.True(t, ok)
	assert.EqualValues(t, 3, rid)

	// mirror reflects the cumulative application of all deltas in order
	view := sess.View()
	require.Len(t, view, 1)
	assert.Equal(t, "first", view[0].Name)
	assert.InDelta(t, 0.9, view[0].Progress, 1e-9)
}

func TestSessionFilterChangePrunesSelection(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("a"), Category: strPtr("tv")},
			"bbb": {Name: strPtr("b"), Category: strPtr("movies")},
		},
	})

	require.True(t, sess.Toggle("aaa"))
	require.True(t, sess.Toggle("bbb"))

	sess.SetFilter("category:movies")

	assert.Equal(t, []string{"bbb"}, sess.SelectedHashes())
	assert.Len(t, sess.View(), 1)
}

func TestSessionSearchChangePrunesSelection(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("ubuntu iso")},
			"bbb": {Name: strPtr("debian iso")},
		},
	})
	sess.SelectAll()

	sess.SetSearch("ubuntu")

	assert.Equal(t, []string{"aaa"}, sess.SelectedHashes())
}

func TestSessionRemovalDropsSelection(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("a"), State: statePtr(qbtlib.TorrentStateDownloading)},
		},
	})
	require.True(t, sess.Toggle("aaa"))

	sess.ApplyDelta(&qbt.MainData{Rid: 2, TorrentsRemoved: []string{"aaa"}})

	assert.Empty(t, sess.SelectedHashes())
	assert.Empty(t, sess.View())
}

func TestSessionToggleRefusesInvisibleHash(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("a"), Category: strPtr("tv")},
		},
	})
	sess.SetFilter("category:movies")

	assert.False(t, sess.Toggle("aaa"))
	assert.Empty(t, sess.SelectedHashes())
}

func TestSessionResetKeepsUserIntent(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.SetFilter("downloading")
	sess.SetSearch("ubuntu")
	sess.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: strPtr("ubuntu iso"), State: statePtr(qbtlib.TorrentStateDownloading)},
		},
	})
	require.True(t, sess.Toggle("aaa"))

	sess.Reset()

	_, ok := sess.Rid()
	assert.False(t, ok)
	assert.Empty(t, sess.View())
	assert.Empty(t, sess.SelectedHashes())

	// filter and search survive a session reset
	assert.Equal(t, "downloading", sess.Filter())
	assert.Equal(t, "ubuntu", sess.Search())
}

func TestSessionCategoriesRefresh(t *testing.T) {
	t.Parallel()

	sess := NewSession()
	sess.SetCategories(map[string]qbt.Category{
		"movies": {Name: "movies", SavePath: "/data/movies"},
	})

	snap := sess.Snapshot()
	require.Contains(t, snap.Categories, "movies")
	assert.Equal(t, "/data/movies", snap.Categories["movies"].SavePath)
}
