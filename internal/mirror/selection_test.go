// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	qbtlib "github.com/autobrr/go-qbittorrent"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

func TestSelectionToggle(t *testing.T) {
	t.Parallel()

	sel := NewSelection()

	sel.Toggle("abc")
	assert.True(t, sel.Contains("abc"))

	sel.Toggle("abc")
	assert.False(t, sel.Contains("abc"))
	assert.Zero(t, sel.Len())
}

func TestSelectionSelectAllAndClear(t *testing.T) {
	t.Parallel()

	sel := NewSelection()
	sel.Toggle("stale")

	view := []qbt.Torrent{{Hash: "aaa"}, {Hash: "bbb"}}
	sel.SelectAll(view)

	assert.Equal(t, 2, sel.Len())
	assert.True(t, sel.Contains("aaa"))
	assert.True(t, sel.Contains("bbb"))
	assert.False(t, sel.Contains("stale"))

	sel.Clear()
	assert.Zero(t, sel.Len())
}

func TestSelectionPruneOnFilterChange(t *testing.T) {
	t.Parallel()

	snap := NewState()
	snap.Torrents["aaa"] = qbt.Torrent{Hash: "aaa", Name: "a", Category: "tv"}
	snap.Torrents["bbb"] = qbt.Torrent{Hash: "bbb", Name: "b", Category: "movies"}

	sel := NewSelection()
	sel.Toggle("aaa")
	sel.Toggle("bbb")

	// narrowing the filter makes aaa invisible, so it must leave the selection
	view := DeriveView(snap, "category:movies", "")
	assert.True(t, sel.Prune(view))

	assert.False(t, sel.Contains("aaa"))
	assert.True(t, sel.Contains("bbb"))

	// pruning again against the same view changes nothing
	assert.False(t, sel.Prune(view))
}

func TestSelectionPruneOnRemoval(t *testing.T) {
	t.Parallel()

	snap := NewState()
	snap.Torrents["aaa"] = qbt.Torrent{Hash: "aaa", Name: "a", State: qbtlib.TorrentStateDownloading}

	sel := NewSelection()
	sel.Toggle("aaa")

	snap = Reconcile(snap, &qbt.MainData{TorrentsRemoved: []string{"aaa"}})
	view := DeriveView(snap, FilterAll, "")
	sel.Prune(view)

	assert.Zero(t, sel.Len())
}
