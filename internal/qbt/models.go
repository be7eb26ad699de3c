// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbt

import (
	qbt "github.com/autobrr/go-qbittorrent"
)

// Torrent is one fully-populated entry of the mirror. The hash is the stable
// identifier and never changes after creation; every other field may be
// replaced by a later delta.
type Torrent struct {
	Hash         string           `json:"hash"`
	Name         string           `json:"name"`
	State        qbt.TorrentState `json:"state"`
	Progress     float64          `json:"progress"`
	Size         int64            `json:"size"`
	DlSpeed      int64            `json:"dlspeed"`
	UpSpeed      int64            `json:"upspeed"`
	ETA          int64            `json:"eta"`
	Ratio        float64          `json:"ratio"`
	Category     string           `json:"category"`
	Tags         string           `json:"tags"`
	NumSeeds     int64            `json:"num_seeds"`
	NumLeechs    int64            `json:"num_leechs"`
	AddedOn      int64            `json:"added_on"`
	CompletionOn int64            `json:"completion_on"`
}

// TorrentPartial is the sparse per-torrent object of an incremental
// /sync/maindata response. Every field is a pointer: nil means the server did
// not mention the field and the prior value must be preserved.
type TorrentPartial struct {
	Name         *string           `json:"name,omitempty"`
	State        *qbt.TorrentState `json:"state,omitempty"`
	Progress     *float64          `json:"progress,omitempty"`
	Size         *int64            `json:"size,omitempty"`
	DlSpeed      *int64            `json:"dlspeed,omitempty"`
	UpSpeed      *int64            `json:"upspeed,omitempty"`
	ETA          *int64            `json:"eta,omitempty"`
	Ratio        *float64          `json:"ratio,omitempty"`
	Category     *string           `json:"category,omitempty"`
	Tags         *string           `json:"tags,omitempty"`
	NumSeeds     *int64            `json:"num_seeds,omitempty"`
	NumLeechs    *int64            `json:"num_leechs,omitempty"`
	AddedOn      *int64            `json:"added_on,omitempty"`
	CompletionOn *int64            `json:"completion_on,omitempty"`
}

// ApplyTo overwrites exactly the fields present in the partial. Absent fields
// are left untouched, which is the contract the whole merge algorithm rests
// on.
func (p *TorrentPartial) ApplyTo(t *Torrent) {
	if p == nil {
		return
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.State != nil {
		t.State = *p.State
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.Size != nil {
		t.Size = *p.Size
	}
	if p.DlSpeed != nil {
		t.DlSpeed = *p.DlSpeed
	}
	if p.UpSpeed != nil {
		t.UpSpeed = *p.UpSpeed
	}
	if p.ETA != nil {
		t.ETA = *p.ETA
	}
	if p.Ratio != nil {
		t.Ratio = *p.Ratio
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.NumSeeds != nil {
		t.NumSeeds = *p.NumSeeds
	}
	if p.NumLeechs != nil {
		t.NumLeechs = *p.NumLeechs
	}
	if p.AddedOn != nil {
		t.AddedOn = *p.AddedOn
	}
	if p.CompletionOn != nil {
		t.CompletionOn = *p.CompletionOn
	}
}

// Category mirrors qBittorrent's category metadata.
type Category struct {
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
}

// ServerState carries the aggregate transfer metrics attached to every delta.
// It always replaces the previous value wholesale.
type ServerState struct {
	ConnectionStatus  string `json:"connection_status"`
	DlInfoSpeed       int64  `json:"dl_info_speed"`
	DlInfoData        int64  `json:"dl_info_data"`
	UpInfoSpeed       int64  `json:"up_info_speed"`
	UpInfoData        int64  `json:"up_info_data"`
	DHTNodes          int64  `json:"dht_nodes"`
	TotalPeerConns    int64  `json:"total_peer_connections"`
	FreeSpaceOnDisk   int64  `json:"free_space_on_disk"`
	UseAltSpeedLimits bool   `json:"use_alt_speed_limits"`
}

// MainData is one /sync/maindata delta envelope: the new cursor (rid), the
// full-vs-incremental flag, the sparse per-torrent updates and the explicit
// removal lists.
type MainData struct {
	Rid               int64                     `json:"rid"`
	FullUpdate        bool                      `json:"full_update"`
	Torrents          map[string]TorrentPartial `json:"torrents"`
	TorrentsRemoved   []string                  `json:"torrents_removed"`
	Categories        map[string]Category       `json:"categories"`
	CategoriesRemoved []string                  `json:"categories_removed"`
	Tags              []string                  `json:"tags"`
	TagsRemoved       []string                  `json:"tags_removed"`
	ServerState       *ServerState              `json:"server_state"`
}
