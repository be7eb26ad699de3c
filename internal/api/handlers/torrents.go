// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/qbmirror/qbmirror/internal/mirror"
	"github.com/qbmirror/qbmirror/internal/qbt"
)

const (
	countsCacheTTL = 2 * time.Second
	exprCacheTTL   = 5 * time.Minute

	maxBulkHashes = 512
	fuzzyMaxRank  = 10
)

// TorrentCounts aggregates the whole mirror regardless of the active filter,
// so sidebars can show per-category and per-status totals.
type TorrentCounts struct {
	Total      int            `json:"total"`
	Status     map[string]int `json:"status"`
	Categories map[string]int `json:"categories"`
	Tags       map[string]int `json:"tags"`
}

type TorrentListResponse struct {
	Torrents    []qbt.Torrent   `json:"torrents"`
	Total       int             `json:"total"`
	Counts      *TorrentCounts  `json:"counts,omitempty"`
	ServerState qbt.ServerState `json:"serverState"`
	Status      string          `json:"status"`
	Filter      string          `json:"filter"`
	Search      string          `json:"search"`
}

type TorrentsHandler struct {
	session *mirror.Session
	poller  *mirror.Poller
	clients *qbt.Provider

	countsCache *ttlcache.Cache[string, *TorrentCounts]
	exprCache   *ttlcache.Cache[string, *vm.Program]
}

func NewTorrentsHandler(session *mirror.Session, poller *mirror.Poller, clients *qbt.Provider) *TorrentsHandler {
	return &TorrentsHandler{
		session:     session,
		poller:      poller,
		clients:     clients,
		countsCache: ttlcache.New(ttlcache.Options[string, *TorrentCounts]{}.SetDefaultTTL(countsCacheTTL)),
		exprCache:   ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(exprCacheTTL)),
	}
}

// ListTorrents returns the current derived view. A filter or search query
// parameter updates the session's active values first, which also prunes the
// selection; the expr and q parameters refine this one response only.
func (h *TorrentsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Has("filter") {
		h.session.SetFilter(q.Get("filter"))
	}
	if q.Has("search") {
		h.session.SetSearch(q.Get("search"))
	}

	view := h.session.View()

	if exprQuery := q.Get("expr"); exprQuery != "" {
		filtered, err := h.applyExprFilter(view, exprQuery)
		if err != nil {
			RespondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid filter expression: %s", err))
			return
		}
		view = filtered
	}

	if fuzzyQuery := q.Get("q"); fuzzyQuery != "" {
		view = applyFuzzySearch(view, fuzzyQuery)
	}

	total := len(view)
	view = paginate(view, q.Get("limit"), q.Get("offset"))

	snap := h.session.Snapshot()
	status, _ := h.poller.Status()

	RespondJSON(w, http.StatusOK, TorrentListResponse{
		Torrents:    view,
		Total:       total,
		Counts:      h.counts(snap),
		ServerState: snap.ServerState,
		Status:      string(status),
		Filter:      h.session.Filter(),
		Search:      h.session.Search(),
	})
}

func (h *TorrentsHandler) applyExprFilter(view []qbt.Torrent, query string) ([]qbt.Torrent, error) {
	program, ok := h.exprCache.Get(query)
	if !ok {
		var err error
		program, err = expr.Compile(query, expr.Env(qbt.Torrent{}), expr.AsBool())
		if err != nil {
			return nil, err
		}
		if ok := h.exprCache.Set(query, program, exprCacheTTL); !ok {
			log.Warn().Str("expr", query).Msg("Failed to cache expression")
		}
	}

	filtered := make([]qbt.Torrent, 0, len(view))
	for _, t := range view {
		result, err := expr.Run(program, t)
		if err != nil {
			log.Error().Err(err).Msg("Failed to evaluate expression")
			continue
		}
		if pass, ok := result.(bool); ok && pass {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// applyFuzzySearch keeps torrents whose name fuzzy-matches the query with a
// good rank, preserving view order.
func applyFuzzySearch(view []qbt.Torrent, query string) []qbt.Torrent {
	matched := make([]qbt.Torrent, 0, len(view))
	for _, t := range view {
		if !fuzzy.MatchNormalizedFold(query, t.Name) {
			continue
		}
		if fuzzy.RankMatchNormalizedFold(query, t.Name) < fuzzyMaxRank {
			matched = append(matched, t)
		}
	}
	return matched
}

func paginate(view []qbt.Torrent, limitRaw, offsetRaw string) []qbt.Torrent {
	offset, _ := strconv.Atoi(offsetRaw)
	if offset > 0 {
		if offset >= len(view) {
			return []qbt.Torrent{}
		}
		view = view[offset:]
	}

	limit, _ := strconv.Atoi(limitRaw)
	if limit > 0 && limit < len(view) {
		view = view[:limit]
	}
	return view
}

func (h *TorrentsHandler) counts(snap mirror.State) *TorrentCounts {
	if cached, ok := h.countsCache.Get("counts"); ok {
		return cached
	}

	counts := &TorrentCounts{
		Total:      len(snap.Torrents),
		Status:     make(map[string]int),
		Categories: make(map[string]int),
		Tags:       make(map[string]int),
	}

	for _, t := range snap.Torrents {
		counts.Status[string(t.State)]++

		category := t.Category
		if category == "" {
			category = mirror.UncategorizedLabel
		}
		counts.Categories[category]++

		for _, tag := range strings.Split(t.Tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				counts.Tags[tag]++
			}
		}
	}

	if ok := h.countsCache.Set("counts", counts, countsCacheTTL); !ok {
		log.Warn().Msg("Failed to cache torrent counts")
	}
	return counts
}

func (h *TorrentsHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.session.Snapshot().Categories)
}

func (h *TorrentsHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	tags := h.session.Snapshot().Tags
	if tags == nil {
		tags = []string{}
	}
	RespondJSON(w, http.StatusOK, tags)
}

type selectionResponse struct {
	Hashes []string `json:"hashes"`
	Count  int      `json:"count"`
}

func (h *TorrentsHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	hashes := h.session.SelectedHashes()
	RespondJSON(w, http.StatusOK, selectionResponse{Hashes: hashes, Count: len(hashes)})
}

func (h *TorrentsHandler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hash == "" {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.session.Toggle(req.Hash) {
		RespondError(w, http.StatusConflict, "Torrent is not in the current view")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"selected": h.session.IsSelected(req.Hash)})
}

func (h *TorrentsHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	h.session.SelectAll()
	hashes := h.session.SelectedHashes()
	RespondJSON(w, http.StatusOK, selectionResponse{Hashes: hashes, Count: len(hashes)})
}

func (h *TorrentsHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.session.ClearSelection()
	RespondJSON(w, http.StatusOK, selectionResponse{Hashes: []string{}, Count: 0})
}

type bulkActionRequest struct {
	Action      string   `json:"action"`
	Hashes      []string `json:"hashes"`
	DeleteFiles bool     `json:"deleteFiles"`
	Category    string   `json:"category"`
}

// BulkAction runs one mutation against a batch of torrents. With no explicit
// hashes it acts on the current selection. The mirror is never touched here;
// the server's new state arrives with the next delta.
func (h *TorrentsHandler) BulkAction(w http.ResponseWriter, r *http.Request) {
	var req bulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hashes := req.Hashes
	if len(hashes) == 0 {
		hashes = h.session.SelectedHashes()
	}
	if len(hashes) == 0 {
		RespondError(w, http.StatusBadRequest, "No torrents selected")
		return
	}
	if len(hashes) > maxBulkHashes {
		RespondError(w, http.StatusBadRequest, fmt.Sprintf("Too many hashes provided (maximum %d)", maxBulkHashes))
		return
	}

	client, err := h.clients.Get()
	if err != nil {
		RespondError(w, http.StatusServiceUnavailable, "No qBittorrent connection configured")
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "pause":
		err = client.Pause(ctx, hashes)
	case "resume":
		err = client.Resume(ctx, hashes)
	case "recheck":
		err = client.Recheck(ctx, hashes)
	case "delete":
		err = client.Delete(ctx, hashes, req.DeleteFiles)
	case "setCategory":
		err = client.SetCategory(ctx, hashes, req.Category)
	default:
		RespondError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action: %s", req.Action))
		return
	}

	if err != nil {
		log.Error().Err(err).Str("action", req.Action).Int("count", len(hashes)).Msg("Bulk action failed")
		RespondError(w, http.StatusBadGateway, fmt.Sprintf("Failed to %s %d torrent(s): %s", req.Action, len(hashes), err))
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(hashes),
	})
}
