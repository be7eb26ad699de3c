// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qbtlib "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbmirror/qbmirror/internal/config"
	"github.com/qbmirror/qbmirror/internal/database"
	"github.com/qbmirror/qbmirror/internal/mirror"
	"github.com/qbmirror/qbmirror/internal/models"
	"github.com/qbmirror/qbmirror/internal/qbt"
)

func TestBaseURLJoin(t *testing.T) {
	tests := []struct {
		baseURL  string
		expected string
	}{
		{"/", "/api"},
		{"", "/api"},
		{"/qbmirror/", "/qbmirror/api"},
		{"qbmirror", "/qbmirror/api"},
		{"/deep/path/", "/deep/path/api"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, baseURLJoin(tt.baseURL, "api"), "baseURL %q", tt.baseURL)
	}
}

func newTestServer(t *testing.T) (*Server, *mirror.Session) {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.New(dir)
	require.NoError(t, err, "Failed to initialize test config")

	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })

	encryptionKey := make([]byte, 32)
	store, err := models.NewSessionStore(db, encryptionKey)
	require.NoError(t, err)

	clients := qbt.NewProvider(nil)
	session := mirror.NewSession()
	poller := mirror.NewPoller(session, clients, time.Second)

	srv := NewServer(&Dependencies{
		Config:       cfg,
		Session:      session,
		Poller:       poller,
		Clients:      clients,
		SessionStore: store,
	})

	return srv, session
}

func seedMirror(session *mirror.Session) {
	name1, name2 := "Fedora-42.iso", "Arch-2025.img"
	state1 := qbtlib.TorrentStateDownloading
	state2 := qbtlib.TorrentStateUploading
	cat := "distros"
	tags := "linux, iso"

	session.ApplyDelta(&qbt.MainData{
		Rid:        1,
		FullUpdate: true,
		Torrents: map[string]qbt.TorrentPartial{
			"aaa": {Name: &name1, State: &state1, Category: &cat, Tags: &tags},
			"bbb": {Name: &name2, State: &state2},
		},
		Categories: map[string]qbt.Category{
			"distros": {Name: "distros", SavePath: "/data/distros"},
		},
		Tags:        []string{"iso", "linux"},
		ServerState: &qbt.ServerState{ConnectionStatus: "connected", DlInfoSpeed: 1024},
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "invalid JSON response for %s %s", method, path)
	}
	return rec, decoded
}

func TestServerHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodGet, "/health/liveness", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, handler, http.MethodGet, "/health/readiness", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["sync"])
}

func TestServerListTorrents(t *testing.T) {
	srv, session := newTestServer(t)
	seedMirror(session)
	handler := srv.Handler()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/torrents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.EqualValues(t, 2, body["total"])
	torrents := body["torrents"].([]any)
	require.Len(t, torrents, 2)
	first := torrents[0].(map[string]any)
	assert.Equal(t, "aaa", first["hash"], "results should come back in canonical hash order")

	// Narrowing to a category filter updates the active view
	rec, body = doJSON(t, handler, http.MethodGet, "/api/torrents?filter=category:distros", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, "category:distros", body["filter"])
}

func TestServerSelectionRoutes(t *testing.T) {
	srv, session := newTestServer(t)
	seedMirror(session)
	handler := srv.Handler()

	rec, body := doJSON(t, handler, http.MethodPost, "/api/selection/toggle", `{"hash":"aaa"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["selected"])

	// Hashes outside the visible view are refused
	rec, _ = doJSON(t, handler, http.MethodPost, "/api/selection/toggle", `{"hash":"zzz"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = doJSON(t, handler, http.MethodPost, "/api/selection/all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = doJSON(t, handler, http.MethodDelete, "/api/selection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestServerSessionStatusUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["configured"])
}

func TestServerBulkActionWithoutClient(t *testing.T) {
	srv, session := newTestServer(t)
	seedMirror(session)
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/torrents/bulk-action", `{"action":"pause","hashes":["aaa"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no client configured")
}
