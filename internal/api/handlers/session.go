// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qbmirror/qbmirror/internal/buildinfo"
	"github.com/qbmirror/qbmirror/internal/mirror"
	"github.com/qbmirror/qbmirror/internal/models"
	"github.com/qbmirror/qbmirror/internal/qbt"
)

// SessionHandler manages the persisted qBittorrent credentials and swaps the
// live client when they change.
type SessionHandler struct {
	store   *models.SessionStore
	clients *qbt.Provider
	poller  *mirror.Poller
}

func NewSessionHandler(store *models.SessionStore, clients *qbt.Provider, poller *mirror.Poller) *SessionHandler {
	return &SessionHandler{
		store:   store,
		clients: clients,
		poller:  poller,
	}
}

type sessionStatusResponse struct {
	Configured bool            `json:"configured"`
	Session    *models.Session `json:"session,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	status, pollErr := h.poller.Status()

	resp := sessionStatusResponse{Status: string(status)}
	if pollErr != nil {
		resp.Error = pollErr.Error()
	}

	session, err := h.store.Get(r.Context())
	switch {
	case err == nil:
		resp.Configured = true
		resp.Session = session
	case errors.Is(err, models.ErrSessionNotFound):
	default:
		log.Error().Err(err).Msg("Failed to load session credentials")
		RespondError(w, http.StatusInternalServerError, "Failed to load session credentials")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}

type updateSessionRequest struct {
	BaseURL       string `json:"baseUrl"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	TLSSkipVerify bool   `json:"tlsSkipVerify"`
}

// UpdateSession persists new credentials, swaps the live client and forces
// the poller to resynchronize from a full snapshot.
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BaseURL == "" {
		RespondError(w, http.StatusBadRequest, "Base URL is required")
		return
	}

	session, err := h.store.Save(r.Context(), req.BaseURL, req.Username, req.Password, req.TLSSkipVerify)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save session credentials")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := qbt.NewClient(qbt.Config{
		BaseURL:       session.BaseURL,
		Username:      req.Username,
		Password:      req.Password,
		TLSSkipVerify: req.TLSSkipVerify,
		UserAgent:     buildinfo.UserAgent,
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.clients.Set(client)
	h.poller.UpdateTransport(h.clients)

	log.Info().Str("baseUrl", session.BaseURL).Msg("Updated qBittorrent credentials")
	RespondJSON(w, http.StatusOK, sessionStatusResponse{
		Configured: true,
		Session:    session,
		Status:     string(mirror.StatusAuthenticating),
	})
}

// DeleteSession drops the stored credentials and the live client. The poller
// parks until new credentials arrive.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to delete session credentials")
		RespondError(w, http.StatusInternalServerError, "Failed to delete session credentials")
		return
	}

	h.clients.Set(nil)
	h.poller.UpdateTransport(h.clients)

	RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
