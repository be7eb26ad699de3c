// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/qbmirror/qbmirror/internal/mirror"
)

type HealthHandler struct {
	poller *mirror.Poller
}

func NewHealthHandler(poller *mirror.Poller) *HealthHandler {
	return &HealthHandler{poller: poller}
}

// Liveness answers as long as the process serves requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports the sync status alongside. A degraded session is still
// ready: the API serves the last good mirror while the poller recovers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	status, err := h.poller.Status()

	body := map[string]string{
		"status": "ok",
		"sync":   string(status),
	}
	if err != nil {
		body["syncError"] = err.Error()
	}
	RespondJSON(w, http.StatusOK, body)
}
