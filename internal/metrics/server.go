// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// MetricsServer serves the prometheus endpoint on its own listener, separate
// from the main API port. Optional basic auth takes "user:bcrypt-hash" pairs.
type MetricsServer struct {
	manager        *MetricsManager
	host           string
	port           int
	basicAuthUsers map[string]string
}

func NewMetricsServer(manager *MetricsManager, host string, port int, basicAuthUsers string) *MetricsServer {
	return &MetricsServer{
		manager:        manager,
		host:           host,
		port:           port,
		basicAuthUsers: parseBasicAuthUsers(basicAuthUsers),
	}
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, hash, ok := strings.Cut(pair, ":")
		if !ok {
			log.Warn().Str("entry", pair).Msg("Ignoring malformed metrics basic auth entry")
			continue
		}
		users[user] = hash
	}
	return users
}

func (s *MetricsServer) ListenAndServe() error {
	r := chi.NewRouter()

	handler := promhttp.HandlerFor(s.manager.GetRegistry(), promhttp.HandlerOpts{})
	if len(s.basicAuthUsers) > 0 {
		handler = s.requireBasicAuth(handler)
	}
	r.Handle("/metrics", handler)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("Starting metrics server")

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *MetricsServer) requireBasicAuth(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			if hash, found := s.basicAuthUsers[user]; found {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}
