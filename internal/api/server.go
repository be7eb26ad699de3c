// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qbmirror/qbmirror/internal/api/handlers"
	"github.com/qbmirror/qbmirror/internal/config"
	"github.com/qbmirror/qbmirror/internal/mirror"
	"github.com/qbmirror/qbmirror/internal/models"
	"github.com/qbmirror/qbmirror/internal/qbt"
)

type Server struct {
	server *http.Server
	logger zerolog.Logger
	config *config.AppConfig

	session      *mirror.Session
	poller       *mirror.Poller
	clients      *qbt.Provider
	sessionStore *models.SessionStore
}

type Dependencies struct {
	Config       *config.AppConfig
	Session      *mirror.Session
	Poller       *mirror.Poller
	Clients      *qbt.Provider
	SessionStore *models.SessionStore
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:       log.Logger.With().Str("module", "api").Logger(),
		config:       deps.Config,
		session:      deps.Session,
		poller:       deps.Poller,
		clients:      deps.Clients,
		sessionStore: deps.SessionStore,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.poller)
	torrentsHandler := handlers.NewTorrentsHandler(s.session, s.poller, s.clients)
	sessionHandler := handlers.NewSessionHandler(s.sessionStore, s.clients, s.poller)
	versionHandler := handlers.NewVersionHandler()

	r.Route("/health", func(r chi.Router) {
		r.Get("/liveness", healthHandler.Liveness)
		r.Get("/readiness", healthHandler.Readiness)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.ThrottleBacklog(64, 64, time.Second))

		r.Get("/version", versionHandler.GetVersion)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Put("/", sessionHandler.UpdateSession)
			r.Delete("/", sessionHandler.DeleteSession)
		})

		r.Route("/torrents", func(r chi.Router) {
			r.Get("/", torrentsHandler.ListTorrents)
			r.Post("/bulk-action", torrentsHandler.BulkAction)
		})

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", torrentsHandler.GetSelection)
			r.Post("/toggle", torrentsHandler.ToggleSelection)
			r.Post("/all", torrentsHandler.SelectAll)
			r.Delete("/", torrentsHandler.ClearSelection)
		})

		r.Get("/categories", torrentsHandler.GetCategories)
		r.Get("/tags", torrentsHandler.GetTags)
	})

	r.Mount(baseURLJoin(s.config.Config.BaseURL, "api"), apiRouter)

	return r
}

func baseURLJoin(baseURL, path string) string {
	base := strings.Trim(baseURL, "/")
	if base == "" {
		return "/" + path
	}
	return "/" + base + "/" + path
}
