// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/qbmirror/qbmirror/internal/api"
	"github.com/qbmirror/qbmirror/internal/buildinfo"
	"github.com/qbmirror/qbmirror/internal/config"
	"github.com/qbmirror/qbmirror/internal/database"
	"github.com/qbmirror/qbmirror/internal/domain"
	"github.com/qbmirror/qbmirror/internal/metrics"
	"github.com/qbmirror/qbmirror/internal/mirror"
	"github.com/qbmirror/qbmirror/internal/models"
	"github.com/qbmirror/qbmirror/internal/qbt"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "qbmirror",
		Short: "A headless qBittorrent state mirror",
		Long: `qbmirror - A headless daemon that maintains a live local mirror
of a qBittorrent instance via the incremental sync API.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunSetCredentialsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/qbmirror/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of qbmirror",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the daemon.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/qbmirror/config.toml

You can specify either a directory path or a direct file path:
- Directory: qbmirror generate-config --config-dir /path/to/config/
- File: qbmirror generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func readPassword(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	} else {
		fmt.Fprint(os.Stderr, prompt)
		var password string
		if _, err := fmt.Scanln(&password); err != nil {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return password, nil
	}
}

func RunSetCredentialsCommand() *cobra.Command {
	var configDir, dataDir, baseURL, username, password string
	var tlsSkipVerify bool

	command := &cobra.Command{
		Use:   "set-credentials",
		Short: "Store qBittorrent connection credentials",
		Long: `Store the qBittorrent WebUI connection credentials without starting
the daemon. Credentials are encrypted and persisted in the database, and
picked up on the next daemon start.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/qbmirror/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			store, err := models.NewSessionStore(db, cfg.GetEncryptionKey())
			if err != nil {
				return fmt.Errorf("failed to initialize session store: %w", err)
			}

			if baseURL == "" {
				fmt.Print("Enter qBittorrent URL: ")
				if _, err := fmt.Scanln(&baseURL); err != nil {
					return fmt.Errorf("failed to read URL: %w", err)
				}
			}

			if strings.TrimSpace(baseURL) == "" {
				return fmt.Errorf("URL cannot be empty")
			}

			if username == "" {
				fmt.Print("Enter username: ")
				if _, err := fmt.Scanln(&username); err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
			}

			if password == "" {
				var err error
				password, err = readPassword("Enter password: ")
				if err != nil {
					return err
				}
			}

			session, err := store.Save(context.Background(), baseURL, username, password, tlsSkipVerify)
			if err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			cmd.Printf("Credentials stored for %s (user '%s')\n", session.BaseURL, session.Username)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
	command.Flags().StringVar(&baseURL, "url", "",
		"qBittorrent WebUI URL, e.g. http://localhost:8080")
	command.Flags().StringVar(&username, "username", "",
		"qBittorrent WebUI username")
	command.Flags().StringVar(&password, "password", "",
		"qBittorrent WebUI password (will prompt if not provided)")
	command.Flags().BoolVar(&tlsSkipVerify, "tls-skip-verify", false,
		"skip TLS certificate verification")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("QBMIRROR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("QBMIRROR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting qbmirror")

	// Initialize database
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	sessionStore, err := models.NewSessionStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session store")
	}

	clients := qbt.NewProvider(nil)
	if client := loadStoredClient(sessionStore); client != nil {
		clients.Set(client)
	}

	// Initialize mirror session and poller
	session := mirror.NewSession()
	poller := mirror.NewPoller(session, clients, cfg.PollPeriod(),
		mirror.WithCategoryPollFactor(cfg.Config.CategoryPollFactor))

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		poller.SetInterval(cfg.PollPeriod())
		poller.SetCategoryPollFactor(conf.CategoryPollFactor)
	})

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	defer cancelPoll()
	poller.Start(pollCtx)
	defer poller.Stop()

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:       cfg,
		Session:      session,
		Poller:       poller,
		Clients:      clients,
		SessionStore: sessionStore,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.MetricsEnabled || cfg.Config.PprofEnabled {
		var g errgroup.Group

		if cfg.Config.MetricsEnabled {
			metricsManager := metrics.NewMetricsManager(session, poller)
			metricsServer := metrics.NewMetricsServer(
				metricsManager,
				cfg.Config.MetricsHost,
				cfg.Config.MetricsPort,
				cfg.Config.MetricsBasicAuthUsers,
			)

			g.Go(metricsServer.ListenAndServe)
		}

		if cfg.Config.PprofEnabled {
			g.Go(func() error {
				log.Info().Msg("Starting pprof server on :6060")
				log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
				return http.ListenAndServe(":6060", nil)
			})
		}

		go func() {
			errorChannel <- g.Wait()
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	poller.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	os.Exit(0)
}

// loadStoredClient builds a qBittorrent client from persisted credentials,
// if any exist. A missing or unreadable session is not fatal; the daemon
// starts unconfigured and waits for credentials via the API.
func loadStoredClient(store *models.SessionStore) *qbt.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := store.Get(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrSessionNotFound) {
			log.Warn().Err(err).Msg("Failed to load stored qBittorrent session")
		}
		return nil
	}

	password, err := store.GetDecryptedPassword(session)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to decrypt stored qBittorrent password")
		return nil
	}

	client, err := qbt.NewClient(qbt.Config{
		BaseURL:       session.BaseURL,
		Username:      session.Username,
		Password:      password,
		TLSSkipVerify: session.TLSSkipVerify,
		UserAgent:     buildinfo.UserAgent,
	})
	if err != nil {
		log.Warn().Err(err).Str("host", session.BaseURL).Msg("Failed to build qBittorrent client from stored session")
		return nil
	}

	log.Info().Str("host", session.BaseURL).Msg("Loaded stored qBittorrent session")
	return client
}
