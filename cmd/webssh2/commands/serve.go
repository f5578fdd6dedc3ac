package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/webssh2/webssh2/internal/adapter"
	"github.com/webssh2/webssh2/internal/bus"
	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/hostkeys"
	"github.com/webssh2/webssh2/internal/logging"
	"github.com/webssh2/webssh2/internal/server"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sshsvc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	log.Info().
		Str("version", Version).
		Str("preset", cfg.SSH.Algorithms.Preset).
		Msg("starting webssh2")

	pipeline, err := buildLogPipeline(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()
	logging.SetGlobal(pipeline)

	var hostKeyStore *hostkeys.Store
	if cfg.HostKeyVerification.Enabled && cfg.HostKeyVerification.ServerStoreEnabled() {
		hostKeyStore, err = hostkeys.Open(cfg.HostKeyVerification.ServerStore.DBPath)
		if err != nil {
			return err
		}
		defer hostKeyStore.Close()

		if path := cfg.HostKeyVerification.KnownHostsFile; path != "" {
			n, seedErr := hostKeyStore.SeedFromKnownHosts(path)
			if seedErr != nil {
				log.Warn().Err(seedErr).Str("path", path).Msg("known_hosts seeding failed")
			} else if n > 0 {
				log.Info().Int("keys", n).Str("path", path).Msg("seeded host keys")
			}
		}
	}

	// Expired sessions are torn down, not just forgotten: the registry
	// closes the owning socket, which unwinds the SSH side.
	registry := adapter.NewRegistry()
	store := session.NewStore(cfg.Session.MaxIdle(), func(id session.ID) {
		registry.CloseSession(id)
		_, _ = pipeline.Publish(logging.Record{
			Level:     logging.LevelInfo,
			Event:     logging.EventIdleTimeout,
			SessionID: string(id),
		})
	})
	store.StartSweeper()
	defer store.Close()
	session.SetGlobalStore(store)

	eventBus := bus.New(bus.Options{
		Middleware: []bus.Middleware{
			bus.LoggingMiddleware(),
			bus.MetricsMiddleware(prometheus.DefaultRegisterer),
			bus.ErrorHandlingMiddleware(),
			bus.ValidationMiddleware(),
		},
	})
	defer eventBus.Drain()

	srv := server.New(cfg, server.Deps{
		Store:    store,
		SSH:      sshsvc.NewService(cfg.SSH),
		HostKeys: hostKeyStore,
		Bus:      eventBus,
		Logs:     pipeline,
		Registry: registry,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("exited")
	return nil
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.MinimumLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("WEBSSH2_LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// buildLogPipeline wires the transports named by the config.
func buildLogPipeline(cfg *config.Config) (*logging.Pipeline, error) {
	var transports []logging.Transport
	for _, name := range cfg.Logging.Transports {
		switch name {
		case "stdout":
			transports = append(transports, logging.NewStdoutTransport(cfg.Logging.Stdout.MaxQueueSize))
		case "syslog":
			t, err := logging.NewSyslogTransport(cfg.Logging.Syslog)
			if err != nil {
				return nil, err
			}
			transports = append(transports, t)
		default:
			log.Warn().Str("transport", name).Msg("unknown log transport ignored")
		}
	}
	return logging.NewPipeline(cfg.Logging, transports...)
}
