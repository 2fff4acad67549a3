package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey"
	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/httpapi"
	"pkt.systems/expertsurvey/internal/appconfig"
	"pkt.systems/expertsurvey/internal/kafkasink"
	"pkt.systems/expertsurvey/internal/persist"
	"pkt.systems/expertsurvey/internal/pgstore"
	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var rosterFile string
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the survey HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			if rosterFile != "" {
				cfg.Roster.ImportFile = rosterFile
			}

			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			closers := []io.Closer{}
			if closeStore != nil {
				closers = append(closers, closeStore)
			}
			serviceDeps := core.ServiceDeps{Store: store, Logger: logger}
			if len(cfg.Events.Kafka.Brokers) > 0 {
				sink, err := kafkasink.New(kafkasink.Config{
					Brokers:      cfg.Events.Kafka.Brokers,
					Topic:        cfg.Events.Kafka.Topic,
					BufferSize:   cfg.Events.Kafka.BufferSize,
					WriteTimeout: time.Duration(cfg.Events.Kafka.WriteTimeoutSeconds) * time.Second,
				}, logger)
				if err != nil {
					return err
				}
				serviceDeps.EventSink = sink
				// The sink closes before the store so queued events drain first.
				closers = append([]io.Closer{sink}, closers...)
				logger.Info("kafka sink enabled", "brokers", len(cfg.Events.Kafka.Brokers), "topic", cfg.Events.Kafka.Topic)
			}

			server, err := expertsurvey.New(expertsurvey.ServerConfig{
				Service:             toServiceConfig(cfg.Roster),
				HTTP:                toHTTPConfig(cfg.Server),
				ImportFile:          cfg.Roster.ImportFile,
				DisableAuditLogging: cfg.Logging.DisableAuditTrails,
			}, expertsurvey.ServerDeps{ServiceDeps: serviceDeps, Closers: closers})
			if err != nil {
				for _, c := range closers {
					_ = c.Close()
				}
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("http server listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "storage", cfg.Storage.Driver)
			if err := server.Start(ctx); err != nil {
				_ = server.Stop(context.Background())
				return err
			}
			waitErr := server.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("server stop failed", "err", err)
				if waitErr == nil {
					waitErr = err
				}
			}
			return waitErr
		},
	}
	cmd.Flags().StringVar(&rosterFile, "roster", "", "roster CSV imported when the store is empty")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging")
	return cmd
}

// openStore builds the configured roster store. The closer is nil when the
// store holds no resources.
func openStore(ctx context.Context, cfg appconfig.Config, logger pslog.Logger) (core.Store, io.Closer, error) {
	switch cfg.Storage.Driver {
	case appconfig.DriverPostgres:
		pg, err := pgstore.Open(ctx, pgstore.Config{
			DSN:           cfg.Storage.Postgres.DSN,
			LogLevel:      cfg.Storage.Postgres.LogLevel,
			SlowThreshold: time.Duration(cfg.Storage.Postgres.SlowThresholdMS) * time.Millisecond,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	case appconfig.DriverFile, "":
		fs, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}

func toServiceConfig(cfg appconfig.RosterConfig) schema.ServiceConfig {
	return schema.ServiceConfig{ClaimTTL: time.Duration(cfg.ClaimTTLMinutes) * time.Minute}
}

func toHTTPConfig(cfg appconfig.ServerConfig) httpapi.Config {
	return httpapi.Config{
		Addr:            cfg.Addr,
		BasePath:        cfg.BasePath,
		SessionCookie:   cfg.SessionCookie,
		SessionTTLHours: cfg.SessionTTLHours,
		SessionFile:     cfg.SessionFile,
		CookieSameSite:  cfg.CookieSameSite,
		CookieSecure:    cfg.CookieSecure,
		AllowedOrigins:  cfg.AllowedOrigins,
	}
}
