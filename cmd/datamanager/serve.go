package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/internal/nats"
	"github.com/wehubfusion/datamanager/internal/tracing"
	"github.com/wehubfusion/datamanager/pkg/callback"
	"github.com/wehubfusion/datamanager/pkg/concurrency"
	"github.com/wehubfusion/datamanager/pkg/config"
	"github.com/wehubfusion/datamanager/pkg/reporting"
	"github.com/wehubfusion/datamanager/pkg/service"
	"github.com/wehubfusion/datamanager/pkg/storage"
)

func newServeCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Execute registered processes on NATS requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.natsURL, "nats-url", "", "NATS server URL")
	cmd.Flags().StringVar(&f.subject, "subject", "", "Subject to receive execution requests on")
	cmd.Flags().StringVar(&f.queue, "queue", "", "Queue group shared by service instances")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS", zap.Error(err))
	} else {
		defer undo()
	}
	logger.Info("Starting datamanager", zap.Stringer("config", cfg))

	conn, err := nats.Connect(ctx, nats.DefaultConnectionConfig(cfg.NATSURL), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := nats.Close(conn); err != nil {
			logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}()

	svc, shutdown, err := newService(ctx, cfg, logger, conn)
	if err != nil {
		return err
	}
	defer shutdown()

	if err := svc.Start(conn, cfg.NATSSubject, cfg.NATSQueue); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return svc.Stop()
}

// newService wires the execution service with the optional integrations
// the configuration enables. Results are published through pub when a
// result subject is configured. The returned function releases the
// integrations in reverse order.
func newService(ctx context.Context, cfg *config.Config, logger *zap.Logger, pub callback.Publisher) (*service.Service, func(), error) {
	var closers []func()
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tp, stopTracing, err := tracing.Setup(ctx, tracing.DefaultConfig(cfg.OTLPEndpoint, cfg.Environment), logger)
	if err != nil {
		return nil, shutdown, err
	}
	closers = append(closers, func() { _ = tracing.Shutdown(stopTracing, logger) })

	manager, closeDB, err := buildManager(ctx, cfg, logger)
	if err != nil {
		shutdown()
		return nil, func() {}, err
	}
	closers = append(closers, closeDB)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithTracerProvider(tp),
		service.WithLimiter(concurrency.NewLimiter(cfg.MaxConcurrent, concurrency.NewCircuitBreaker(0, 0))),
		service.WithMiddleware(service.Recovery(logger), service.Logging(logger)),
	}

	if cfg.ResultSubject != "" && pub != nil {
		cbConfig := callback.DefaultConfig(cfg.ResultSubject)
		cbConfig.Logger = logger
		h, err := callback.New(pub, cbConfig)
		if err != nil {
			shutdown()
			return nil, func() {}, err
		}
		opts = append(opts, service.WithCallback(h))
	}

	if cfg.SentryDSN != "" {
		reporter, err := reporting.New(reporting.Options{
			DSN:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Logger:      logger,
		})
		if err != nil {
			shutdown()
			return nil, func() {}, err
		}
		opts = append(opts, service.WithFailureHook(reporter.FailureHook()))
		closers = append(closers, func() { reporter.Flush(5 * time.Second) })
	}

	if cfg.ArchiveEnabled() {
		client, err := storage.NewAzureBlobClient(cfg.BlobConnectionString, cfg.BlobContainer, logger)
		if err != nil {
			shutdown()
			return nil, func() {}, fmt.Errorf("creating blob client: %w", err)
		}
		opts = append(opts, service.WithArchiver(storage.NewArchiver(client, "", logger)))
	}

	return service.New(manager, opts...), shutdown, nil
}
