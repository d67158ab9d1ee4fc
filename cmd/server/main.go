package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/metrics"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "catalog, cart and order service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				EnvVars: []string{"SHOP_CONFIG"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			return run(c.Context, cfg)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	var rec service.Recorder = service.NopRecorder()
	var promRec *metrics.Recorder
	if cfg.Metrics.Enabled {
		promRec = metrics.NewRecorder(cfg.Metrics.Namespace)
		rec = promRec
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	source, closeSource, err := buildSource(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("catalog source: %w", err)
	}
	closers = append(closers, closeSource)

	catalog := service.NewCatalogStore(source,
		service.WithCatalogLogger(log.Named("catalog")),
		service.WithPersistTimeout(cfg.Catalog.PersistTimeout),
		service.WithCatalogRecorder(rec),
	)
	if _, err := catalog.Load(ctx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}

	dispatcher := service.NewDispatcher(buildNotifier(cfg, log), cfg.Notify.QueueSize, cfg.Notify.Workers,
		service.WithDispatcherLogger(log.Named("notify")),
		service.WithDispatcherRecorder(rec),
	)
	dispatcher.Start()

	ledger := service.NewOrderLedger(catalog, cfg.Policy(),
		service.WithLedgerLogger(log.Named("orders")),
		service.WithLedgerRecorder(rec),
		service.WithEventPublisher(dispatcher),
	)

	shopOpts := []service.ShopOption{
		service.WithShopLogger(log.Named("shop")),
		service.WithLowStockThreshold(cfg.Catalog.LowStockThreshold),
	}
	idem, closeIdem, err := buildIdempotency(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	closers = append(closers, closeIdem)
	if idem != nil {
		shopOpts = append(shopOpts, service.WithIdempotency(idem))
	}
	shop := service.NewShop(catalog, service.NewCartManager(log.Named("carts")), ledger, shopOpts...)

	scheduler := service.NewSyncScheduler(catalog, cfg.Sync.Interval, cfg.Sync.Timeout, log.Named("sync"))
	scheduler.Start(ctx)

	httpOpts := []handler.HTTPOption{
		handler.WithHTTPLogger(log.Named("http")),
		handler.WithAdminToken(cfg.HTTP.AdminToken),
		handler.WithSyncStatus(scheduler),
	}
	if promRec != nil {
		httpOpts = append(httpOpts, handler.WithMetricsHandler(promRec.Handler()))
	}
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewHTTPHandler(shop, httpOpts...).Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(shop, log.Named("grpc")).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown", zap.Error(err))
		}
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")

		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Warn("sync stop", zap.Error(err))
		}
		dispatcher.Close()
		log.Info("workers stopped")
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}
