package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JoJoGatito/koji-gallery/internal/config"
	cartgrpc "github.com/JoJoGatito/koji-gallery/internal/grpc"
	carthttp "github.com/JoJoGatito/koji-gallery/internal/http"
	"github.com/JoJoGatito/koji-gallery/internal/logger"
	"github.com/JoJoGatito/koji-gallery/internal/metrics"
	"github.com/JoJoGatito/koji-gallery/internal/render"
	"github.com/JoJoGatito/koji-gallery/internal/session"
)

const maxRequestBodySize = 1 << 20

func serveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cart HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("http-port", "", "HTTP listen port")
	cmd.Flags().String("grpc-port", "", "gRPC listen port")
	cmd.Flags().String("slot-backend", "", "Cart slot storage: memory, redis or mongo")
	cmd.Flags().String("sync-backend", "", "Change sync between replicas: slot or kafka")
	cmd.Flags().String("catalog-backend", "", "Artwork catalog: none, sqlite or sanity")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, logCloser, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logCloser.Close()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mx := metrics.New()

	b, err := openBackends(ctx, cfg, log, mx.PublishError)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("failed to close backends", "error", err)
		}
	}()
	if b.kafka != nil {
		go b.kafka.Run(ctx)
	}

	provider, closeCatalog, err := openCatalog(cfg, mx, log)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer closeCatalog()

	renderer := render.New(render.Images{
		ProjectID: cfg.SanityProjectID,
		Dataset:   cfg.SanityDataset,
	})

	sessions := session.NewManager(b.open,
		session.WithObserver(mx),
		session.WithGauge(mx),
		session.WithRenderer(renderer),
		session.WithLogger(log),
		session.WithIdleTTL(cfg.SessionIdleTTL),
	)
	defer sessions.Close()

	handler := carthttp.NewCartHandler(sessions, cfg.RequestTimeout,
		carthttp.WithCatalog(provider),
		carthttp.WithRenderer(renderer),
		carthttp.WithLogger(log),
	)
	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: carthttp.NewRouter(handler, carthttp.RouterConfig{
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: maxRequestBodySize,
			Gatherer:           prometheus.DefaultGatherer,
			Logger:             log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := cartgrpc.NewServer(cartgrpc.NewCartServiceServer(sessions, provider))

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down cart service")
	case err = <-errCh:
		log.Error("server stopped unexpectedly", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown failed", "error", serr)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		// WatchCart streams only end when their clients leave
		grpcServer.Stop()
	}

	log.Info("cart service stopped")
	return err
}
