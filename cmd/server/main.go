package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"google.golang.org/grpc"

	"github.com/rl1809/marketplace/internal/adapter/handler"
	"github.com/rl1809/marketplace/internal/app"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	svc := app.NewServices(cfg, st, logger)
	logger.Info("started event workers", "workers", cfg.Events.Workers)

	// Expiry sweeper
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Sweeper.Run(ctx)
	}()

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor(logger)))
	handler.RegisterLifecycleServer(grpcServer, handler.NewGRPCHandler(svc.Lifecycle, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.GRPCAddr(), "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: handler.NewRouter(handler.NewHTTPHandler(svc.Lifecycle, logger, st.Checks...)),
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop the sweeper, then drain queued events
	cancel()
	wg.Wait()
	svc.Dispatcher.Close()
	logger.Info("workers stopped")

	if err := st.Close(); err != nil {
		logger.Error("close storage", "error", err)
	}
	logger.Info("connections closed")
}
