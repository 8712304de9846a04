package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fluxsdk/pkg/config"
	"fluxsdk/pkg/sdk"
)

var (
	configPath   = flag.String("config", "flux.yaml", "Path to the YAML config file (optional)")
	rpcEndpoints = flag.String("rpc", "", "Comma-separated RPC endpoints (overrides config and RPC_ENDPOINTS)")
	listen       = flag.String("listen", "", "HTTP listen address (overrides service.listen)")
	watch        = flag.String("watch", "", "Comma-separated vault addresses to keep fresh via push updates")
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *rpcEndpoints != "" {
		cfg.RPC.Endpoints = splitList(*rpcEndpoints)
	}
	if *listen != "" {
		cfg.Service.Listen = *listen
	}
	if *watch != "" {
		cfg.Service.Watch = append(cfg.Service.Watch, splitList(*watch)...)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := sdk.Dial(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create flux client", zap.Error(err))
	}
	defer client.Close()

	srv := newServer(client, logger)
	for _, addr := range cfg.Service.Watch {
		address := solana.MustPublicKeyFromBase58(addr)
		if _, err := client.GetVaultState(ctx, address, sdk.WithCache(true)); err != nil {
			logger.Warn("initial vault read failed", zap.String("address", addr), zap.Error(err))
		}
		if err := srv.watch(address); err != nil {
			logger.Warn("push updates unavailable, serving polled reads", zap.Error(err))
		}
	}

	server := &http.Server{
		Addr:              cfg.Service.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("vault service listening",
		zap.String("addr", cfg.Service.Listen),
		zap.Int("rpc_endpoints", len(cfg.RPC.Endpoints)),
		zap.Int("watched", len(cfg.Service.Watch)),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
	)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
