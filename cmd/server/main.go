// Gasless relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/gasless-relay/internal/api"
	"github.com/ashureev/gasless-relay/internal/chain"
	"github.com/ashureev/gasless-relay/internal/config"
	"github.com/ashureev/gasless-relay/internal/content"
	"github.com/ashureev/gasless-relay/internal/events"
	"github.com/ashureev/gasless-relay/internal/healthrpc"
	"github.com/ashureev/gasless-relay/internal/identity"
	"github.com/ashureev/gasless-relay/internal/m2m"
	"github.com/ashureev/gasless-relay/internal/middleware"
	"github.com/ashureev/gasless-relay/internal/relay"
	"github.com/ashureev/gasless-relay/internal/store"
	"github.com/ashureev/gasless-relay/internal/stream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	policy := cfg.Policy()
	slog.Info("Starting server", "port", cfg.Port, "env", cfg.AppEnv, "policy", policy.String())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	commitment := content.NewCommitment(repo, cfg.ContentCacheBytes, content.WithLogger(logger))
	bus := events.NewBus(logger)
	defer bus.Destroy()

	// Chain client (optional). Without it every relay fails as not configured.
	var chainClient chain.Client
	var relayerAddr string
	if cfg.Chain.RPCURL != "" {
		eth, err := dialChain(context.Background(), cfg.Chain, logger)
		if err != nil {
			slog.Error("Failed to connect to chain", "error", err)
			os.Exit(1)
		}
		defer eth.Close()
		chainClient = eth
		relayerAddr = eth.RelayerAddress().Hex()
	} else {
		slog.Warn("RPC_URL not set, relay submissions are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	contractAddr := cfg.Chain.SocialContractAddress
	if chainClient == nil {
		// A relay without a chain cannot submit; report it as unconfigured.
		contractAddr = ""
	}
	svc := relay.NewService(relay.Options{
		Chain:           chainClient,
		Events:          bus,
		Policy:          policy,
		ContractAddress: contractAddr,
		RelayerAddress:  relayerAddr,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		Metrics:         relay.NewMetrics(registry),
		Logger:          logger,
	})

	gate := m2m.NewGate(cfg.M2MAPIKey)
	hub := stream.NewHub(bus, cfg.AllowedOrigins, logger)
	defer hub.Close()

	// Initialize handlers.
	relayHandler := api.NewRelayHandler(svc)
	contentHandler := api.NewContentHandler(commitment)
	publishHandler := api.NewPublishHandler(gate, commitment, svc)
	healthHandler := api.NewHealthHandler(repo, svc)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware())

	healthHandler.RegisterHealth(r)
	relayHandler.RegisterRoutes(r)
	contentHandler.RegisterRoutes(r)
	publishHandler.RegisterRoutes(r)

	r.Get("/ws/events", hub.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Relay requests block through confirmation, so WriteTimeout must exceed it.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ConfirmTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m2m.StartSweeper(ctx, gate)

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err)
			os.Exit(1)
		}
		healthSrv := healthrpc.NewServer(svc.Health().Configured, logger)
		go func() {
			if err := healthSrv.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func dialChain(ctx context.Context, cc config.ChainConfig, logger *slog.Logger) (*chain.Ethereum, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cc.RelayerPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse RELAYER_PRIVATE_KEY: %w", err)
	}

	ecfg := chain.EthereumConfig{
		RPCURL:     cc.RPCURL,
		ChainID:    big.NewInt(cc.ChainID),
		RelayerKey: key,
	}
	if cc.SocialContractAddress != "" {
		ecfg.SocialContract = common.HexToAddress(cc.SocialContractAddress)
	}
	if cc.SessionKeyManagerAddress != "" {
		ecfg.SessionKeyManager = common.HexToAddress(cc.SessionKeyManagerAddress)
	}
	return chain.DialEthereum(ctx, ecfg, logger)
}
