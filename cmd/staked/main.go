// Command staked runs a staking ledger node: JSON-RPC plus event stream,
// a Prometheus metrics endpoint, and an optional authenticated gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/config"
	"stakeledger/core"
	"stakeledger/gateway"
	"stakeledger/observability/logging"
	"stakeledger/observability/otel"
	"stakeledger/rpc"
	"stakeledger/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node TOML config")
	env := flag.String("env", "dev", "deployment environment label")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logging.Setup("staked", *env, logging.Options{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "staked",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			slog.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	controller, err := cfg.ControllerAddress()
	if err != nil {
		slog.Error("parse controller address", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		slog.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		Controller:         controller,
		LockDurationMillis: cfg.LockDurationMillis,
	})
	if err != nil {
		slog.Error("start node", "error", err)
		os.Exit(1)
	}
	slog.Info("node ready",
		"data_dir", cfg.DataDir,
		"lock_duration_ms", node.LockDuration(),
	)

	errCh := make(chan error, 3)

	rpcServer := rpc.NewServer(node)
	go func() {
		slog.Info("rpc listening", "address", cfg.RPCAddress)
		errCh <- rpcServer.Start(cfg.RPCAddress)
	}()

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics listening", "address", cfg.MetricsAddress)
			errCh <- http.ListenAndServe(cfg.MetricsAddress, mux)
		}()
	}

	if cfg.Gateway.Enabled {
		gw, err := gateway.New(gateway.Config{
			ListenAddress:     cfg.GatewayAddress,
			UpstreamRPC:       "http://" + cfg.RPCAddress,
			JWTSecret:         cfg.Gateway.JWTSecret,
			JWTIssuer:         cfg.Gateway.JWTIssuer,
			JWTAudience:       cfg.Gateway.JWTAudience,
			AllowedOrigins:    cfg.Gateway.AllowedOrigins,
			RequestsPerMinute: int(cfg.Gateway.RequestsPerMinute),
			Burst:             cfg.Gateway.Burst,
		})
		if err != nil {
			slog.Error("build gateway", "error", err)
			os.Exit(1)
		}
		go func() {
			errCh <- gw.Start()
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("listener failed", "error", err)
		os.Exit(1)
	}
}
