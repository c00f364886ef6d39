// Command stakeindexerd follows a node's event stream, maintains relational
// projections of records and bindings, serves a small query API, and writes
// periodic parquet audit exports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"stakeledger/observability/logging"
	"stakeledger/services/stakeindexerd/audit"
	"stakeledger/services/stakeindexerd/config"
	"stakeledger/services/stakeindexerd/follower"
	"stakeledger/services/stakeindexerd/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the indexer YAML config")
	env := flag.String("env", "dev", "deployment environment label")
	flag.Parse()

	logging.Setup("stake-indexerd", *env, logging.Options{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := follower.New(cfg.NodeWS, store).Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("follower stopped", "error", err)
		}
	}()

	if cfg.Audit.Directory != "" {
		exporter, err := audit.NewExporter(store, cfg.Audit.Directory)
		if err != nil {
			slog.Error("prepare audit exports", "error", err)
			os.Exit(1)
		}
		go exporter.Run(cfg.Audit.Interval, ctx.Done())
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiRouter(store),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("indexer API listening", "address", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("indexer API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func apiRouter(store *storage.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		after, _ := strconv.ParseUint(req.URL.Query().Get("after"), 10, 64)
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		rows, err := store.EventsAfter(after, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	})
	r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
		rows, err := store.RecordsForOwner(req.URL.Query().Get("owner"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	})
	r.Get("/bindings", func(w http.ResponseWriter, _ *http.Request) {
		rows, err := store.Bindings()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	})
	return r
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
