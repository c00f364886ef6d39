// Package gateway exposes the JSON-RPC node behind an authenticated HTTP
// front door with per-client rate limiting. It is intended for deployments
// that cannot place the node behind their own ingress.
package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/gateway/middleware"
)

// Config describes the gateway deployment.
type Config struct {
	// ListenAddress is the host:port the gateway serves on.
	ListenAddress string
	// UpstreamRPC is the base URL of the node's JSON-RPC listener.
	UpstreamRPC string
	// JWTSecret signs and verifies access tokens (HMAC-SHA256).
	JWTSecret string
	// JWTIssuer and JWTAudience, when set, are enforced on every token.
	JWTIssuer   string
	JWTAudience string
	// AllowedOrigins lists origins allowed to call from browsers. Empty
	// disables cross-origin access entirely.
	AllowedOrigins []string
	// RequestsPerMinute and Burst bound each client's call budget.
	RequestsPerMinute int
	Burst             int
}

// Server is the assembled gateway handler set.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New wires the router, middleware chain and upstream proxy. The upstream URL
// must parse; everything else has workable defaults.
func New(cfg Config) (*Server, error) {
	upstream, err := url.Parse(cfg.UpstreamRPC)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("gateway upstream error", "path", r.URL.Path, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	limiter := middleware.NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authed := middleware.RequireJWT(middleware.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	r.Group(func(r chi.Router) {
		r.Use(authed)
		r.Handle("/rpc", http.StripPrefix("/rpc", proxy))
		r.Handle("/rpc/*", http.StripPrefix("/rpc", proxy))
	})

	return &Server{
		cfg:     cfg,
		handler: otelhttp.NewHandler(r, "stake-gateway"),
	}, nil
}

// Handler returns the fully assembled handler chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until the listener fails.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway listening", "address", s.cfg.ListenAddress)
	return server.ListenAndServe()
}

func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			allowedSet[trimmed] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowedSet[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
