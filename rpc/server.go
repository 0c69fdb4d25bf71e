package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lnsim/config"
	"lnsim/core/types"
	"lnsim/network"
	"lnsim/observability/metrics"
)

// Backend is the read-only view of a running simulation.
type Backend interface {
	GetStats() network.Stats
	NodeSummaries() []network.NodeSummary
	NodeView(id types.NodeID) (network.NodeView, bool)
	ChainView() network.ChainView
	Block(height uint64) (*types.Block, bool)
}

// Options guards the API. The zero value serves every client unauthenticated
// and unthrottled.
type Options struct {
	AuthToken string
	// RateLimit is the sustained requests per second allowed per client address.
	RateLimit float64
	RateBurst int
}

// OptionsFrom maps the listener configuration onto API options.
func OptionsFrom(cfg config.Metrics) Options {
	return Options{AuthToken: cfg.AuthToken, RateLimit: cfg.RateLimit, RateBurst: cfg.RateBurst}
}

// NewRouter builds the introspection API. /healthz is served without
// authentication.
func NewRouter(backend Backend, logger *slog.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observe)
	r.Use(h.rateLimit(newIPRateLimiter(opts.RateLimit, opts.RateBurst)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(pr chi.Router) {
		pr.Use(h.requireToken(opts.AuthToken))
		pr.Get("/stats", h.stats)
		pr.Route("/nodes", func(nr chi.Router) {
			nr.Get("/", h.nodes)
			nr.Get("/{id}", h.node)
		})
		pr.Route("/chain", func(cr chi.Router) {
			cr.Get("/", h.chain)
			cr.Get("/blocks/{height}", h.block)
		})
		pr.Handle("/metrics", promhttp.Handler())
	})

	return otelhttp.NewHandler(r, "lnsim-rpc")
}

func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RPC().Observe(route, status, time.Since(start))
	})
}

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.backend.GetStats())
}

func (h *handlers) nodes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.backend.NodeSummaries())
}

func (h *handlers) node(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	view, ok := h.backend.NodeView(types.NodeID(id))
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown node "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *handlers) chain(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.backend.ChainView())
}

func (h *handlers) block(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid height")
		return
	}
	block, ok := h.backend.Block(height)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown block")
		return
	}
	h.writeJSON(w, http.StatusOK, block)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", slog.Any("error", err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, backend Backend, logger *slog.Logger, opts Options) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(backend, logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
