package klippekort_api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-klippekort/internal/auth"
	"ms-klippekort/internal/metrics"
	"ms-klippekort/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles what NewRouter mounts besides the handler itself.
type RouterDeps struct {
	Verifier   auth.TokenVerifier
	AdminToken string
	// Health reports whether the backing stores are reachable.
	Health func(r *http.Request) error
}

func NewRouter(h *Handler, deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	// --- Public Routes ---
	r.Get("/health", h.health(deps.Health))
	r.Handle("/metrics", promhttp.Handler())

	// --- Owner Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, h.Logger))

		r.Get("/api/klippekort", h.ListCards)
		r.Get("/api/klippekort/tickets", h.Tickets)
		r.Post("/api/klippekort/tickets/{ticketId}/activate", h.ActivateTicket)
		r.Get("/api/klippekort/tickets/{ticketId}/qr", h.TicketQR)
		r.Post("/api/klippekort/{cardId}/redeem", h.Redeem)
		r.Get("/api/klippekort/{cardId}/redemptions", h.Redemptions)
	})
	h.Logger.Info("ROUTER", "Owner routes registered under /api/klippekort")

	// --- Admin Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(deps.AdminToken, h.Logger))

		r.Post("/api/orders", h.IssueOrder)
		r.Post("/api/orders/{orderReference}/refunds", h.ApplyRefund)
		r.Get("/api/orders/{orderReference}/refunded", h.IsRefunded)
		r.Post("/api/klippekort/{cardId}/reconcile", h.Reconcile)
		r.Post("/api/klippekort/tickets/verify", h.VerifyTicket)
	})
	h.Logger.Info("ROUTER", "Admin routes registered under /api/orders")

	return r
}

func (h *Handler) health(check func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r); err != nil {
				utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", err.Error()))
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	}
}

// instrument logs every request and records its latency under the matched route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		if route != "/metrics" && route != "/health" {
			h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), fmt.Sprint(elapsed))
		}
	})
}
