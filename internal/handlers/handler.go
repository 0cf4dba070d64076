package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// Handler serves the REST API over users, the ledger and the payment service.
type Handler struct {
	users    *domain.UserService
	ledger   *domain.AccountLedger
	payments *domain.PaymentService
	checks   map[string]Checker
	l        *zap.Logger
}

// NewHandler creates a new Handler. checks are consulted by GET /health.
func NewHandler(users *domain.UserService, ledger *domain.AccountLedger, payments *domain.PaymentService, checks map[string]Checker) *Handler {
	return &Handler{
		users:    users,
		ledger:   ledger,
		payments: payments,
		checks:   checks,
		l:        zap.L().Named("http"),
	}
}

// Routes returns the HTTP handler with every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Health)
		r.Get("/simple", h.SimpleHealth)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/", h.ListUsers)
			r.Get("/active", h.ListActiveUsers)
			r.Get("/email/{email}", h.GetUserByEmail)
			r.Get("/document/{document}", h.GetUserByDocument)
			r.Get("/exists/email/{email}", h.EmailExists)
			r.Get("/exists/document/{document}", h.DocumentExists)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Patch("/{id}/activate", h.ActivateUser)
			r.Patch("/{id}/deactivate", h.DeactivateUser)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/total-balance", h.GetTotalActiveBalance)
			r.Get("/number/{number}", h.GetAccountByNumber)
			r.Get("/owner/{ownerId}", h.GetAccountsByOwner)
			r.Get("/status/{status}", h.GetAccountsByStatus)
			r.Get("/{id}", h.GetAccount)
			r.Patch("/{id}/block", h.BlockAccount)
			r.Patch("/{id}/unblock", h.UnblockAccount)
			r.Patch("/{id}/close", h.CloseAccount)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/transaction/{transactionId}", h.GetPaymentByTransactionID)
			r.Get("/account/{accountId}", h.GetPaymentsByAccount)
			r.Get("/status/{status}", h.GetPaymentsByStatus)
			r.Get("/date-range", h.GetPaymentsByDateRange)
			r.Get("/stats/total-by-type/{type}", h.GetTotalAmountByType)
			r.Get("/stats/count/{status}", h.CountPaymentsByStatusSince)
			r.Get("/{id}", h.GetPayment)
			r.Patch("/{id}/process", h.ProcessPayment)
			r.Patch("/{id}/cancel", h.CancelPayment)
		})
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.l.Debug("Request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

// Health reports UP only if every registered dependency check passes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "UP",
		Timestamp:  time.Now().UTC(),
		Service:    "payment-system",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.l.Warn("Health check failed", zap.String("component", name), zap.Error(err))
			resp.Components[name] = "DOWN"
			resp.Status = "DOWN"
			continue
		}
		resp.Components[name] = "UP"
	}

	statusCode := http.StatusOK
	if resp.Status != "UP" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// SimpleHealth answers without touching any dependency.
func (h *Handler) SimpleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "UP",
		Timestamp: time.Now().UTC(),
		Service:   "payment-system",
	})
}
