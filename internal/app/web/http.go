// Package web serves the task list HTTP API and the live view stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasklists/project/internal/app/collab"
	"github.com/tasklists/project/internal/app/identity"
	"github.com/tasklists/project/internal/app/notify"
	"github.com/tasklists/project/internal/app/shared"
	"github.com/tasklists/project/internal/app/tasks"
	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/platform/auth"
	"github.com/tasklists/project/internal/platform/metrics"
)

const viewSweepInterval = 30 * time.Second

type Handler struct {
	Identity *identity.Service
	Store    backend.Store
	Realtime backend.Realtime
	Shared   *shared.Service
	Collab   *collab.Manager
	Location *time.Location
	Metrics  *metrics.Sync
	Logger   *slog.Logger

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// Ready backs /readyz; nil reports ready.
	Ready         func(ctx context.Context) error
	AllowedOrigin string

	views   *viewCache
	streams *streamRegistry

	janitorOnce sync.Once
	stopJanitor chan struct{}
	closeOnce   sync.Once
}

func NewHandler(identitySvc *identity.Service, store backend.Store, realtime backend.Realtime, loc *time.Location, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	sharedSvc := shared.NewService(store, realtime, logger)
	return &Handler{
		Identity: identitySvc,
		Store:    store,
		Realtime: realtime,
		Shared:   sharedSvc,
		Collab:   collab.NewManager(store),
		Location: loc,
		Logger:   logger,
		views:    newViewCache(defaultViewIdleTimeout),
		streams:  newStreamRegistry(),

		stopJanitor: make(chan struct{}),
	}
}

// SetViewIdleTimeout sets how long a view with no request or stream stays
// mounted. Zero closes it as soon as the last user lets go.
func (h *Handler) SetViewIdleTimeout(d time.Duration) {
	h.views.setIdleTTL(d)
}

// Close stops idle eviction and releases every mounted view.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() { close(h.stopJanitor) })
	return h.views.CloseAll(h.Metrics)
}

// sweepIdleViews closes unused views until Close is called.
func (h *Handler) sweepIdleViews(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopJanitor:
			return
		case <-ticker.C:
			if err := h.views.Sweep(h.Metrics); err != nil {
				h.Logger.Warn("close idle views", "err", err)
			}
		}
	}
}

func (h *Handler) Router() http.Handler {
	h.janitorOnce.Do(func() { go h.sweepIdleViews(viewSweepInterval) })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	if h.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.MetricsHandler)
	}
	r.Get("/", h.handleIndex)
	r.Get("/events", h.handleEvents)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/signup", h.handleSignUp)
		api.Post("/auth/login", h.handleLogin)
		api.Post("/auth/refresh", h.handleRefresh)
		api.Post("/auth/logout", h.handleLogout)

		api.Group(func(authR chi.Router) {
			authR.Use(h.authMiddleware)
			authR.Get("/me", h.handleMe)

			authR.Get("/todos", h.handleBoard(personalView))
			authR.Post("/todos", h.handleAdd(personalView))
			authR.Post("/todos/{id}/toggle", h.handleToggle(personalView))
			authR.Delete("/todos/{id}", h.handleDelete(personalView))
			authR.Post("/todos/groups/{date}/toggle", h.handleToggleGroup(personalView))

			authR.Get("/lists", h.handleListLists)
			authR.Post("/lists", h.handleCreateList)
			authR.Delete("/lists/{listID}", h.handleDeleteList)

			authR.Group(func(listR chi.Router) {
				listR.Use(h.listAccessMiddleware)
				listR.Get("/lists/{listID}/items", h.handleBoard(itemsView))
				listR.Post("/lists/{listID}/items", h.handleAdd(itemsView))
				listR.Post("/lists/{listID}/items/{id}/toggle", h.handleToggle(itemsView))
				listR.Delete("/lists/{listID}/items/{id}", h.handleDelete(itemsView))
				listR.Post("/lists/{listID}/items/groups/{date}/toggle", h.handleToggleGroup(itemsView))
				listR.Get("/lists/{listID}/collaborators", h.handleListCollaborators)
				listR.Post("/lists/{listID}/collaborators", h.handleInvite)
			})

			authR.Get("/notifications", h.handleNotifications)
			authR.Post("/notifications/{id}/read", h.handleMarkRead)
		})
	})

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		checkCtx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
		defer cancel()
		if err := h.Ready(checkCtx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Identity.SignOut(r.Context(), req.RefreshToken); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	profile, err := h.Identity.Profile(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// writeDomainError maps sentinel errors to status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrEmailRequired),
		errors.Is(err, identity.ErrInvalidPassword),
		errors.Is(err, identity.ErrRefreshTokenMissing),
		errors.Is(err, collab.ErrEmailRequired),
		errors.Is(err, collab.ErrListRequired),
		errors.Is(err, shared.ErrTitleRequired),
		errors.Is(err, shared.ErrListRequired),
		errors.Is(err, tasks.ErrTitleRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidRefreshToken):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, shared.ErrNotOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound),
		errors.Is(err, collab.ErrUserNotFound),
		errors.Is(err, shared.ErrListNotFound),
		errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrEmailTaken),
		errors.Is(err, collab.ErrAlreadyCollaborator),
		errors.Is(err, backend.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.Logger.Error("request failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(h.AllowedOrigin)
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.Verify(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

// listAccessMiddleware admits owners and collaborators of {listID}.
func (h *Handler) listAccessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		ok, err := h.Shared.CanAccess(r.Context(), claims.Subject, chi.URLParam(r, "listID"))
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if !ok {
			h.writeError(w, http.StatusNotFound, shared.ErrListNotFound.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(auth.Claims)
	return claims
}
