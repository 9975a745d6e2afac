package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tasklists/project/internal/app/tasks"
	"github.com/tasklists/project/internal/platform/metrics"
)

type viewKind string

const (
	personalView viewKind = "todos"
	itemsView    viewKind = "items"
)

func viewKey(userID string, kind viewKind, listID string) string {
	if kind == itemsView {
		return userID + "/" + string(kind) + "/" + listID
	}
	return userID + "/" + string(kind)
}

const defaultViewIdleTimeout = 2 * time.Minute

// viewCache keeps one mounted controller per (user, view). Every request
// and stream holds a reference while it uses the controller; a controller
// without references is closed once it has been idle for idleTTL, or at
// once when idleTTL is zero.
type viewCache struct {
	mu      sync.Mutex
	byKey   map[string]*cachedView
	idleTTL time.Duration
	now     func() time.Time
}

type cachedView struct {
	ready     chan struct{}
	ctx       context.Context
	ctrl      tasks.Controller
	err       error
	cancel    context.CancelFunc
	refs      int
	idleSince time.Time
	closeOnce sync.Once
	closeErr  error
}

func newViewCache(idleTTL time.Duration) *viewCache {
	return &viewCache{byKey: map[string]*cachedView{}, idleTTL: idleTTL, now: time.Now}
}

// Acquire returns the mounted controller for key, opening and mounting it
// on first use, plus the function that drops the reference again.
// Concurrent callers for the same key share one mount.
func (c *viewCache) Acquire(key string, m *metrics.Sync, open func() tasks.Controller) (tasks.Controller, func(), error) {
	c.mu.Lock()
	entry, ok := c.byKey[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		entry = &cachedView{ready: make(chan struct{}), ctx: ctx, cancel: cancel}
		c.byKey[key] = entry
	}
	entry.refs++
	c.mu.Unlock()

	if !ok {
		ctrl := open()
		if err := ctrl.Mount(entry.ctx); err != nil {
			entry.err = err
		} else {
			entry.ctrl = ctrl
			m.ViewMounted()
		}
		close(entry.ready)
	}
	<-entry.ready

	if entry.err != nil {
		c.mu.Lock()
		entry.refs--
		if c.byKey[key] == entry {
			delete(c.byKey, key)
		}
		c.mu.Unlock()
		entry.cancel()
		return nil, func() {}, entry.err
	}

	var once sync.Once
	release := func() { once.Do(func() { c.release(key, entry, m) }) }
	return entry.ctrl, release, nil
}

func (c *viewCache) release(key string, entry *cachedView, m *metrics.Sync) {
	c.mu.Lock()
	entry.refs--
	closeNow := false
	if entry.refs == 0 {
		entry.idleSince = c.now()
		if c.idleTTL <= 0 && c.byKey[key] == entry {
			delete(c.byKey, key)
			closeNow = true
		}
	}
	c.mu.Unlock()
	if closeNow {
		if err := entry.close(m); err != nil {
			slog.Warn("close idle view", "view", key, "err", err)
		}
	}
}

// Sweep closes every controller that has had no reference for idleTTL.
func (c *viewCache) Sweep(m *metrics.Sync) error {
	c.mu.Lock()
	now := c.now()
	var idle []*cachedView
	for key, entry := range c.byKey {
		if entry.refs > 0 || now.Sub(entry.idleSince) < c.idleTTL {
			continue
		}
		idle = append(idle, entry)
		delete(c.byKey, key)
	}
	c.mu.Unlock()

	var errs []error
	for _, entry := range idle {
		errs = append(errs, entry.close(m))
	}
	return errors.Join(errs...)
}

// EvictWhere closes the controllers whose key matches, in use or not.
// Holders keep a closed controller until they release it.
func (c *viewCache) EvictWhere(match func(key string) bool, m *metrics.Sync) error {
	c.mu.Lock()
	var evicted []*cachedView
	for key, entry := range c.byKey {
		if match(key) {
			evicted = append(evicted, entry)
			delete(c.byKey, key)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, entry := range evicted {
		errs = append(errs, entry.close(m))
	}
	return errors.Join(errs...)
}

func (c *viewCache) CloseAll(m *metrics.Sync) error {
	return c.EvictWhere(func(string) bool { return true }, m)
}

func (c *viewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

func (c *viewCache) setIdleTTL(d time.Duration) {
	c.mu.Lock()
	c.idleTTL = d
	c.mu.Unlock()
}

func (v *cachedView) close(m *metrics.Sync) error {
	<-v.ready
	v.closeOnce.Do(func() {
		v.cancel()
		if v.ctrl == nil {
			return
		}
		m.ViewClosed()
		v.closeErr = v.ctrl.Close()
	})
	return v.closeErr
}

// listViewKey reports whether key names an items view of listID, whoever
// holds it.
func listViewKey(listID string) func(string) bool {
	suffix := "/" + string(itemsView) + "/" + listID
	return func(key string) bool { return strings.HasSuffix(key, suffix) }
}

func (h *Handler) controller(r *http.Request, kind viewKind) (tasks.Controller, func(), error) {
	claims := claimsFromContext(r.Context())
	listID := chi.URLParam(r, "listID")
	return h.controllerFor(claims.Subject, kind, listID)
}

func (h *Handler) controllerFor(userID string, kind viewKind, listID string) (tasks.Controller, func(), error) {
	opts := []tasks.Option{tasks.WithMetrics(h.Metrics), tasks.WithLogger(h.Logger)}
	return h.views.Acquire(viewKey(userID, kind, listID), h.Metrics, func() tasks.Controller {
		if kind == itemsView {
			return tasks.NewSharedItems(h.Store, h.Realtime, listID, h.Location, opts...)
		}
		return tasks.NewPersonal(h.Store, h.Realtime, userID, h.Location, opts...)
	})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleBoard(kind viewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, release, err := h.controller(r, kind)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		defer release()
		if r.URL.Query().Get("reload") == "1" {
			if err := ctrl.Reload(r.Context()); err != nil {
				h.writeDomainError(w, err)
				return
			}
		}
		h.writeJSON(w, http.StatusOK, ctrl.Board())
	}
}

func (h *Handler) handleAdd(kind viewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req titleRequest
		if !h.decode(w, r, &req) {
			return
		}
		ctrl, release, err := h.controller(r, kind)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		defer release()
		entry, err := ctrl.AddEntry(r.Context(), req.Title)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, entry)
	}
}

func (h *Handler) handleToggle(kind viewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, release, err := h.controller(r, kind)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		defer release()
		entry, err := ctrl.ToggleEntry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) handleDelete(kind viewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, release, err := h.controller(r, kind)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		defer release()
		if err := ctrl.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			h.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleToggleGroup(kind viewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, release, err := h.controller(r, kind)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		defer release()
		open := ctrl.ToggleGroup(chi.URLParam(r, "date"))
		h.writeJSON(w, http.StatusOK, map[string]string{"open": open})
	}
}
