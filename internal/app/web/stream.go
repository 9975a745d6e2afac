package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nats-io/nuid"
	"github.com/tasklists/project/internal/platform/auth"
)

type streamLease struct {
	id     string
	cancel context.CancelFunc
}

// streamRegistry allows one live stream per (user, view); a new stream
// cancels the one it replaces.
type streamRegistry struct {
	mu    sync.Mutex
	byKey map[string]streamLease
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{byKey: make(map[string]streamLease)}
}

func (r *streamRegistry) Replace(key, streamID string, cancel context.CancelFunc) context.CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prevCancel context.CancelFunc
	if current, ok := r.byKey[key]; ok {
		prevCancel = current.cancel
	}
	r.byKey[key] = streamLease{id: streamID, cancel: cancel}
	return prevCancel
}

func (r *streamRegistry) Release(key, streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byKey[key]
	if !ok || current.id != streamID {
		return
	}
	delete(r.byKey, key)
}

// CancelWhere ends every stream whose key matches.
func (r *streamRegistry) CancelWhere(match func(key string) bool) {
	r.mu.Lock()
	var cancels []context.CancelFunc
	for key, lease := range r.byKey {
		if match(key) {
			cancels = append(cancels, lease.cancel)
			delete(r.byKey, key)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (r *streamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// handleEvents streams the board of one view as HTML patches.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}
	claims, err := h.Identity.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	kind := viewKind(r.URL.Query().Get("view"))
	if kind == "" {
		kind = personalView
	}
	listID := strings.TrimSpace(r.URL.Query().Get("list_id"))
	switch kind {
	case personalView:
		listID = ""
	case itemsView:
		if listID == "" {
			http.Error(w, "list_id is required", http.StatusBadRequest)
			return
		}
		ok, err := h.Shared.CanAccess(r.Context(), claims.Subject, listID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	default:
		http.Error(w, "unknown view", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctrl, release, err := h.controllerFor(claims.Subject, kind, listID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer release()

	key := viewKey(claims.Subject, kind, listID)
	streamCtx, cancelStream := context.WithCancel(r.Context())
	streamID := nuid.Next()
	if cancelPrev := h.streams.Replace(key, streamID, cancelStream); cancelPrev != nil {
		cancelPrev()
	}
	defer h.streams.Release(key, streamID)
	defer cancelStream()

	changed := make(chan struct{}, 1)
	stopListening := ctrl.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stopListening()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sendPatch := func() bool {
		var buf bytes.Buffer
		if err := BoardView(ctrl.Board()).Render(streamCtx, &buf); err != nil {
			h.Logger.Warn("render board", "view", key, "err", err)
			return false
		}
		content := strings.ReplaceAll(buf.String(), "\n", "")
		fmt.Fprint(w, "event: patch-elements\n")
		fmt.Fprint(w, "data: selector #board\n")
		fmt.Fprint(w, "data: mode outer\n")
		fmt.Fprintf(w, "data: elements %s\n\n", content)
		flusher.Flush()
		return true
	}

	if !sendPatch() {
		return
	}
	for {
		select {
		case <-streamCtx.Done():
			return
		case <-changed:
			if !sendPatch() {
				return
			}
		}
	}
}
