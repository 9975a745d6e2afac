package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasklists/project/internal/app/notify"
)

func (h *Handler) handleListLists(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	lists, err := h.Shared.ListsFor(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"lists": lists})
}

func (h *Handler) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	list, err := h.Shared.Create(r.Context(), claims.Subject, req.Title)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, list)
}

func (h *Handler) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	listID := chi.URLParam(r, "listID")
	if err := h.Shared.Delete(r.Context(), claims.Subject, listID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	// Every member's view of the list goes, not only the owner's.
	h.streams.CancelWhere(listViewKey(listID))
	if err := h.views.EvictWhere(listViewKey(listID), h.Metrics); err != nil {
		h.Logger.Warn("close list views", "list_id", listID, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	collaborators, err := h.Collab.ListCollaborators(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"collaborators": collaborators})
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	collaborators, err := h.Collab.Invite(r.Context(), chi.URLParam(r, "listID"), req.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"collaborators": collaborators})
}

type notificationsResponse struct {
	Unread int                `json:"unread"`
	Items  []notificationJSON `json:"items"`
}

type notificationJSON struct {
	ID      string `json:"id"`
	ListID  string `json:"list_id"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) (*notify.Feed, bool) {
	claims := claimsFromContext(r.Context())
	feed := notify.NewFeed(h.Store, claims.Subject, h.Logger)
	if err := feed.Refresh(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return nil, false
	}
	return feed, true
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.notifications(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, renderNotifications(feed))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.notifications(w, r)
	if !ok {
		return
	}
	if err := feed.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, renderNotifications(feed))
}

func renderNotifications(feed *notify.Feed) notificationsResponse {
	items := feed.Items()
	resp := notificationsResponse{Unread: feed.UnreadCount(), Items: make([]notificationJSON, 0, len(items))}
	for _, n := range items {
		resp.Items = append(resp.Items, notificationJSON{
			ID:      n.ID,
			ListID:  n.ListID,
			Message: n.Message(),
			IsRead:  n.IsRead,
		})
	}
	return resp
}
