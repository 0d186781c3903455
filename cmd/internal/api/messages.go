package api

import (
	"net/http"
	"strconv"
	"time"

	"bazaar/cmd/internal/auth"
	"bazaar/cmd/internal/messaging"
	"bazaar/cmd/internal/realtime"
)

type sendRequest struct {
	ReceiverID  int64  `json:"receiverId"`
	Content     string `json:"content"`
	ProductID   *int64 `json:"productId"`
	MessageType string `json:"messageType"`
}

type openConversationRequest struct {
	OtherUserID int64  `json:"otherUserId"`
	ProductID   *int64 `json:"productId"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req sendRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if ok, retry := h.sendLimiter.Reserve(p.UserID, h.now()); !ok {
		secs := int64(retry / time.Second)
		if retry%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
		return
	}

	view, err := h.svc.SendMessage(r.Context(), messaging.SendInput{
		SenderID:   p.UserID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		SubjectID:  req.ProductID,
		Type:       req.MessageType,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, view)
}

func (h *Handler) handleOpenConversation(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req openConversationRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	view, err := h.svc.GetOrCreateConversation(r.Context(), p.UserID, req.OtherUserID, req.ProductID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, view)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	views, err := h.svc.Conversations(r.Context(), p.UserID, messaging.ConversationQuery{
		Page:       page,
		Size:       size,
		Status:     r.URL.Query().Get("status"),
		OnlyUnread: queryBool(r, "onlyUnread"),
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, views)
}

func (h *Handler) handleConversationDetail(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	view, err := h.svc.ConversationDetail(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, view)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req statusRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	view, err := h.svc.UpdateStatus(r.Context(), p.UserID, r.PathValue("id"), req.Status)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, view)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	views, err := h.svc.History(r.Context(), p.UserID, r.PathValue("id"), page, size)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, views)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if err := h.svc.MarkRead(r.Context(), p.UserID, r.PathValue("id")); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, nil)
}

func (h *Handler) handleNewSince(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	since, err := querySince(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	if since.IsZero() {
		since = h.now().Add(-realtime.DefaultLookback)
	}
	views, err := h.svc.NewSince(r.Context(), p.UserID, since)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, views)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	n, err := h.svc.UnreadCount(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, n)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	view, err := h.svc.Message(r.Context(), p.UserID, r.PathValue("messageId"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, view)
}
