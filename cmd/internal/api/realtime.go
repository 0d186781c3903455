package api

import (
	"net/http"

	"bazaar/cmd/internal/auth"
)

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	since, err := querySince(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	res, err := h.engine.Poll(r.Context(), p.UserID, since)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, res)
}

func (h *Handler) handleLongPoll(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	since, err := querySince(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	timeout, err := queryInt(r, "timeout")
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	res, err := h.engine.LongPoll(r.Context(), p.UserID, since, timeout)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, res)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	res, err := h.engine.Status(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, res)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	since, err := querySince(r)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	has, err := h.engine.HasNew(r.Context(), p.UserID, since)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeOK(w, has)
}

func (h *Handler) handleOnlineCount(w http.ResponseWriter, _ *http.Request, _ auth.Principal) {
	writeOK(w, h.engine.OnlineCount())
}
