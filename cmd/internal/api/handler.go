// Package api exposes the messaging and realtime operations over JSON/HTTP.
//
// Every route requires a bearer token. Responses use one envelope:
//
//	{"success":true,"data":...}
//	{"success":false,"error":{"code":"...","message":"..."}}
package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bazaar/cmd/internal/auth"
	"bazaar/cmd/internal/messaging"
	"bazaar/cmd/internal/realtime"
)

// Config controls request limits.
type Config struct {
	MaxBodyBytes int64
	SendRPS      float64
	SendBurst    int
}

// DefaultConfig returns the limits used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		SendRPS:      5,
		SendBurst:    10,
	}
}

// Handler serves /api/message/* and /api/realtime/*.
type Handler struct {
	log    *slog.Logger
	svc    *messaging.Service
	engine *realtime.Engine
	authn  auth.Authenticator

	maxBodyBytes int64
	sendLimiter  *limiterPool
	now          func() time.Time
}

// NewHandler wires the HTTP surface. All dependencies are required.
func NewHandler(log *slog.Logger, svc *messaging.Service, engine *realtime.Engine, authn auth.Authenticator, cfg Config) (*Handler, error) {
	if svc == nil || engine == nil || authn == nil {
		return nil, errors.New("api: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	return &Handler{
		log:          log,
		svc:          svc,
		engine:       engine,
		authn:        authn,
		maxBodyBytes: cfg.MaxBodyBytes,
		sendLimiter:  newLimiterPool(cfg.SendRPS, cfg.SendBurst),
		now:          time.Now,
	}, nil
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/message/send", h.authed(h.handleSend))
	mux.HandleFunc("POST /api/message/conversation", h.authed(h.handleOpenConversation))
	mux.HandleFunc("GET /api/message/conversations", h.authed(h.handleConversations))
	mux.HandleFunc("GET /api/message/conversation/{id}", h.authed(h.handleConversationDetail))
	mux.HandleFunc("PUT /api/message/conversation/{id}", h.authed(h.handleUpdateStatus))
	mux.HandleFunc("GET /api/message/history/{id}", h.authed(h.handleHistory))
	mux.HandleFunc("PUT /api/message/read/{id}", h.authed(h.handleMarkRead))
	mux.HandleFunc("GET /api/message/new", h.authed(h.handleNewSince))
	mux.HandleFunc("GET /api/message/unread-count", h.authed(h.handleUnreadCount))
	mux.HandleFunc("GET /api/message/item/{messageId}", h.authed(h.handleMessage))

	mux.HandleFunc("GET /api/realtime/poll", h.authed(h.handlePoll))
	mux.HandleFunc("GET /api/realtime/long-poll", h.authed(h.handleLongPoll))
	mux.HandleFunc("GET /api/realtime/status", h.authed(h.handleStatus))
	mux.HandleFunc("GET /api/realtime/check", h.authed(h.handleCheck))
	mux.HandleFunc("GET /api/realtime/online-count", h.authed(h.handleOnlineCount))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

// authed rejects the request with 401 before any messaging logic when the token is missing or invalid.
func (h *Handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeDomainError(w, r, h.log, auth.ErrMissingToken)
			return
		}
		p, err := h.authn.Authenticate(r.Context(), token)
		if err != nil {
			h.log.Debug("auth.reject", "path", r.URL.Path, "err", err)
			writeDomainError(w, r, h.log, err)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)), p)
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ---- query helpers ----

func badParam(name string) error {
	return &messaging.Error{Kind: messaging.ErrInvalidArgument, Code: "invalid_" + name, Message: name + " must be a number"}
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badParam(name)
	}
	return n, nil
}

// querySince parses a unix-millis cursor; absent means the zero time.
func querySince(r *http.Request) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get("since"))
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 || ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Time{}, badParam("since")
	}
	return messaging.FromUnixMilli(ms), nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return b
}
