package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"bazaar/cmd/internal/auth"
	"bazaar/cmd/internal/messaging"
	"bazaar/cmd/internal/realtime"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	srv    *httptest.Server
	issuer *auth.PasetoIssuer
	svc    *messaging.Service
}

func newTestServer(t *testing.T, cfg Config, engineOpts ...realtime.EngineOption) *testServer {
	t.Helper()

	secret, public := auth.GenerateKeyHex()
	acfg := auth.DefaultConfig()
	acfg.SecretKeyHex = secret
	acfg.PublicKeyHex = public

	issuer, err := auth.NewPasetoIssuer(acfg)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	verifier, err := auth.NewPasetoVerifier(acfg)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	svc, err := messaging.NewService(messaging.NewInMemoryStore(), messaging.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	eng, err := realtime.NewEngine(svc, nil, append([]realtime.EngineOption{realtime.WithEngineLogger(quietLogger())}, engineOpts...)...)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h, err := NewHandler(quietLogger(), svc, eng, verifier, cfg)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, issuer: issuer, svc: svc}
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, _, err := s.issuer.Issue(userID, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, http.Header, envelope) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, resp.Header, env
}

func TestHandler_RequiresToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})

	code, _, env := s.do(t, http.MethodGet, "/api/message/unread-count", "", nil)
	if code != http.StatusUnauthorized || env.Success || env.Error == nil || env.Error.Code != "unauthorized" {
		t.Fatalf("missing token: code=%d env=%+v", code, env)
	}

	code, _, env = s.do(t, http.MethodGet, "/api/realtime/status", "v4.public.garbage", nil)
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "invalid_token" {
		t.Fatalf("bad token: code=%d env=%+v", code, env)
	}
}

func TestHandler_SendAndRead(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})
	alice, bob, carol := s.token(t, 1), s.token(t, 3), s.token(t, 7)

	code, _, env := s.do(t, http.MethodPost, "/api/message/send", alice, map[string]any{
		"receiverId": 3,
		"content":    "is this still available?",
		"productId":  100,
	})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("send: code=%d env=%+v", code, env)
	}
	var sent messaging.MessageView
	if err := json.Unmarshal(env.Data, &sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if sent.ConversationID != "1_3_100" || sent.MessageType != messaging.DefaultMessageType || sent.Read {
		t.Fatalf("unexpected message: %+v", sent)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/message/unread-count", bob, nil)
	if string(env.Data) != "1" {
		t.Fatalf("bob unread: got=%s want=1", env.Data)
	}

	code, _, env = s.do(t, http.MethodGet, "/api/message/history/1_3_100", carol, nil)
	if code != http.StatusForbidden || env.Error == nil || env.Error.Code != "not_participant" {
		t.Fatalf("outsider history: code=%d env=%+v", code, env)
	}

	code, _, env = s.do(t, http.MethodGet, "/api/message/history/1_3_100?page=1&size=10", bob, nil)
	if code != http.StatusOK {
		t.Fatalf("history: code=%d env=%+v", code, env)
	}
	var hist []messaging.MessageView
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 || hist[0].MessageID != sent.MessageID {
		t.Fatalf("history: %+v", hist)
	}

	if code, _, env = s.do(t, http.MethodPut, "/api/message/read/1_3_100", bob, nil); code != http.StatusOK || !env.Success {
		t.Fatalf("mark read: code=%d env=%+v", code, env)
	}
	_, _, env = s.do(t, http.MethodGet, "/api/message/unread-count", bob, nil)
	if string(env.Data) != "0" {
		t.Fatalf("bob unread after read: got=%s want=0", env.Data)
	}

	code, _, env = s.do(t, http.MethodGet, "/api/message/item/"+sent.MessageID, alice, nil)
	if code != http.StatusOK {
		t.Fatalf("item: code=%d env=%+v", code, env)
	}
	var item messaging.MessageView
	if err := json.Unmarshal(env.Data, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if !item.Read {
		t.Fatalf("item not read after mark-read: %+v", item)
	}
}

func TestHandler_Rejections(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})
	alice := s.token(t, 1)

	cases := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"self message", http.MethodPost, "/api/message/send", map[string]any{"receiverId": 1, "content": "hi"}, http.StatusBadRequest, "self_message"},
		{"empty content", http.MethodPost, "/api/message/send", map[string]any{"receiverId": 2, "content": "  "}, http.StatusBadRequest, "empty_content"},
		{"missing receiver", http.MethodPost, "/api/message/send", map[string]any{"content": "hi"}, http.StatusBadRequest, "missing_receiver"},
		{"malformed json", http.MethodPost, "/api/message/send", `{"receiverId":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", http.MethodPost, "/api/message/send", `{"receiverId":2,"content":"hi","extra":1}`, http.StatusBadRequest, "invalid_json"},
		{"bad since", http.MethodGet, "/api/realtime/poll?since=yesterday", nil, http.StatusBadRequest, "invalid_since"},
		{"bad timeout", http.MethodGet, "/api/realtime/long-poll?timeout=soon", nil, http.StatusBadRequest, "invalid_timeout"},
		{"bad page", http.MethodGet, "/api/message/conversations?page=x", nil, http.StatusBadRequest, "invalid_page"},
		{"bad status", http.MethodGet, "/api/message/conversations?status=DELETED", nil, http.StatusBadRequest, "invalid_status"},
		{"unknown message", http.MethodGet, "/api/message/item/01HZZZZZZZZZZZZZZZZZZZZZZZ", nil, http.StatusNotFound, ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, _, env := s.do(t, tc.method, tc.path, alice, tc.body)
			if code != tc.wantStatus {
				t.Fatalf("status: got=%d want=%d env=%+v", code, tc.wantStatus, env)
			}
			if env.Success || env.Error == nil {
				t.Fatalf("expected error envelope, got %+v", env)
			}
			if tc.wantCode != "" && env.Error.Code != tc.wantCode {
				t.Fatalf("code: got=%q want=%q", env.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestHandler_ConversationLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{})
	alice, bob := s.token(t, 5), s.token(t, 2)

	code, _, env := s.do(t, http.MethodPost, "/api/message/conversation", alice, map[string]any{"otherUserId": 2})
	if code != http.StatusOK {
		t.Fatalf("open: code=%d env=%+v", code, env)
	}
	var conv messaging.ConversationView
	if err := json.Unmarshal(env.Data, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if conv.ConversationID != "2_5" || conv.OtherPartyID != 2 {
		t.Fatalf("conversation: %+v", conv)
	}

	code, _, env = s.do(t, http.MethodPut, "/api/message/conversation/2_5", bob, map[string]any{"status": "archived"})
	if code != http.StatusOK {
		t.Fatalf("archive: code=%d env=%+v", code, env)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/message/conversations?status=ARCHIVED", alice, nil)
	var list []messaging.ConversationView
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Status != messaging.StatusArchived {
		t.Fatalf("archived list: %+v", list)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/message/conversations?onlyUnread=true", alice, nil)
	list = nil
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode unread list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("only unread: got %d conversations", len(list))
	}

	code, _, _ = s.do(t, http.MethodGet, "/api/message/conversation/2_5", s.token(t, 9), nil)
	if code != http.StatusForbidden {
		t.Fatalf("outsider detail: got=%d want=403", code)
	}
}

func TestHandler_RealtimeRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{}, realtime.WithInterval(50*time.Millisecond))
	bob := s.token(t, 3)

	start := time.Now()
	code, _, env := s.do(t, http.MethodGet, "/api/realtime/long-poll?timeout=1", bob, nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("long-poll timeout: code=%d env=%+v", code, env)
	}
	if el := time.Since(start); el < 900*time.Millisecond {
		t.Fatalf("long-poll returned early: %v", el)
	}
	var res realtime.PollResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if res.HasNewMessages || res.CurrentTime == 0 {
		t.Fatalf("timeout result: %+v", res)
	}

	since := strconv.FormatInt(messaging.UnixMilli(time.Now().Add(-time.Second)), 10)
	if _, err := s.svc.SendMessage(context.Background(), messaging.SendInput{SenderID: 1, ReceiverID: 3, Content: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/realtime/check?since="+since, bob, nil)
	if string(env.Data) != "true" {
		t.Fatalf("check: got=%s want=true", env.Data)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/realtime/poll?since="+since, bob, nil)
	res = realtime.PollResult{}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if !res.HasNewMessages || len(res.NewMessages) != 1 || res.TotalUnreadCount != 1 {
		t.Fatalf("poll: %+v", res)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/realtime/status", bob, nil)
	var st realtime.StatusResult
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.TotalUnreadCount != 1 || st.OnlineCount < 1 {
		t.Fatalf("status: %+v", st)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/realtime/online-count", bob, nil)
	if n, err := strconv.Atoi(string(env.Data)); err != nil || n < 1 {
		t.Fatalf("online-count: %s", env.Data)
	}

	_, _, env = s.do(t, http.MethodGet, "/api/message/new", bob, nil)
	var fresh []messaging.MessageView
	if err := json.Unmarshal(env.Data, &fresh); err != nil {
		t.Fatalf("decode new: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("new since default lookback: got %d messages", len(fresh))
	}
}

func TestHandler_SendRateLimited(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Config{SendRPS: 0.5, SendBurst: 3})
	alice := s.token(t, 1)

	body := map[string]any{"receiverId": 2, "content": "spam"}
	for i := 0; i < 3; i++ {
		if code, _, env := s.do(t, http.MethodPost, "/api/message/send", alice, body); code != http.StatusOK {
			t.Fatalf("send %d: code=%d env=%+v", i, code, env)
		}
	}

	code, hdr, env := s.do(t, http.MethodPost, "/api/message/send", alice, body)
	if code != http.StatusTooManyRequests || env.Error == nil || env.Error.Code != "rate_limited" {
		t.Fatalf("limited send: code=%d env=%+v", code, env)
	}
	if hdr.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// Other senders have their own bucket.
	if code, _, _ := s.do(t, http.MethodPost, "/api/message/send", s.token(t, 2), map[string]any{"receiverId": 1, "content": "hi"}); code != http.StatusOK {
		t.Fatalf("other sender limited: code=%d", code)
	}
}
