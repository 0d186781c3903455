package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveHTTP("GET /x", 200, time.Millisecond)
	m.MessageSent()
	m.SendRejected("self_message")
	m.NotifyFailed()
	m.Poll("long", "timeout")
	m.WaiterEnter()
	m.WaiterExit()
	m.SetOnline(3)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessageSent()
	m.MessageSent()
	m.SendRejected("empty_content")
	m.Poll("long", "data")
	m.WaiterEnter()
	m.WaiterEnter()
	m.WaiterExit()
	m.SetOnline(7)
	m.ObserveHTTP("GET /healthz", 204, 2*time.Millisecond)

	if got := testutil.ToFloat64(m.messagesSent); got != 2 {
		t.Fatalf("messages sent: got=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.sendRejected.WithLabelValues("empty_content")); got != 1 {
		t.Fatalf("send rejected: got=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.polls.WithLabelValues("long", "data")); got != 1 {
		t.Fatalf("polls: got=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.longPollWaiters); got != 1 {
		t.Fatalf("waiters: got=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.onlineUsers); got != 7 {
		t.Fatalf("online: got=%v want=7", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET /healthz", "2xx")); got != 1 {
		t.Fatalf("http requests: got=%v want=1", got)
	}
}

func TestMetrics_HandlerExposesFamilies(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessageSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status: got=%d want=200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "bazaar_messaging_messages_sent_total 1") {
		t.Fatalf("missing messages_sent_total in exposition:\n%s", body)
	}
}
