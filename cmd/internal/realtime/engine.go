// Package realtime delivers new messages to polling clients and tracks presence.
//
// Two delivery modes share one check:
//   - Poll answers immediately
//   - LongPoll re-checks on a fixed interval until data arrives, the timeout elapses,
//     or the caller goes away
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"bazaar/cmd/internal/messaging"
	"bazaar/cmd/internal/metrics"
)

// MessageSource is the slice of the messaging service the engine polls.
type MessageSource interface {
	NewSince(ctx context.Context, userID int64, since time.Time) ([]messaging.MessageView, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// PollResult is returned by Poll and LongPoll. CurrentTime is unix millis and is a safe
// next "since" cursor only when no messages were returned; otherwise clients advance to
// the last message's sendTime.
type PollResult struct {
	NewMessages      []messaging.MessageView `json:"newMessages"`
	TotalUnreadCount int                     `json:"totalUnreadCount"`
	CurrentTime      int64                   `json:"currentTime"`
	HasNewMessages   bool                    `json:"hasNewMessages"`
}

// StatusResult is the lightweight "anything for me?" answer.
type StatusResult struct {
	TotalUnreadCount int   `json:"totalUnreadCount"`
	CurrentTime      int64 `json:"currentTime"`
	OnlineCount      int   `json:"onlineCount"`
}

// Engine is safe for concurrent use.
type Engine struct {
	source   MessageSource
	presence *Presence
	waiters  *semaphore.Weighted

	interval time.Duration
	lookback time.Duration

	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithInterval sets the long-poll recheck interval (default 1s).
func WithInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxWaiters caps concurrent long-poll waiters (default 1024).
func WithMaxWaiters(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.waiters = semaphore.NewWeighted(n)
		}
	}
}

func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEngineClock overrides the clock used for CurrentTime and the default cursor.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an Engine. presence may be nil, in which case a default registry is used.
func NewEngine(source MessageSource, presence *Presence, opts ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, errors.New("realtime: nil message source")
	}
	if presence == nil {
		presence = NewPresence(defaultPresenceTTL, nil)
	}
	e := &Engine{
		source:   source,
		presence: presence,
		waiters:  semaphore.NewWeighted(defaultMaxWaiters),
		interval: defaultPollInterval,
		lookback: DefaultLookback,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Presence returns the registry the engine refreshes.
func (e *Engine) Presence() *Presence { return e.presence }

// Poll performs a single check for messages after since. A zero since means the last minute.
func (e *Engine) Poll(ctx context.Context, userID int64, since time.Time) (PollResult, error) {
	if err := validUser(userID); err != nil {
		return PollResult{}, err
	}
	e.presence.Touch(userID)

	res, err := e.check(ctx, userID, e.cursor(since))
	if err != nil {
		e.metrics.Poll("short", "error")
		return PollResult{}, err
	}
	e.metrics.Poll("short", outcome(res))
	return res, nil
}

// LongPoll blocks until messages after since exist, the timeout elapses, or ctx ends.
//
// A timeout is a successful, empty result. Cancellation returns ctx.Err() without waiting
// for the next interval. When the waiter cap is reached it fails fast with a transient
// "poll_capacity" error.
func (e *Engine) LongPoll(ctx context.Context, userID int64, since time.Time, timeoutSeconds int) (PollResult, error) {
	if err := validUser(userID); err != nil {
		return PollResult{}, err
	}
	if !e.waiters.TryAcquire(1) {
		e.metrics.Poll("long", "capacity")
		e.log.Warn("poll.long.capacity", "user_id", userID)
		return PollResult{}, &messaging.Error{
			Kind:    messaging.ErrTransient,
			Code:    "poll_capacity",
			Message: "too many concurrent long polls, retry shortly",
		}
	}
	defer e.waiters.Release(1)
	e.metrics.WaiterEnter()
	defer e.metrics.WaiterExit()

	since = e.cursor(since)
	timeout := ClampTimeout(timeoutSeconds)
	deadline := time.Now().Add(timeout)

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	for {
		e.presence.Touch(userID)

		res, err := e.check(ctx, userID, since)
		if err != nil {
			if ctx.Err() != nil {
				e.metrics.Poll("long", "canceled")
				return PollResult{}, ctx.Err()
			}
			e.metrics.Poll("long", "error")
			return PollResult{}, err
		}
		if res.HasNewMessages {
			e.metrics.Poll("long", "data")
			return res, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.metrics.Poll("long", "timeout")
			e.log.Debug("poll.long.timeout", "user_id", userID, "timeout", timeout)
			return res, nil
		}

		timer.Reset(min(e.interval, remaining))
		select {
		case <-ctx.Done():
			e.metrics.Poll("long", "canceled")
			return PollResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Status returns the caller's unread total without fetching messages.
func (e *Engine) Status(ctx context.Context, userID int64) (StatusResult, error) {
	if err := validUser(userID); err != nil {
		return StatusResult{}, err
	}
	e.presence.Touch(userID)

	total, err := e.source.UnreadCount(ctx, userID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		TotalUnreadCount: total,
		CurrentTime:      messaging.UnixMilli(e.now()),
		OnlineCount:      e.OnlineCount(),
	}, nil
}

// HasNew reports whether any message after since exists for userID.
func (e *Engine) HasNew(ctx context.Context, userID int64, since time.Time) (bool, error) {
	if err := validUser(userID); err != nil {
		return false, err
	}
	e.presence.Touch(userID)

	msgs, err := e.source.NewSince(ctx, userID, e.cursor(since))
	if err != nil {
		return false, err
	}
	return len(msgs) > 0, nil
}

// OnlineCount sweeps stale presence entries and returns the number of online users.
func (e *Engine) OnlineCount() int {
	n := e.presence.OnlineCount()
	e.metrics.SetOnline(n)
	return n
}

func (e *Engine) check(ctx context.Context, userID int64, since time.Time) (PollResult, error) {
	msgs, err := e.source.NewSince(ctx, userID, since)
	if err != nil {
		return PollResult{}, err
	}
	total, err := e.source.UnreadCount(ctx, userID)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{
		NewMessages:      msgs,
		TotalUnreadCount: total,
		CurrentTime:      messaging.UnixMilli(e.now()),
		HasNewMessages:   len(msgs) > 0,
	}, nil
}

func (e *Engine) cursor(since time.Time) time.Time {
	if since.IsZero() {
		return e.now().Add(-e.lookback)
	}
	return since
}

func validUser(userID int64) error {
	if userID <= 0 {
		return &messaging.Error{Kind: messaging.ErrInvalidArgument, Code: "missing_user", Message: "user id is required"}
	}
	return nil
}

func outcome(res PollResult) string {
	if res.HasNewMessages {
		return "data"
	}
	return "empty"
}
