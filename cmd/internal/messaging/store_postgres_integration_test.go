package messaging

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when BAZAAR_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_ConcurrentCreate_SingleWinner(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateConversation(ctx, Conversation{Key: "1_2_7", Participant1: 1, Participant2: 2, SubjectID: ptr(7)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 || conflicts != workers-1 {
		t.Fatalf("winners=%d conflicts=%d", winners, conflicts)
	}
	c, err := store.FindConversation(ctx, "1_2_7")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.SubjectID == nil || *c.SubjectID != 7 || c.Status != StatusActive {
		t.Fatalf("unexpected row: %+v", c)
	}
}

func TestPostgresStore_ConcurrentIncrement_NoLostUpdates(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := store.CreateConversation(ctx, Conversation{Key: "3_4", Participant1: 3, Participant2: 4}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrementUnread(ctx, "3_4", 4); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	total, err := store.TotalUnread(ctx, 4)
	if err != nil || total != n {
		t.Fatalf("total unread: got=%d err=%v want=%d", total, err, n)
	}
	if total, _ := store.TotalUnread(ctx, 3); total != 0 {
		t.Fatalf("other counter moved: %d", total)
	}
	if err := store.IncrementUnread(ctx, "3_4", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-participant: expected ErrNotFound, got=%v", err)
	}
}

func TestPostgresStore_ServiceScenario(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	svc := newTestService(t, store)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	first := mustSend(t, svc, SendInput{SenderID: 1, ReceiverID: 3, Content: "hello", SubjectID: ptr(100)})
	mustSend(t, svc, SendInput{SenderID: 3, ReceiverID: 1, Content: "hi back", SubjectID: ptr(100)})
	if first.ConversationID != "1_3_100" {
		t.Fatalf("key: %q", first.ConversationID)
	}
	if err := svc.MarkRead(ctx, 3, "1_3_100"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, 3, "1_3_100"); err != nil {
		t.Fatalf("mark read again: %v", err)
	}

	c, err := store.FindConversation(ctx, "1_3_100")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.Unread1 != 1 || c.Unread2 != 0 {
		t.Fatalf("counters: unread1=%d unread2=%d", c.Unread1, c.Unread2)
	}
	if c.LastMessage != "hi back" {
		t.Fatalf("preview: %q", c.LastMessage)
	}

	hist, err := svc.History(ctx, 1, "1_3_100", 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Content != "hello" || !hist[0].Read || hist[1].Read {
		t.Fatalf("history: %+v", hist)
	}

	since, err := svc.NewSince(ctx, 3, FromUnixMilli(first.SendTime))
	if err != nil {
		t.Fatalf("new since: %v", err)
	}
	if len(since) != 1 || since[0].Content != "hi back" {
		t.Fatalf("new since: %+v", since)
	}

	got, err := store.GetMessage(ctx, first.MessageID)
	if err != nil || got.SubjectID == nil || *got.SubjectID != 100 {
		t.Fatalf("get message: %+v err=%v", got, err)
	}
	if _, err := store.GetMessage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing message: expected ErrNotFound, got=%v", err)
	}

	if err := store.SetStatus(ctx, "1_3_100", StatusBlocked); err != nil {
		t.Fatalf("set status: %v", err)
	}
	blocked, err := store.ListConversations(ctx, 1, ConversationFilter{Status: StatusBlocked, OnlyUnread: true})
	if err != nil || len(blocked) != 1 {
		t.Fatalf("filtered list: %+v err=%v", blocked, err)
	}
}

func TestPostgresStore_AppendUnknownConversation(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := store.AppendMessage(ctx, Message{ConversationKey: "5_6", SenderID: 5, ReceiverID: 6, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from foreign key, got=%v", err)
	}
}

func TestPostgresStore_WithinTxRollsBack(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.CreateConversation(ctx, Conversation{Key: "1_2", Participant1: 1, Participant2: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(r Repo) error {
		if err := r.IncrementUnread(ctx, "1_2", 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got=%v", err)
	}
	if total, _ := store.TotalUnread(ctx, 2); total != 0 {
		t.Fatalf("rolled back increment visible: %d", total)
	}
}

func mustNewTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	id, err := NewMessageID(time.Now())
	if err != nil {
		t.Fatalf("schema id: %v", err)
	}
	schema := "bazaar_it_" + strings.ToLower(id[len(id)-10:])
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return store
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BAZAAR_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BAZAAR_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse BAZAAR_DATABASE_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func TestPostgresStore_CreatedAtStrictlyIncreasesPerUser(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, c := range []Conversation{
		{Key: "1_2", Participant1: 1, Participant2: 2},
		{Key: "2_3", Participant1: 2, Participant2: 3},
	} {
		if _, err := store.CreateConversation(ctx, c); err != nil {
			t.Fatalf("create %s: %v", c.Key, err)
		}
	}

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var got []Message
	for _, m := range []Message{
		{ConversationKey: "1_2", SenderID: 1, ReceiverID: 2, Content: "a", CreatedAt: at},
		{ConversationKey: "2_3", SenderID: 3, ReceiverID: 2, Content: "b", CreatedAt: at},
		{ConversationKey: "1_2", SenderID: 2, ReceiverID: 1, Content: "c", CreatedAt: at.Add(-time.Minute)},
	} {
		err := store.WithinTx(ctx, func(r Repo) error {
			stored, err := r.AppendMessage(ctx, m)
			got = append(got, stored)
			return err
		})
		if err != nil {
			t.Fatalf("append %q: %v", m.Content, err)
		}
	}
	for i := 1; i < len(got); i++ {
		if !got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Fatalf("created_at not increasing for user 2: %v then %v", got[i-1].CreatedAt, got[i].CreatedAt)
		}
	}

	after, err := store.ListNewSince(ctx, 2, FromUnixMilli(UnixMilli(got[0].CreatedAt)))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(after) != 2 || after[0].Content != "b" || after[1].Content != "c" {
		t.Fatalf("after cursor: %+v", after)
	}
}
