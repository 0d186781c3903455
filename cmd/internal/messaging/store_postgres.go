package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Concurrency model:
//   - Conversation creation is INSERT ... ON CONFLICT DO NOTHING; zero rows means the caller lost.
//   - Unread counters are updated in SQL (counter = counter + 1), never read-modify-write.
//   - WithinTx runs at READ COMMITTED; the conversation row lock orders concurrent sends and reads.
//   - Appends hold per-user advisory locks so each user's message times strictly increase.
type PostgresStore struct {
	*pgRepo

	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "bazaar").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bazaar",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	st.pgRepo = newPGRepo(pool, st.schema)
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// WithinTx runs fn inside one READ COMMITTED transaction and commits when fn returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(newPGRepo(tx, s.schema)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnsureSchema creates the schema, tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL(s.schema)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func schemaSQL(schema string) string {
	conversations := pgIdent(schema, "conversations")
	messages := pgIdent(schema, "messages")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  key             TEXT PRIMARY KEY,
  participant1    BIGINT NOT NULL,
  participant2    BIGINT NOT NULL,
  subject_id      BIGINT NULL,
  last_message    TEXT NOT NULL DEFAULT '',
  last_message_at TIMESTAMPTZ NULL,
  unread1         INTEGER NOT NULL DEFAULT 0 CHECK (unread1 >= 0),
  unread2         INTEGER NOT NULL DEFAULT 0 CHECK (unread2 >= 0),
  status          TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'ARCHIVED', 'BLOCKED')),
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_conversations_order CHECK (participant1 < participant2)
);

CREATE INDEX IF NOT EXISTS idx_conversations_p1 ON %s (participant1);
CREATE INDEX IF NOT EXISTS idx_conversations_p2 ON %s (participant2);

CREATE TABLE IF NOT EXISTS %s (
  id               TEXT PRIMARY KEY,
  conversation_key TEXT NOT NULL REFERENCES %s(key),
  sender_id        BIGINT NOT NULL,
  receiver_id      BIGINT NOT NULL,
  subject_id       BIGINT NULL,
  content          TEXT NOT NULL CHECK (char_length(content) > 0),
  message_type     TEXT NOT NULL DEFAULT 'TEXT',
  is_read          BOOLEAN NOT NULL DEFAULT false,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON %s (conversation_key, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON %s (sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_created ON %s (receiver_id, created_at);
`, pgx.Identifier{schema}.Sanitize(),
		conversations, conversations, conversations,
		messages, conversations, messages, messages, messages)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgRepo implements Repo over any querier.
type pgRepo struct {
	q             querier
	conversations string
	messages      string
}

func newPGRepo(q querier, schema string) *pgRepo {
	return &pgRepo{
		q:             q,
		conversations: pgIdent(schema, "conversations"),
		messages:      pgIdent(schema, "messages"),
	}
}

const messageColumns = `id, conversation_key, sender_id, receiver_id, subject_id, content, message_type, is_read, created_at`

const conversationColumns = `key, participant1, participant2, subject_id, last_message, last_message_at,
	unread1, unread2, status, created_at`

func (r *pgRepo) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if strings.TrimSpace(m.ConversationKey) == "" {
		return Message{}, errors.New("messaging: missing conversation key")
	}
	m.CreatedAt = storeTime(m.CreatedAt)
	if m.ID == "" {
		id, err := NewMessageID(m.CreatedAt)
		if err != nil {
			return Message{}, fmt.Errorf("messaging: new message id: %w", err)
		}
		m.ID = id
	}
	if m.Type == "" {
		m.Type = DefaultMessageType
	}

	if err := r.lockParticipants(ctx, m.SenderID, m.ReceiverID); err != nil {
		return Message{}, err
	}

	// created_at must come strictly after every earlier message of either participant.
	var created time.Time
	err := r.q.QueryRow(ctx,
		`INSERT INTO `+r.messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, GREATEST(
		   $9::timestamptz,
		   (SELECT max(created_at) FROM `+r.messages+` WHERE sender_id IN ($3, $4)) + interval '1 millisecond',
		   (SELECT max(created_at) FROM `+r.messages+` WHERE receiver_id IN ($3, $4)) + interval '1 millisecond'
		 ))
		 RETURNING created_at`,
		m.ID, m.ConversationKey, m.SenderID, m.ReceiverID, m.SubjectID, m.Content, m.Type, m.Read, m.CreatedAt,
	).Scan(&created)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", mapPGError(err))
	}
	m.CreatedAt = created.UTC()
	return m, nil
}

// lockParticipants takes transaction-scoped advisory locks on both users, lowest id first,
// so appends touching a common user commit in created_at order. Outside WithinTx the locks
// are released when the statement ends.
func (r *pgRepo) lockParticipants(ctx context.Context, a, b int64) error {
	if a > b {
		a, b = b, a
	}
	for _, uid := range []int64{a, b} {
		if _, err := r.q.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended('bazaar.messages.user:' || $1::text, 0))`, uid,
		); err != nil {
			return fmt.Errorf("lock participant %d: %w", uid, err)
		}
		if a == b {
			break
		}
	}
	return nil
}

func (r *pgRepo) ListMessages(ctx context.Context, key string, offset, limit int) ([]Message, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+r.messages+`
		  WHERE conversation_key = $1
		  ORDER BY created_at ASC, id ASC
		 OFFSET $2
		  LIMIT $3`,
		key, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *pgRepo) ListNewSince(ctx context.Context, userID int64, since time.Time) ([]Message, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+r.messages+`
		  WHERE (sender_id = $1 OR receiver_id = $1)
		    AND created_at > $2
		  ORDER BY created_at ASC, id ASC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list new messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *pgRepo) MarkRead(ctx context.Context, key string, userID int64) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE `+r.messages+`
		    SET is_read = true
		  WHERE conversation_key = $1
		    AND receiver_id = $2
		    AND is_read = false`,
		key, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRepo) GetMessage(ctx context.Context, id string) (Message, error) {
	row := r.q.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+r.messages+` WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *pgRepo) FindConversation(ctx context.Context, key string) (Conversation, error) {
	row := r.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM `+r.conversations+` WHERE key = $1`, key)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

func (r *pgRepo) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if strings.TrimSpace(c.Key) == "" {
		return Conversation{}, errors.New("messaging: missing conversation key")
	}
	c.CreatedAt = storeTime(c.CreatedAt)
	if c.Status == "" {
		c.Status = StatusActive
	}

	tag, err := r.q.Exec(ctx,
		`INSERT INTO `+r.conversations+` (key, participant1, participant2, subject_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO NOTHING`,
		c.Key, c.Participant1, c.Participant2, c.SubjectID, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", mapPGError(err))
	}
	if tag.RowsAffected() == 0 {
		return Conversation{}, ErrConflict
	}
	return c, nil
}

func (r *pgRepo) TouchLastMessage(ctx context.Context, key, preview string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE `+r.conversations+`
		    SET last_message = $2,
		        last_message_at = $3
		  WHERE key = $1`,
		key, preview, storeTime(at),
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepo) IncrementUnread(ctx context.Context, key string, participant int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE `+r.conversations+`
		    SET unread1 = unread1 + CASE WHEN participant1 = $2 THEN 1 ELSE 0 END,
		        unread2 = unread2 + CASE WHEN participant2 = $2 THEN 1 ELSE 0 END
		  WHERE key = $1
		    AND (participant1 = $2 OR participant2 = $2)`,
		key, participant,
	)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepo) ResetUnread(ctx context.Context, key string, participant int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE `+r.conversations+`
		    SET unread1 = CASE WHEN participant1 = $2 THEN 0 ELSE unread1 END,
		        unread2 = CASE WHEN participant2 = $2 THEN 0 ELSE unread2 END
		  WHERE key = $1
		    AND (participant1 = $2 OR participant2 = $2)`,
		key, participant,
	)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepo) SetStatus(ctx context.Context, key string, status Status) error {
	if !status.Valid() {
		return invalid("invalid_status", "status must be ACTIVE, ARCHIVED or BLOCKED")
	}
	tag, err := r.q.Exec(ctx, `UPDATE `+r.conversations+` SET status = $2 WHERE key = $1`, key, string(status))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepo) TotalUnread(ctx context.Context, userID int64) (int, error) {
	var total int64
	if err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN participant1 = $1 THEN unread1 ELSE unread2 END), 0)
		   FROM `+r.conversations+`
		  WHERE participant1 = $1 OR participant2 = $1`,
		userID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("total unread: %w", err)
	}
	return int(total), nil
}

func (r *pgRepo) ListConversations(ctx context.Context, userID int64, f ConversationFilter) ([]Conversation, error) {
	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+r.conversations+`
		  WHERE (participant1 = $1 OR participant2 = $1)
		    AND ($2::text = '' OR status = $2::text)
		    AND (NOT $3::boolean OR (CASE WHEN participant1 = $1 THEN unread1 ELSE unread2 END) > 0)
		  ORDER BY COALESCE(last_message_at, created_at) DESC, key ASC
		 OFFSET $4
		  LIMIT $5`,
		userID, string(f.Status), f.OnlyUnread, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.ConversationKey,
		&m.SenderID,
		&m.ReceiverID,
		&m.SubjectID,
		&m.Content,
		&m.Type,
		&m.Read,
		&m.CreatedAt,
	)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c        Conversation
		lastAt   *time.Time
		statusTx string
	)
	err := row.Scan(
		&c.Key,
		&c.Participant1,
		&c.Participant2,
		&c.SubjectID,
		&c.LastMessage,
		&lastAt,
		&c.Unread1,
		&c.Unread2,
		&statusTx,
		&c.CreatedAt,
	)
	if lastAt != nil {
		c.LastMessageAt = lastAt.UTC()
	}
	c.Status = Status(statusTx)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

// mapPGError turns a unique violation into ErrConflict and a foreign key violation into ErrNotFound.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
