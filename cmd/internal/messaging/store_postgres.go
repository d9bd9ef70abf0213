package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"communicator/cmd/identity"
	"communicator/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Writes to one recipient are serialized with a transactional advisory lock, and sent_at
//     is assigned while holding it. Commit order therefore equals sent_at order per recipient,
//     so a poller can never observe a later message before an earlier one becomes visible.
//   - Idempotency keys live in their own table so they can expire without touching messages.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	ttl    time.Duration
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "communicator").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithIdempotencyTTL sets the idempotency retention window (0 keeps keys forever).
func WithIdempotencyTTL(ttl time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if ttl < 0 {
			return errors.New("messaging: negative idempotency ttl")
		}
		s.ttl = ttl
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "communicator",
		ttl:    DefaultIdempotencyTTL,
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
	return st, nil
}

// PostgresSchemaSQL returns idempotent DDL for the message tables in schema.
func PostgresSchemaSQL(schema string) string {
	messages := pgIdent(schema, "messages")
	keys := pgIdent(schema, "idempotency_keys")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  sender_id TEXT NOT NULL,
  recipient_id TEXT NOT NULL,
  content TEXT NOT NULL,
  client_msg_id TEXT NOT NULL,
  sent_at TIMESTAMPTZ NOT NULL,

  CONSTRAINT chk_messages_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_messages_content_not_blank CHECK (btrim(content) <> '')
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient_sent_at
  ON %s (recipient_id, sent_at, id);

CREATE INDEX IF NOT EXISTS idx_messages_pair_sent_at
  ON %s (LEAST(sender_id, recipient_id), GREATEST(sender_id, recipient_id), sent_at, id);

CREATE TABLE IF NOT EXISTS %s (
  sender_id TEXT NOT NULL,
  client_msg_id TEXT NOT NULL,
  message_id TEXT NOT NULL REFERENCES %s(id),
  created_at TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (sender_id, client_msg_id)
);

CREATE INDEX IF NOT EXISTS idx_idempotency_keys_created_at
  ON %s (created_at);
`, pgx.Identifier{schema}.Sanitize(), messages, messages, messages, keys, messages, keys)
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Store appends a message, or returns the original one for a retained client_message_id.
func (s *PostgresStore) Store(ctx context.Context, in StoreInput) (StoreResult, error) {
	const op = "messaging.Store"

	if s == nil || s.pool == nil {
		return StoreResult{}, errors.New("messaging: nil store")
	}
	if in.SenderID == "" || in.RecipientID == "" || in.ClientMessageID == "" {
		return StoreResult{}, identity.Invalid(op, "sender, recipient and client message id are required")
	}
	if err := ctx.Err(); err != nil {
		return StoreResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := s.cutoff(now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return StoreResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")
	keys := pgIdent(s.schema, "idempotency_keys")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "recipient:"+in.RecipientID); err != nil {
		return StoreResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := readByIdempotencyKey(ctx, tx, messages, keys, in.SenderID, in.ClientMessageID, cutoff)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return StoreResult{}, err
		}
		return StoreResult{Message: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StoreResult{}, err
	}

	var last *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT max(sent_at) FROM `+messages+` WHERE recipient_id = $1`,
		in.RecipientID,
	).Scan(&last); err != nil {
		return StoreResult{}, err
	}
	var prev time.Time
	if last != nil {
		prev = last.UTC()
	}
	sentAt := nextSentAt(now, prev)

	id, err := ids.NewULID(sentAt)
	if err != nil {
		return StoreResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (id, sender_id, recipient_id, content, client_msg_id, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.SenderID, in.RecipientID, in.Content, in.ClientMessageID, sentAt,
	); err != nil {
		return StoreResult{}, fmt.Errorf("insert message: %w", err)
	}

	// An expired key is taken over; a live one means a concurrent send with the same key
	// (addressed to another recipient) won, and its message is the answer.
	var claimed string
	err = tx.QueryRow(ctx,
		`INSERT INTO `+keys+` AS k (sender_id, client_msg_id, message_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sender_id, client_msg_id) DO UPDATE
		    SET message_id = EXCLUDED.message_id,
		        created_at = EXCLUDED.created_at
		  WHERE k.created_at < $5
		RETURNING message_id`,
		in.SenderID, in.ClientMessageID, id, now, cutoff,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		winner, err := readByIdempotencyKey(ctx, s.pool, messages, keys, in.SenderID, in.ClientMessageID, cutoff)
		if err != nil {
			return StoreResult{}, err
		}
		return StoreResult{Message: winner, Duplicated: true}, nil
	}
	if err != nil {
		return StoreResult{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return StoreResult{}, err
	}

	return StoreResult{
		Message: Message{
			ID:          id,
			SenderID:    in.SenderID,
			RecipientID: in.RecipientID,
			Content:     in.Content,
			SentAt:      sentAt,
		},
		Duplicated: false,
	}, nil
}

// Lookup returns the message retained for a live idempotency key.
func (s *PostgresStore) Lookup(ctx context.Context, senderID, clientMessageID string, now time.Time) (Message, bool, error) {
	if s == nil || s.pool == nil {
		return Message{}, false, errors.New("messaging: nil store")
	}

	m, err := readByIdempotencyKey(ctx, s.pool,
		pgIdent(s.schema, "messages"), pgIdent(s.schema, "idempotency_keys"),
		senderID, clientMessageID, s.cutoff(now))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

// GetConversation returns every message between userID and otherID in either direction.
func (s *PostgresStore) GetConversation(ctx context.Context, userID, otherID string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, recipient_id, content, sent_at
		   FROM `+messages+`
		  WHERE LEAST(sender_id, recipient_id) = LEAST($1::text, $2::text)
		    AND GREATEST(sender_id, recipient_id) = GREATEST($1::text, $2::text)
		  ORDER BY sent_at ASC, id ASC`,
		userID, otherID,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// GetNewMessages returns messages to userID with sent_at strictly after since.
func (s *PostgresStore) GetNewMessages(ctx context.Context, userID string, since time.Time) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}

	messages := pgIdent(s.schema, "messages")

	bound, inclusive := sinceBound(since)
	cmp := ">"
	if inclusive {
		cmp = ">="
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, recipient_id, content, sent_at
		   FROM `+messages+`
		  WHERE recipient_id = $1 AND sent_at `+cmp+` $2
		  ORDER BY sent_at ASC, id ASC`,
		userID, bound,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// sinceBound maps a nanosecond cursor onto timestamptz resolution. The driver
// truncates to microseconds, so a cursor with a sub-microsecond remainder is
// rounded up and compared inclusively: sent_at >= ceil(since) is exactly
// sent_at > since for microsecond values.
func sinceBound(since time.Time) (time.Time, bool) {
	since = since.UTC()
	floor := since.Truncate(time.Microsecond)
	if floor.Equal(since) {
		return since, false
	}
	return floor.Add(time.Microsecond), true
}

// SweepIdempotencyKeys deletes keys past the retention window.
func (s *PostgresStore) SweepIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("messaging: nil store")
	}
	if s.ttl <= 0 {
		return 0, nil
	}

	keys := pgIdent(s.schema, "idempotency_keys")

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+keys+` WHERE created_at < $1`, s.cutoff(now))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// cutoff is the oldest created_at still considered live. The zero time keeps everything.
func (s *PostgresStore) cutoff(now time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(-s.ttl)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readByIdempotencyKey(ctx context.Context, q queryRower, messagesTable, keysTable, senderID, clientMessageID string, cutoff time.Time) (Message, error) {
	var m Message
	err := q.QueryRow(ctx,
		`SELECT m.id, m.sender_id, m.recipient_id, m.content, m.sent_at
		   FROM `+keysTable+` k
		   JOIN `+messagesTable+` m ON m.id = k.message_id
		  WHERE k.sender_id = $1 AND k.client_msg_id = $2 AND k.created_at >= $3`,
		senderID, clientMessageID, cutoff,
	).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.SentAt)
	m.SentAt = m.SentAt.UTC()
	return m, err
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		m.SentAt = m.SentAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
