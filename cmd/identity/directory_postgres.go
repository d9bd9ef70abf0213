package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"communicator/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this directory must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Password hashes live in a separate credentials table, written in the same transaction.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the directory (default "communicator").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "communicator",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

// PostgresSchemaSQL returns idempotent DDL for the directory tables in schema.
func PostgresSchemaSQL(schema string) string {
	users := pgIdent(schema, "users")
	creds := pgIdent(schema, "user_credentials")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  username_norm TEXT NOT NULL,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  user_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`, pgx.Identifier{schema}.Sanitize(), users, creds, users)
}

// CreateUser creates a user and its credentials transactionally.
func (d *PostgresDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if d == nil || d.pool == nil {
		return User{}, Invalid(op, "nil directory")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	p, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := ids.NewULID(p.now)
	if err != nil {
		return User{}, err
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(d.schema, "users")
	creds := pgIdent(d.schema, "user_credentials")

	// Email is checked first so a request colliding on both reports "email".
	var taken bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+users+` WHERE email_norm = $1)`,
		p.emailNorm,
	).Scan(&taken); err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+users+` (id, username, username_norm, email, email_norm, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, p.username, p.usernameNorm, p.email, p.emailNorm, p.now,
	); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		id, p.passwordHash, p.now,
	); err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:           id,
		Username:     p.username,
		Email:        p.email,
		PasswordHash: p.passwordHash,
		CreatedAt:    p.now,
	}, nil
}

// Authenticate verifies email + password, upgrading the stored hash when its parameters are stale.
func (d *PostgresDirectory) Authenticate(ctx context.Context, email, password string) (User, error) {
	const op = "identity.Authenticate"

	if d == nil || d.pool == nil {
		return User{}, Invalid(op, "nil directory")
	}

	users := pgIdent(d.schema, "users")
	creds := pgIdent(d.schema, "user_credentials")

	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, c.password_hash, u.created_at
		   FROM `+users+` u
		   JOIN `+creds+` c ON c.user_id = u.id
		  WHERE u.email_norm = $1`,
		NormalizeEmail(email),
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		burnVerify(password)
		return User{}, invalidCredentials(op)
	}
	if err != nil {
		return User{}, err
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return User{}, err
	}
	if !match {
		return User{}, invalidCredentials(op)
	}

	if passwordNeedsRehash(u.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if _, err := d.pool.Exec(ctx,
				`UPDATE `+creds+` SET password_hash = $2, updated_at = $3 WHERE user_id = $1`,
				u.ID, hash, time.Now().UTC(),
			); err == nil {
				u.PasswordHash = hash
			}
		}
	}

	return u, nil
}

// GetUser returns the user with the given id.
func (d *PostgresDirectory) GetUser(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUser"

	if d == nil || d.pool == nil {
		return User{}, Invalid(op, "nil directory")
	}

	users := pgIdent(d.schema, "users")

	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, email, created_at FROM `+users+` WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ListUsers returns every user ordered by username (case-insensitive, then id).
func (d *PostgresDirectory) ListUsers(ctx context.Context) ([]User, error) {
	const op = "identity.ListUsers"

	if d == nil || d.pool == nil {
		return nil, Invalid(op, "nil directory")
	}

	users := pgIdent(d.schema, "users")

	rows, err := d.pool.Query(ctx,
		`SELECT id, username, email, created_at FROM `+users+` ORDER BY username_norm ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0, 32)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
