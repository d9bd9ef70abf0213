package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"communicator/cmd/identity/ids"
)

// InMemoryDirectory is the Directory used when no database is configured.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]User
	byEmail    map[string]string // email_norm -> id
	byUsername map[string]string // username_norm -> id
}

// NewInMemoryDirectory constructs an empty in-memory Directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		byID:       make(map[string]User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

// CreateUser registers a user. Email conflicts are reported before username conflicts.
func (d *InMemoryDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[p.emailNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	if _, ok := d.byUsername[p.usernameNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{
		ID:           id,
		Username:     p.username,
		Email:        p.email,
		PasswordHash: p.passwordHash,
		CreatedAt:    p.now,
	}
	d.byID[id] = u
	d.byEmail[p.emailNorm] = id
	d.byUsername[p.usernameNorm] = id

	return u, nil
}

// Authenticate verifies email + password.
func (d *InMemoryDirectory) Authenticate(ctx context.Context, email, password string) (User, error) {
	const op = "identity.Authenticate"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	id, ok := d.byEmail[NormalizeEmail(email)]
	u := d.byID[id]
	d.mu.RUnlock()

	if !ok {
		burnVerify(password)
		return User{}, invalidCredentials(op)
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
			d.mu.Lock()
			if cur, ok := d.byID[u.ID]; ok {
				cur.PasswordHash = hash
				d.byID[u.ID] = cur
				u = cur
			}
			d.mu.Unlock()
		}
	}

	return u, nil
}

// GetUser returns the user with the given id.
func (d *InMemoryDirectory) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	u, ok := d.byID[strings.TrimSpace(id)]
	d.mu.RUnlock()

	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return u, nil
}

// ListUsers returns every user ordered by username (case-insensitive, then id).
func (d *InMemoryDirectory) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	out := make([]User, 0, len(d.byID))
	for _, u := range d.byID {
		out = append(out, u)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := NormalizeUsername(out[i].Username), NormalizeUsername(out[j].Username)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
