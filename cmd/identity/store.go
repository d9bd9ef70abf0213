package identity

import (
	"context"
	"strings"
	"time"
)

// User is a registered communicator account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Now      time.Time
}

// Directory is the user persistence boundary.
//
// Contract:
//   - Usernames and emails are unique case-insensitively.
//   - GetUser returns a NotFoundError for unknown ids.
//   - Authenticate returns ErrUnauthorized for unknown emails and wrong passwords alike.
//   - ListUsers is ordered by username.
type Directory interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	Authenticate(ctx context.Context, email, password string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type preparedUser struct {
	username     string
	usernameNorm string
	email        string
	emailNorm    string
	passwordHash string
	now          time.Time
}

// prepareCreate validates and normalizes a registration in the same order for every Directory:
// username, email, password.
func prepareCreate(op string, in CreateUserInput) (preparedUser, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return preparedUser{}, Invalid(op, "Username is required")
	}
	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return preparedUser{}, Invalid(op, "Invalid email address")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return preparedUser{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return preparedUser{
		username:     username,
		usernameNorm: NormalizeUsername(username),
		email:        email,
		emailNorm:    NormalizeEmail(email),
		passwordHash: hash,
		now:          now,
	}, nil
}

func invalidCredentials(op string) error {
	return OpError{Op: op, Kind: ErrUnauthorized, Msg: "invalid email or password"}
}
