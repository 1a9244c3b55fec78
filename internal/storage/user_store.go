package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
)

var (
	// ErrUserStoreFailed indicates a database failure in the user store.
	ErrUserStoreFailed = errors.New("user store operation failed")

	// ErrInvalidCredentials indicates an unknown username or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists indicates a username collision on create.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidRole indicates a role outside the known set.
	ErrInvalidRole = errors.New("invalid role")
)

// UserStore manages API accounts backed by Postgres.
type UserStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewUserStore creates a user store using the given connection.
func NewUserStore(conn *Connection) *UserStore {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "storage"))

	return &UserStore{
		conn:   conn,
		logger: logger,
	}
}

// CreateUser stores a new account with a hashed password.
func (s *UserStore) CreateUser(ctx context.Context, username, password, email string, role Role) (*User, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing password: %w", ErrUserStoreFailed, err)
	}

	query := `INSERT INTO users (username, password_hash, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, password_hash, email, role, created_at, updated_at`

	var user User

	err = s.conn.QueryRowContext(ctx, query, username, hash, email, role.String()).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.Role,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}

		return nil, fmt.Errorf("%w: creating user %s: %w", ErrUserStoreFailed, username, err)
	}

	s.logger.InfoContext(ctx, "user created",
		slog.String("username", user.Username),
		slog.String("role", user.Role.String()))

	return &user, nil
}

// Authenticate verifies a username and password pair. It returns
// ErrInvalidCredentials for both unknown users and wrong passwords so
// callers cannot distinguish the two.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	query := `SELECT id, username, password_hash, email, role, created_at, updated_at
		FROM users WHERE username = $1`

	var user User

	err := s.conn.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.Role,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("%w: looking up user %s: %w", ErrUserStoreFailed, username, err)
	}

	if !ComparePasswordHash(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// DeleteUser removes an account by username.
func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("%w: deleting user %s: %w", ErrUserStoreFailed, username, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting user %s: %w", ErrUserStoreFailed, username, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, username)
	}

	return nil
}
