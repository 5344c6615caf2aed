package devserver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore keeps accounts in the tables db.AutoMigrate creates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateUser(ctx context.Context, a *Account) error {
	query := "INSERT INTO users (id, email, username, password) VALUES ($1, $2, $3, $4)"
	_, err := s.db.ExecContext(ctx, query, a.ID, a.Email, a.Username, a.PasswordHash)
	return uniqueViolation(err)
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*Account, error) {
	return s.queryUser(ctx, "SELECT id, email, username, password FROM users WHERE email = $1", email)
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (*Account, error) {
	return s.queryUser(ctx, "SELECT id, email, username, password FROM users WHERE id = $1", id)
}

func (s *PostgresStore) queryUser(ctx context.Context, query, arg string) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) UpdateUsername(ctx context.Context, id, username string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET username = $1 WHERE id = $2", username, id)
	if err != nil {
		return uniqueViolation(err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password = $1 WHERE id = $2", hash, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *PostgresStore) SaveRefreshToken(ctx context.Context, t Token) error {
	query := "INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)"
	_, err := s.db.ExecContext(ctx, query, t.Value, t.UserID, t.ExpiresAt)
	return err
}

func (s *PostgresStore) RefreshToken(ctx context.Context, value string) (Token, error) {
	return s.queryToken(ctx, "SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = $1", value)
}

func (s *PostgresStore) DeleteRefreshToken(ctx context.Context, value string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token = $1", value)
	return err
}

func (s *PostgresStore) DeleteRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID)
	return err
}

func (s *PostgresStore) SaveResetToken(ctx context.Context, t Token) error {
	query := "INSERT INTO reset_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)"
	_, err := s.db.ExecContext(ctx, query, t.Value, t.UserID, t.ExpiresAt)
	return err
}

func (s *PostgresStore) TakeResetToken(ctx context.Context, value string) (Token, error) {
	return s.queryToken(ctx, "DELETE FROM reset_tokens WHERE token = $1 RETURNING token, user_id, expires_at", value)
}

func (s *PostgresStore) queryToken(ctx context.Context, query, value string) (Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx, query, value).Scan(&t.Value, &t.UserID, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	return t, nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// uniqueViolation maps Postgres unique constraint errors (23505) on the users
// table to the store's sentinel errors.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrEmailTaken
	case "users_username_key":
		return ErrUsernameTaken
	}
	return err
}
