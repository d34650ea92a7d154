package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stemplay/realtime/internal/auth"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// CreateUser inserts a new account with an Argon2id password hash and a
// baseline players row, returning the new player id.
func CreateUser(ctx context.Context, email, password, displayName string) (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate user id: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to hash password: %w", err)
	}

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO users (id, email, password) VALUES ($1, $2, $3)`
		if _, execErr := tx.Exec(ctx, q, id, email, hash); execErr != nil {
			return execErr
		}
		q = `INSERT INTO players (id, display_name, avatar, skill_rating, skill_deviation, skill_volatility)
		     VALUES ($1, $2, 'robot', 1000, 350, 0.06)`
		_, execErr := tx.Exec(ctx, q, id, displayName)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, ErrEmailTaken
		}
		return uuid.Nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

// AuthenticateUser checks the credentials and returns the player id.
// Unknown emails and wrong passwords both report ErrInvalidCredentials.
func AuthenticateUser(ctx context.Context, email, password string) (uuid.UUID, error) {
	var id uuid.UUID
	var hash string
	q := `SELECT id, password FROM users WHERE email=$1`
	err := DB.QueryRow(ctx, q, email).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrInvalidCredentials
		}
		return uuid.Nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, hash)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return uuid.Nil, ErrInvalidCredentials
	}
	return id, nil
}
