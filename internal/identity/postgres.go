package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

// PostgresRepository stores profiles in the profiles table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a profile. A duplicate email returns ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, u *User, passwordHash string) error {
	const query = `
		INSERT INTO profiles (id, email, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.Username, passwordHash, u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("identity: create profile: %w", err)
	}
	return nil
}

// FindByEmail returns the profile and password hash for email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*User, string, error) {
	const query = `
		SELECT id, email, username, password_hash, created_at
		FROM profiles
		WHERE email = $1`

	var (
		u    User
		hash string
	)
	err := r.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Email, &u.Username, &hash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("identity: find profile: %w", err)
	}
	return &u, hash, nil
}
