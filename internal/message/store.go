package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Notifier announces committed inserts to live subscribers.
type Notifier interface {
	PublishInsert(id string) error
}

// Store persists messages in PostgreSQL.
type Store struct {
	db       *sql.DB
	notifier Notifier
}

// NewStore creates a Store. notifier may be nil, in which case inserts are
// not announced.
func NewStore(db *sql.DB, notifier Notifier) *Store {
	return &Store{db: db, notifier: notifier}
}

const selectMessages = `
	SELECT m.id, m.content, m.created_at, m.is_gpt, m.user_id, COALESCE(p.username, '')
	FROM messages m
	LEFT JOIN profiles p ON p.id = m.user_id`

// List returns every message ordered by creation time ascending.
func (s *Store) List(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessages+` ORDER BY m.created_at ASC, m.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("message: list: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	return out, nil
}

// Get returns a single message with its author's username resolved.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessages+` WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message: get %s: %w", id, err)
	}
	return m, nil
}

// Insert persists a new message and announces it. The announcement is best
// effort: a publish failure is logged and the committed row is returned.
func (s *Store) Insert(ctx context.Context, n NewMessage) (*Message, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	m := &Message{
		ID:      ulid.Make().String(),
		Content: n.Content,
		UserID:  n.UserID,
		IsGPT:   n.IsGPT,
	}

	const query = `
		INSERT INTO messages (id, content, is_gpt, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	var userID interface{}
	if n.UserID != nil {
		userID = *n.UserID
	}
	if err := s.db.QueryRowContext(ctx, query, m.ID, m.Content, m.IsGPT, userID).Scan(&m.CreatedAt); err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.PublishInsert(m.ID); err != nil {
			log.Warn().Err(err).Str("message_id", m.ID).Msg("message: publish insert failed")
		}
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m      Message
		userID sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Content, &m.CreatedAt, &m.IsGPT, &userID, &m.Username); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.String
		m.UserID = &id
	}
	return &m, nil
}
