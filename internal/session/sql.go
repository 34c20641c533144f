package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moyuka/groundedchat/internal/models"
)

// SQLStore persists sessions in sessions/session_messages tables.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &SQLStore{db: db}, nil
}

// Load returns the stored session, or an empty one when the id is unknown.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.NewSession(sessionID), nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM session_messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session messages: %w", err)
	}
	return &models.Session{
		ID:        sessionID,
		SessionID: sessionID,
		CreatedAt: createdAt.UTC(),
		Messages:  messages,
	}, nil
}

// Save replaces the stored record for the session in one transaction.
func (s *SQLStore) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("session id is required")
	}
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sess.SessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`,
			sess.SessionID, createdAt,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_id = ?`,
		sess.SessionID,
	); err != nil {
		return fmt.Errorf("clear session messages: %w", err)
	}
	for i, m := range sess.Messages {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO session_messages (session_id, seq, role, content) VALUES (?, ?, ?, ?)`,
			sess.SessionID, i, m.Role, m.Content,
		); err != nil {
			return fmt.Errorf("insert session message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}
