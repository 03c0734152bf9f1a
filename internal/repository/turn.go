package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/lynnbot/assistant-server-go/internal/model"
)

type TurnRepository interface {
	Append(ctx context.Context, sessionID string, role model.Role, content string) error
	ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

type turnRepo struct {
	db *sqlx.DB
}

func NewTurnRepository(db *sqlx.DB) TurnRepository {
	return &turnRepo{db: db}
}

func (r *turnRepo) Append(ctx context.Context, sessionID string, role model.Role, content string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_history (session_id, role, content)
		VALUES ($1, $2, $3)
	`, sessionID, model.NormalizeRole(string(role)), content)
	return err
}

func (r *turnRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error) {
	var turns []model.Turn
	err := r.db.SelectContext(ctx, &turns, `
		SELECT id, session_id, role, content, created_at
		FROM conversation_history
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	return turns, err
}

func (r *turnRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversation_history WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
