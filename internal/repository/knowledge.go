package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/lynnbot/assistant-server-go/internal/model"
)

type KnowledgeRepository interface {
	ListAll(ctx context.Context) ([]model.KnowledgeEntry, error)
	Create(ctx context.Context, content string) (*model.KnowledgeEntry, error)
}

type knowledgeRepo struct {
	db *sqlx.DB
}

func NewKnowledgeRepository(db *sqlx.DB) KnowledgeRepository {
	return &knowledgeRepo{db: db}
}

func (r *knowledgeRepo) ListAll(ctx context.Context) ([]model.KnowledgeEntry, error) {
	var entries []model.KnowledgeEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, content, created_at FROM knowledge_entries ORDER BY id ASC
	`)
	return entries, err
}

func (r *knowledgeRepo) Create(ctx context.Context, content string) (*model.KnowledgeEntry, error) {
	var entry model.KnowledgeEntry
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO knowledge_entries (content) VALUES ($1)
		RETURNING id, content, created_at
	`, content)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
