package model

import "time"

type KnowledgeEntry struct {
	ID        int64     `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
