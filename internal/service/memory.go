package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/repository"
)

// MemoryStore is the per-user conversation history.
type MemoryStore struct {
	repo repository.TurnRepository
}

func NewMemoryStore(repo repository.TurnRepository) *MemoryStore {
	return &MemoryStore{repo: repo}
}

// Append is best-effort: a failed write is logged and the run continues.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, role model.Role, text string) {
	if err := s.repo.Append(ctx, sessionID, role, text); err != nil {
		log.Error().Err(err).Str("userId", sessionID).Str("role", string(role)).Msg("failed to append turn")
	}
}

// Read returns the session history oldest first, in model content form.
func (s *MemoryStore) Read(ctx context.Context, sessionID string) ([]*genai.Content, error) {
	turns, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", apperrors.Database(err))
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleModel
		if model.NormalizeRole(string(t.Role)) == model.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(t.Content, genai.Role(role)))
	}
	return contents, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	n, err := s.repo.DeleteBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("clear history: %w", apperrors.Database(err))
	}
	log.Info().Str("userId", sessionID).Int64("turns", n).Msg("history cleared")
	return nil
}
