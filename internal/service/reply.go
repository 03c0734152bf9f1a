package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/feishu"
)

// ReplySender delivers text replies to a user over IM with the tenant token.
type ReplySender struct {
	tokens AppTokenSource
	api    *feishu.Client
}

func NewReplySender(tokens AppTokenSource, api *feishu.Client) *ReplySender {
	return &ReplySender{tokens: tokens, api: api}
}

func (s *ReplySender) SendText(ctx context.Context, openID, text string) error {
	token, err := s.tokens.GetApplicationToken(ctx)
	if err != nil {
		return fmt.Errorf("get tenant token: %w", err)
	}
	if err := s.api.SendText(ctx, token, openID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	log.Info().Str("userId", openID).Int("length", len(text)).Msg("reply sent")
	return nil
}
