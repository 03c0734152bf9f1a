package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/repository"
)

// KnowledgeClient calls the knowledge retrieval endpoint.
type KnowledgeClient struct {
	url    string
	token  string
	client *http.Client
}

func NewKnowledgeClient(url, serviceToken string, timeout time.Duration) *KnowledgeClient {
	return &KnowledgeClient{
		url:    url,
		token:  serviceToken,
		client: &http.Client{Timeout: timeout},
	}
}

type RetrieveRequest struct {
	Query string `json:"query"`
}

type RetrieveResponse struct {
	RetrievedAnswer string `json:"retrieved_answer,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Retrieve returns the retrieved answer, or a RETRIEVAL_ERROR AppError that
// carries the downstream body text.
func (k *KnowledgeClient) Retrieve(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(RetrieveRequest{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+k.token)

	start := time.Now()
	resp, err := k.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("knowledge retrieval request error")
		return "", apperrors.Retrieval("knowledge retrieval request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("knowledge retrieval failed")
		return "", apperrors.Retrieval(errorText(raw), fmt.Errorf("status %d", resp.StatusCode))
	}

	var out RetrieveResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperrors.Retrieval("invalid retrieval response", err)
	}

	log.Info().Dur("elapsed", elapsed).Msg("knowledge retrieved")
	return out.RetrievedAnswer, nil
}

// errorText prefers the {error} field of a JSON body over the raw text.
func errorText(raw []byte) string {
	var out RetrieveResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != "" {
		return out.Error
	}
	return strings.TrimSpace(string(raw))
}

// TextGenerator runs a single prompt through the model.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Retriever answers a question from the stored knowledge corpus.
type Retriever struct {
	repo  repository.KnowledgeRepository
	model TextGenerator
}

func NewRetriever(repo repository.KnowledgeRepository, model TextGenerator) *Retriever {
	return &Retriever{repo: repo, model: model}
}

const retrieverPrompt = `Background knowledge:
---
%s
---
Using only the background knowledge above, answer the following question in one precise, factual sentence. If the knowledge does not contain the answer, say that no relevant information was found.
Question: %s`

func (r *Retriever) Answer(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", apperrors.MissingRequired("query")
	}

	entries, err := r.repo.ListAll(ctx)
	if err != nil {
		return "", apperrors.Database(err)
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Content)
	}

	answer, err := r.model.GenerateText(ctx, fmt.Sprintf(retrieverPrompt, strings.Join(parts, "\n"), query))
	if err != nil {
		return "", apperrors.External("model", err)
	}

	log.Info().Int("entries", len(entries)).Msg("knowledge answer generated")
	return answer, nil
}
