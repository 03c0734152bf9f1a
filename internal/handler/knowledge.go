package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// KnowledgeHandler exposes the retriever to the knowledge tool.
type KnowledgeHandler struct {
	retriever Answerer
}

func NewKnowledgeHandler(retriever Answerer) *KnowledgeHandler {
	return &KnowledgeHandler{retriever: retriever}
}

func (h *KnowledgeHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req service.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, service.RetrieveResponse{Error: "Invalid request body"})
		return
	}

	answer, err := h.retriever.Answer(r.Context(), req.Query)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeMissingRequired) {
			writeJSON(w, http.StatusBadRequest, service.RetrieveResponse{Error: "query is required"})
			return
		}
		log.Error().Err(err).Str("query", truncate(req.Query, 80)).Msg("knowledge retrieval failed")
		writeJSON(w, http.StatusInternalServerError, service.RetrieveResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, service.RetrieveResponse{RetrievedAnswer: answer})
}
