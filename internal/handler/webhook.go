package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/audit"
	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/httputil"
	"github.com/lynnbot/assistant-server-go/internal/metrics"
	"github.com/lynnbot/assistant-server-go/internal/middleware"
	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

// EventSubmitter hands an accepted event to background processing.
type EventSubmitter interface {
	Submit(event *model.Event)
}

type webhookRequest struct {
	Encrypt   string `json:"encrypt"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Type      string `json:"type"`
}

// WebhookHandler is the platform's event callback. Apart from failed
// handshakes it always answers 200 so the platform does not retry.
type WebhookHandler struct {
	decoder    *service.PayloadDecoder
	dispatcher EventSubmitter
	metrics    *metrics.Metrics
}

func NewWebhookHandler(decoder *service.PayloadDecoder, dispatcher EventSubmitter, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		decoder:    decoder,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body := middleware.GetRawBody(r.Context())
	if body == nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read webhook body")
			h.ack(w, metrics.WebhookIgnored)
			return
		}
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn().Err(err).Int("bytes", len(body)).Msg("invalid webhook body")
		h.ack(w, metrics.WebhookIgnored)
		return
	}

	switch {
	case req.Encrypt != "":
		h.handleEncrypted(w, r, req.Encrypt)
	case req.Challenge != "":
		h.handshake(w, r, req.Challenge, req.Token)
	default:
		log.Debug().Str("type", req.Type).Msg("ignoring unencrypted webhook body")
		h.ack(w, metrics.WebhookIgnored)
	}
}

func (h *WebhookHandler) handshake(w http.ResponseWriter, r *http.Request, challenge, token string) {
	echoed, err := h.decoder.VerifyHandshake(challenge, token)
	if err != nil {
		log.Warn().Msg("webhook handshake rejected")
		audit.LogFromRequest(r, audit.Event{Type: audit.EventHandshakeForbidden})
		h.metrics.Webhook(metrics.WebhookForbidden)
		httputil.WriteError(w, err)
		return
	}

	log.Info().Msg("webhook handshake verified")
	h.metrics.Webhook(metrics.WebhookHandshake)
	writeJSON(w, http.StatusOK, map[string]string{"challenge": echoed})
}

func (h *WebhookHandler) handleEncrypted(w http.ResponseWriter, r *http.Request, encrypted string) {
	plaintext, err := h.decoder.Decrypt(encrypted)
	if err != nil {
		h.rejectPayload(w, r, err)
		return
	}

	event, err := h.decoder.Decode(plaintext)
	if err != nil {
		h.rejectPayload(w, r, err)
		return
	}

	if event.IsURLVerification() {
		h.handshake(w, r, event.Challenge, event.Token)
		return
	}

	log.Info().
		Str("eventId", event.Header.EventID).
		Str("eventType", event.Header.EventType).
		Str("messageId", event.Event.Message.MessageID).
		Msg("webhook event accepted")

	h.dispatcher.Submit(event)
	h.ack(w, metrics.WebhookAccepted)
}

// rejectPayload records an undecodable or unauthenticated payload and still
// acknowledges it.
func (h *WebhookHandler) rejectPayload(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.HasCode(err, apperrors.ErrCodeForbidden) {
		log.Warn().Err(err).Msg("webhook event token mismatch")
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventHandshakeForbidden,
			Details: map[string]interface{}{"stage": "event"},
		})
		h.ack(w, metrics.WebhookForbidden)
		return
	}

	log.Warn().Err(err).Msg("failed to decode webhook payload")
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventDecryptFailure,
		Details: map[string]interface{}{"error": err},
	})
	h.ack(w, metrics.WebhookDecryptError)
}

func (h *WebhookHandler) ack(w http.ResponseWriter, result string) {
	h.metrics.Webhook(result)
	httputil.WriteText(w, http.StatusOK, "OK")
}
