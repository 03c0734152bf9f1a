package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynnbot/assistant-server-go/internal/metrics"
	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/service"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

const (
	testEncryptKey = "test-encrypt-key"
	testVerifyTok  = "verify-token"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	events []*model.Event
}

func (s *recordingSubmitter) Submit(event *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSubmitter) submitted() []*model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Event(nil), s.events...)
}

func newWebhookHarness() (*WebhookHandler, *recordingSubmitter, *metrics.Metrics) {
	sub := &recordingSubmitter{}
	m := metrics.New(prometheus.NewRegistry())
	h := NewWebhookHandler(service.NewPayloadDecoder(testEncryptKey, testVerifyTok), sub, m)
	return h, sub, m
}

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func encryptedBody(t *testing.T, plaintext string) string {
	t.Helper()
	enc, err := util.EncryptCBC(testEncryptKey, plaintext)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"encrypt": enc})
	require.NoError(t, err)
	return string(body)
}

const messageEnvelope = `{
  "schema": "2.0",
  "header": {"event_id": "ev-1", "event_type": "im.message.receive_v1", "create_time": "1756864800000", "token": "verify-token"},
  "event": {
    "sender": {"sender_id": {"open_id": "ou_123"}, "sender_type": "user"},
    "message": {"message_id": "om_1", "message_type": "text", "content": "{\"text\":\"hello\"}"}
  }
}`

func TestWebhook_Handshake(t *testing.T) {
	t.Run("echoes challenge for matching token", func(t *testing.T) {
		h, sub, m := newWebhookHarness()

		rec := postWebhook(h, `{"challenge":"abc123","token":"verify-token","type":"url_verification"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"challenge":"abc123"}`, rec.Body.String())
		assert.Empty(t, sub.submitted())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(metrics.WebhookHandshake)))
	})

	t.Run("rejects mismatched token", func(t *testing.T) {
		h, _, m := newWebhookHarness()

		rec := postWebhook(h, `{"challenge":"abc123","token":"wrong","type":"url_verification"}`)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotContains(t, rec.Body.String(), "abc123")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(metrics.WebhookForbidden)))
	})

	t.Run("handles handshake inside encrypted envelope", func(t *testing.T) {
		h, sub, _ := newWebhookHarness()

		rec := postWebhook(h, encryptedBody(t, `{"challenge":"inner","token":"verify-token","type":"url_verification"}`))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"challenge":"inner"}`, rec.Body.String())
		assert.Empty(t, sub.submitted())
	})
}

func TestWebhook_EncryptedEvent(t *testing.T) {
	h, sub, m := newWebhookHarness()

	rec := postWebhook(h, encryptedBody(t, messageEnvelope))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	events := sub.submitted()
	require.Len(t, events, 1)
	assert.Equal(t, "ou_123", events[0].SenderOpenID())
	assert.Equal(t, "om_1", events[0].Event.Message.MessageID)
	assert.Equal(t, "hello", events[0].Text())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(metrics.WebhookAccepted)))
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name   string
		body   func(t *testing.T) string
		result string
	}{
		{
			name:   "undecryptable payload",
			body:   func(*testing.T) string { return `{"encrypt":"%%%not-base64%%%"}` },
			result: metrics.WebhookDecryptError,
		},
		{
			name:   "decrypted non-json",
			body:   func(t *testing.T) string { return encryptedBody(t, "not json") },
			result: metrics.WebhookDecryptError,
		},
		{
			name: "event token mismatch",
			body: func(t *testing.T) string {
				return encryptedBody(t, strings.Replace(messageEnvelope, `"token": "verify-token"`, `"token": "forged"`, 1))
			},
			result: metrics.WebhookForbidden,
		},
		{
			name:   "plaintext event",
			body:   func(*testing.T) string { return `{"schema":"2.0","header":{"event_id":"ev-2"}}` },
			result: metrics.WebhookIgnored,
		},
		{
			name:   "invalid json",
			body:   func(*testing.T) string { return `not json` },
			result: metrics.WebhookIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sub, m := newWebhookHarness()

			rec := postWebhook(h, tt.body(t))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "OK", rec.Body.String())
			assert.Empty(t, sub.submitted())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(tt.result)))
		})
	}
}
