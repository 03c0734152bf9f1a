package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/audit"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

const RawBodyContextKey contextKey = "rawBody"

const (
	HeaderLarkSignature = "X-Lark-Signature"
	HeaderLarkTimestamp = "X-Lark-Request-Timestamp"
	HeaderLarkNonce     = "X-Lark-Request-Nonce"
)

// GetRawBody returns the request body captured by the signature middleware.
func GetRawBody(ctx context.Context) []byte {
	if body, ok := ctx.Value(RawBodyContextKey).([]byte); ok {
		return body
	}
	return nil
}

// FeishuSignatureMiddleware checks X-Lark-Signature on webhook deliveries.
// The platform only signs when an encrypt key is configured; unsigned
// requests pass through and are authenticated by the payload itself.
type FeishuSignatureMiddleware struct {
	encryptKey string
}

func NewFeishuSignatureMiddleware(encryptKey string) *FeishuSignatureMiddleware {
	return &FeishuSignatureMiddleware{encryptKey: encryptKey}
}

func (m *FeishuSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("feishu signature middleware: failed to read body")
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		signature := r.Header.Get(HeaderLarkSignature)
		if signature != "" && m.encryptKey != "" {
			timestamp := r.Header.Get(HeaderLarkTimestamp)
			nonce := r.Header.Get(HeaderLarkNonce)
			computed := util.SHA256Hex(timestamp, nonce, m.encryptKey, string(body))
			if !util.ConstantTimeEqual(computed, signature) {
				log.Warn().Msg("feishu signature middleware: invalid signature")
				audit.LogFromRequest(r, audit.Event{Type: audit.EventSignatureInvalid})
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Invalid signature",
				})
				return
			}
		}

		ctx := context.WithValue(r.Context(), RawBodyContextKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
