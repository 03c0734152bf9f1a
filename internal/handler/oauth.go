package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/audit"
	"github.com/lynnbot/assistant-server-go/internal/httputil"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

type OAuthFlow interface {
	AuthURL(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, code, state string) (string, error)
}

// OAuthHandler serves the browser side of calendar authorization. Pages are
// plain text.
type OAuthHandler struct {
	oauth OAuthFlow
}

func NewOAuthHandler(oauth OAuthFlow) *OAuthHandler {
	return &OAuthHandler{oauth: oauth}
}

func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.oauth.AuthURL(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to generate auth URL")
		httputil.WriteText(w, http.StatusInternalServerError, "Failed to start authorization. Please try again later.")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		httputil.WriteText(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	openID, err := h.oauth.HandleCallback(r.Context(), code, state)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventOAuthFailure,
			Details: map[string]interface{}{"error": err},
		})
		if errors.Is(err, service.ErrInvalidState) {
			httputil.WriteText(w, http.StatusBadRequest, "This authorization link has expired. Please open a new one from the chat.")
			return
		}
		log.Error().Err(err).Msg("oauth callback failed")
		httputil.WriteText(w, http.StatusInternalServerError, "Authorization failed. Please try again.")
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventOAuthAuthorized, UserID: openID})
	httputil.WriteText(w, http.StatusOK, "Authorization succeeded. You can close this page and ask the assistant about your calendar.")
}
