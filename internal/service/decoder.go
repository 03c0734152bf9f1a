package service

import (
	"encoding/json"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/util"
)

// PayloadDecoder authenticates handshakes and turns encrypted webhook bodies
// into events.
type PayloadDecoder struct {
	encryptKey        string
	verificationToken string
}

func NewPayloadDecoder(encryptKey, verificationToken string) *PayloadDecoder {
	return &PayloadDecoder{
		encryptKey:        encryptKey,
		verificationToken: verificationToken,
	}
}

// VerifyHandshake echoes the challenge when token matches the configured
// verification token.
func (d *PayloadDecoder) VerifyHandshake(challenge, token string) (string, error) {
	if !util.TokenEqual(token, d.verificationToken) {
		return "", apperrors.Forbidden("verification token mismatch")
	}
	return challenge, nil
}

func (d *PayloadDecoder) Decrypt(encrypted string) (string, error) {
	plaintext, err := util.DecryptCBC(d.encryptKey, encrypted)
	if err != nil {
		return "", apperrors.Decrypt("failed to decrypt event payload", err)
	}
	return plaintext, nil
}

// Decode parses a decrypted envelope. A present header token must match the
// verification token.
func (d *PayloadDecoder) Decode(plaintext string) (*model.Event, error) {
	var event model.Event
	if err := json.Unmarshal([]byte(plaintext), &event); err != nil {
		return nil, apperrors.Decrypt("malformed event payload", err)
	}
	if event.Header.Token != "" && !util.TokenEqual(event.Header.Token, d.verificationToken) {
		return nil, apperrors.Forbidden("event token mismatch")
	}
	return &event, nil
}
