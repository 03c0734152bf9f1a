package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	EventTypeMessageReceive  = "im.message.receive_v1"
	EventTypeURLVerification = "url_verification"
	SenderTypeUser           = "user"
	MessageTypeText          = "text"
)

// Event is the decrypted webhook envelope. Only the fields the assistant
// reads are mapped.
type Event struct {
	Schema    string       `json:"schema"`
	Type      string       `json:"type"`
	Challenge string       `json:"challenge"`
	Token     string       `json:"token"`
	Header    EventHeader  `json:"header"`
	Event     EventPayload `json:"event"`
}

type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

type EventPayload struct {
	Sender  EventSender  `json:"sender"`
	Message EventMessage `json:"message"`
}

type EventSender struct {
	SenderID   SenderID `json:"sender_id"`
	SenderType string   `json:"sender_type"`
}

type SenderID struct {
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
	UserID  string `json:"user_id"`
}

type EventMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	ChatType    string `json:"chat_type"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	CreateTime  string `json:"create_time"`
}

// IsURLVerification reports whether the envelope is a handshake challenge.
func (e *Event) IsURLVerification() bool {
	return e.Type == EventTypeURLVerification
}

func (e *Event) SenderOpenID() string {
	return e.Event.Sender.SenderID.OpenID
}

// CreatedAt parses the message create_time (milliseconds since epoch),
// falling back to the header's. ok is false when neither parses.
func (e *Event) CreatedAt() (time.Time, bool) {
	for _, raw := range []string{e.Event.Message.CreateTime, e.Header.CreateTime} {
		ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil && ms > 0 {
			return time.UnixMilli(ms), true
		}
	}
	return time.Time{}, false
}

// Text extracts the user text from a text message's JSON content. Other
// message types yield an empty string.
func (e *Event) Text() string {
	if e.Event.Message.Content == "" {
		return ""
	}
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(e.Event.Message.Content), &content); err != nil {
		return ""
	}
	return content.Text
}
