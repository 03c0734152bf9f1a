package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type sendMessageBody struct {
	ReceiveID string `json:"receive_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// SendText sends a plain text message to a user addressed by open_id.
func (c *Client) SendText(ctx context.Context, tenantToken, openID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/im/v1/messages",
		query:  url.Values{"receive_id_type": {"open_id"}},
		bearer: tenantToken,
		body: sendMessageBody{
			ReceiveID: openID,
			MsgType:   "text",
			Content:   string(content),
		},
	}, nil)
}
