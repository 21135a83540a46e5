package wsbridge

import (
	"encoding/json"
	"strings"
)

const (
	frameQR            = "qr"
	frameAuthenticated = "authenticated"
	frameReady         = "ready"
	frameMessage       = "message"
	frameAck           = "ack"
	frameError         = "error"
	frameReply         = "reply"
)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type qrData struct {
	Code string `json:"code"`
}

type messageData struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	IsGroup   bool   `json:"is_group"`
	From      string `json:"from"`
	Author    string `json:"author,omitempty"`
	FromMe    bool   `json:"from_me"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ackData struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type outboundFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Data      replyData `json:"data"`
}

type replyData struct {
	ChatID          string `json:"chat_id"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
	Text            string `json:"text"`
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
