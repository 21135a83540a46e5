package wsbridge

import (
	"context"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/session"
)

type message struct {
	sess *bridgeSession
	data messageData
}

func (m *message) ID() string     { return m.data.ID }
func (m *message) Body() string   { return m.data.Body }
func (m *message) FromMe() bool   { return m.data.FromMe }
func (m *message) Author() string { return m.data.Author }
func (m *message) From() string   { return m.data.From }

// SentAt is the bridge timestamp, or the zero time when it sent none.
func (m *message) SentAt() time.Time {
	if m.data.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(m.data.Timestamp, 0)
}

func (m *message) Chat(context.Context) (session.Chat, error) {
	id := m.data.ChatID
	if id == "" {
		id = m.data.From
	}
	return session.Chat{ID: id, IsGroup: m.data.IsGroup}, nil
}

func (m *message) Reply(ctx context.Context, content string) error {
	chat, _ := m.Chat(ctx)
	return m.sess.sendReply(ctx, chat.ID, m.data.ID, content)
}
