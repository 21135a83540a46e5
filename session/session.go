// Package session defines the boundary between the bot and the messaging
// session that carries its traffic.
package session

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a transport that has been destroyed.
var ErrClosed = errors.New("session closed")

// Chat describes the conversation a message belongs to.
type Chat struct {
	ID      string
	IsGroup bool
}

// Message is one inbound message. Reply quotes it in its own conversation.
type Message interface {
	ID() string
	Body() string
	FromMe() bool
	// Author is the sender inside a group; empty for direct chats.
	Author() string
	// From is the conversation the message arrived on.
	From() string
	Chat(ctx context.Context) (Chat, error)
	Reply(ctx context.Context, content string) error
}

// Handlers receive session events. Nil handlers are skipped.
type Handlers struct {
	OnQRCode        func(code string)
	OnAuthenticated func()
	OnReady         func()
	OnMessage       func(ctx context.Context, msg Message)
}

// Transport is a messaging session that can be started and torn down
// repeatedly.
type Transport interface {
	// Initialize connects and starts delivering events to h. It returns once
	// the session is running; later fatal failures arrive on Errors.
	Initialize(ctx context.Context, h Handlers) error
	Destroy(ctx context.Context) error
	Errors() <-chan error
}

// Sender returns the participant that wrote msg.
func Sender(msg Message) string {
	if msg == nil {
		return ""
	}
	if a := msg.Author(); a != "" {
		return a
	}
	return msg.From()
}
