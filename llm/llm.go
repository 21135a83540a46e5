package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Parameters are the sampling knobs sent with every generation request.
type Parameters struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

func DefaultParameters() Parameters {
	return Parameters{
		MaxNewTokens:      100,
		Temperature:       0.7,
		TopP:              0.9,
		RepetitionPenalty: 1.2,
	}
}

type Result struct {
	Text     string
	Duration time.Duration
}

type Request struct {
	Model      string
	Messages   []Message
	Parameters Parameters
}

type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// ServiceError is an error the inference service reported in its response
// body, as opposed to a transport or decoding failure.
type ServiceError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unknown error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}
