package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/internal/persona"
	"github.com/geekeatingbugz/whatsapp-bot/llm"
)

const (
	DefaultTimeout = 15 * time.Second

	endOfTurn = "</s>"
)

const (
	OutcomeOK           = "ok"
	OutcomeServiceError = "service_error"
	OutcomeEmpty        = "empty"
	OutcomeFailure      = "failure"
)

// PhraseSource provides the learned phrases used as prompt hints.
type PhraseSource interface {
	RecentPhrases(conversationID string, n int) []string
}

type Options struct {
	Client     llm.Client
	Phrases    PhraseSource
	Persona    *persona.Persona
	Model      string
	Parameters llm.Parameters
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Generator struct {
	client  llm.Client
	phrases PhraseSource
	persona *persona.Persona
	model   string
	params  llm.Parameters
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(opts Options) *Generator {
	g := &Generator{
		client:  opts.Client,
		phrases: opts.Phrases,
		persona: opts.Persona,
		model:   opts.Model,
		params:  opts.Parameters,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if g.persona == nil {
		g.persona = persona.Default()
	}
	if g.params == (llm.Parameters{}) {
		g.params = llm.DefaultParameters()
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Generate produces one in-character reply for the given context. It never
// fails: every error path ends in one of the persona's fallback strings.
func (g *Generator) Generate(ctx context.Context, promptContext string, conversationID string) string {
	start := time.Now()
	text, outcome := g.generate(ctx, promptContext, conversationID)
	elapsed := time.Since(start)
	g.metrics.ObserveGeneration(outcome, elapsed.Seconds())
	g.logger.Debug("generation_done",
		"conversation_id", conversationID,
		"outcome", outcome,
		"duration", elapsed.String(),
	)
	return text
}

func (g *Generator) generate(ctx context.Context, promptContext string, conversationID string) (text string, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("generation_panic", "conversation_id", conversationID, "panic", fmt.Sprint(r))
			text, outcome = g.persona.Fallbacks.Failure, OutcomeFailure
		}
	}()

	if g.client == nil {
		g.logger.Error("generation_failed", "conversation_id", conversationID, "error", "llm client is not configured")
		return g.persona.Fallbacks.Failure, OutcomeFailure
	}

	messages, err := g.buildMessages(promptContext, conversationID)
	if err != nil {
		g.logger.Error("generation_prompt_error", "conversation_id", conversationID, "error", err.Error())
		return g.persona.Fallbacks.Failure, OutcomeFailure
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.client.Generate(callCtx, llm.Request{
		Model:      g.model,
		Messages:   messages,
		Parameters: g.params,
	})
	if err != nil {
		var svcErr *llm.ServiceError
		if errors.As(err, &svcErr) {
			g.logger.Warn("generation_service_error", "conversation_id", conversationID, "error", svcErr.Error())
			return g.persona.Fallbacks.ServiceError, OutcomeServiceError
		}
		g.logger.Error("generation_failed", "conversation_id", conversationID, "error", err.Error())
		return g.persona.Fallbacks.Failure, OutcomeFailure
	}

	out := Clean(res.Text)
	if out == "" {
		return g.persona.Fallbacks.EmptyOutput, OutcomeEmpty
	}
	return out, OutcomeOK
}

func (g *Generator) buildMessages(promptContext string, conversationID string) ([]llm.Message, error) {
	hints := g.persona.Prompt.EmptyHints
	if g.phrases != nil {
		if recent := g.phrases.RecentPhrases(conversationID, g.persona.Prompt.HintCount); len(recent) > 0 {
			hints = strings.Join(recent, ", ")
		}
	}
	system, err := g.persona.SystemPrompt(persona.PromptData{Context: promptContext, Hints: hints})
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: g.persona.Prompt.User},
	}, nil
}

// Clean cuts the generated text at the first end-of-turn marker and trims it.
func Clean(text string) string {
	if i := strings.Index(text, endOfTurn); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
