package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geekeatingbugz/whatsapp-bot/internal/commands"
	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/internal/persona"
	"github.com/geekeatingbugz/whatsapp-bot/internal/randutil"
	"github.com/geekeatingbugz/whatsapp-bot/internal/scheduler"
	"github.com/geekeatingbugz/whatsapp-bot/memory"
	"github.com/geekeatingbugz/whatsapp-bot/session"
)

const (
	DefaultMentionToken       = "9950757442"
	DefaultAmbientProbability = 0.03
)

type CommandHandler interface {
	Handle(ctx context.Context, cmd commands.Command, target session.Message) scheduler.Outcome
}

type Options struct {
	Prefix             string
	MentionToken       string
	AmbientProbability float64

	Memory    *memory.Store
	Generator commands.Generator
	Commands  CommandHandler
	Scheduler commands.Scheduler
	Persona   *persona.Persona
	Random    randutil.Source
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Router classifies inbound messages and decides which replies they get.
type Router struct {
	prefix       string
	mentionToken string
	ambientProb  float64

	memory    *memory.Store
	generator commands.Generator
	commands  CommandHandler
	scheduler commands.Scheduler
	persona   *persona.Persona
	random    randutil.Source
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Router {
	r := &Router{
		prefix:       opts.Prefix,
		mentionToken: strings.ToLower(strings.TrimSpace(opts.MentionToken)),
		ambientProb:  opts.AmbientProbability,
		memory:       opts.Memory,
		generator:    opts.Generator,
		commands:     opts.Commands,
		scheduler:    opts.Scheduler,
		persona:      opts.Persona,
		random:       opts.Random,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if r.prefix == "" {
		r.prefix = commands.DefaultPrefix
	}
	if r.memory == nil {
		r.memory = memory.NewStore(0)
	}
	if r.persona == nil {
		r.persona = persona.Default()
	}
	if r.random == nil {
		r.random = randutil.New(0)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// HandleMessage runs the full pipeline for one inbound message. Errors and
// panics are logged and never escape.
func (r *Router) HandleMessage(ctx context.Context, msg session.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message_handling_panic", "panic", fmt.Sprint(rec))
		}
	}()
	if err := r.handle(ctx, msg); err != nil {
		r.logger.Error("message_handling_error", "error", err.Error())
	}
}

func (r *Router) handle(ctx context.Context, msg session.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	text := msg.Body()
	if msg.FromMe() && !strings.HasPrefix(text, r.prefix) {
		return nil
	}

	chat, err := msg.Chat(ctx)
	if err != nil {
		return fmt.Errorf("chat lookup for message %s: %w", msg.ID(), err)
	}
	conversationID := chat.ID
	if conversationID == "" {
		conversationID = msg.From()
	}
	sender := session.Sender(msg)
	lower := strings.ToLower(text)

	r.metrics.ObserveMessage(chat.IsGroup)
	r.logger.Debug("message_received",
		"conversation_id", conversationID,
		"group", chat.IsGroup,
		"sender", sender,
		"body", lower,
	)

	if chat.IsGroup {
		r.remember(conversationID, sender, text)
	}

	if r.mentionToken != "" && strings.Contains(lower, r.mentionToken) {
		r.logger.Info("mention_detected", "conversation_id", conversationID, "group", chat.IsGroup)
		r.schedule(ctx, msg, r.persona.Mention.Ack)
		r.schedule(ctx, msg, randutil.Pick(r.random, r.persona.Mention.Media))
	}

	if cmd, ok := commands.Parse(r.prefix, text, msg.Author(), conversationID); ok {
		r.logger.Info("command_received", "conversation_id", conversationID, "command", cmd.Name)
		if r.commands != nil {
			r.commands.Handle(ctx, cmd, msg)
		}
	}

	if chat.IsGroup && r.random.Float64() < r.ambientProb {
		r.logger.Info("ambient_triggered", "conversation_id", conversationID)
		r.metrics.ObserveAmbient()
		if r.generator != nil {
			r.schedule(ctx, msg, r.generator.Generate(ctx, r.persona.Ambient.Context, conversationID))
		}
	}
	return nil
}

func (r *Router) remember(conversationID, sender, text string) {
	r.memory.RecordActivity(conversationID)
	r.memory.RecordParticipant(conversationID, sender)
	if r.memory.MaybeLearnPhrase(conversationID, text) {
		r.logger.Info("phrase_learned", "conversation_id", conversationID, "phrase", text)
	}
}

func (r *Router) schedule(ctx context.Context, msg session.Message, content string) {
	if r.scheduler == nil {
		r.logger.Error("reply_dropped", "error", "scheduler is not configured")
		return
	}
	r.scheduler.Schedule(ctx, msg, content)
}
