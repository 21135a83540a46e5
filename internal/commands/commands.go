package commands

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/internal/persona"
	"github.com/geekeatingbugz/whatsapp-bot/internal/scheduler"
	"github.com/geekeatingbugz/whatsapp-bot/internal/wordchain"
	"github.com/geekeatingbugz/whatsapp-bot/session"
)

const DefaultPrefix = "!"

const (
	NameRoast      = "roast"
	NameWordChain  = "wordchain"
	NameCompliment = "compliment"
	NameHelp       = "help"
	NameUnknown    = "unknown"
)

// Command is one parsed invocation. Name is lowercased and carries no prefix.
type Command struct {
	Name         string
	Argument     string
	Requester    string
	Conversation string
}

type Generator interface {
	Generate(ctx context.Context, promptContext string, conversationID string) string
}

type Scheduler interface {
	Schedule(ctx context.Context, target session.Message, content string) scheduler.Outcome
}

type Options struct {
	Prefix    string
	Persona   *persona.Persona
	Generator Generator
	Scheduler Scheduler
	Games     *wordchain.Registry
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Dispatcher struct {
	prefix    string
	persona   *persona.Persona
	generator Generator
	scheduler Scheduler
	games     *wordchain.Registry
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		prefix:    opts.Prefix,
		persona:   opts.Persona,
		generator: opts.Generator,
		scheduler: opts.Scheduler,
		games:     opts.Games,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if d.prefix == "" {
		d.prefix = DefaultPrefix
	}
	if d.persona == nil {
		d.persona = persona.Default()
	}
	if d.games == nil {
		d.games = wordchain.NewRegistry()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Parse reads a command from text. It reports false when text does not start
// with prefix.
func Parse(prefix, text, requester, conversation string) (Command, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	token, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		token, rest = text[:i], text[i:]
	}
	return Command{
		Name:         strings.ToLower(strings.TrimPrefix(token, prefix)),
		Argument:     strings.TrimSpace(rest),
		Requester:    requester,
		Conversation: conversation,
	}, true
}

// Reply computes the reply text for cmd. Every command, known or not, yields
// exactly one non-empty reply.
func (d *Dispatcher) Reply(ctx context.Context, cmd Command) string {
	name := cmd.Name
	var reply string
	switch cmd.Name {
	case NameRoast:
		reply = d.targeted(ctx, cmd, d.persona.RoastContext, d.persona.Commands.Roast.Suffix)
	case NameWordChain:
		s := d.games.Start(cmd.Conversation, cmd.Requester)
		d.logger.Info("wordchain_started",
			"conversation_id", cmd.Conversation,
			"first_word", s.LastWord,
			"players", len(s.Players),
			"active_games", d.games.Len(),
		)
		reply = d.text(name, func() (string, error) {
			return d.persona.WordChainText(persona.WordChainData{FirstWord: s.LastWord, NextLetter: s.NextLetter()})
		})
	case NameCompliment:
		reply = d.targeted(ctx, cmd, d.persona.ComplimentContext, d.persona.Commands.Compliment.Suffix)
	case NameHelp:
		reply = d.text(name, func() (string, error) { return d.persona.HelpText(d.prefix) })
	default:
		name = NameUnknown
		reply = d.text(name, func() (string, error) { return d.persona.UnknownText(d.prefix) })
	}
	d.metrics.ObserveCommand(name)
	d.logger.Info("command_handled", "command", name, "conversation_id", cmd.Conversation, "requester", cmd.Requester)
	return reply
}

// Handle computes the reply for cmd and hands it to the scheduler, quoting
// target.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command, target session.Message) scheduler.Outcome {
	reply := d.Reply(ctx, cmd)
	if d.scheduler == nil {
		d.logger.Error("command_reply_dropped", "command", cmd.Name, "error", "scheduler is not configured")
		return scheduler.Outcome{}
	}
	return d.scheduler.Schedule(ctx, target, reply)
}

func (d *Dispatcher) text(name string, render func() (string, error)) string {
	out, err := render()
	if err != nil {
		d.logger.Error("command_text_error", "command", name, "error", err.Error())
		return d.persona.Fallbacks.Failure
	}
	if strings.TrimSpace(out) == "" {
		return d.persona.Fallbacks.Failure
	}
	return out
}

func (d *Dispatcher) targeted(ctx context.Context, cmd Command, render func(string) (string, error), suffix string) string {
	target := cmd.Argument
	if target == "" {
		target = cmd.Requester
	}
	if target == "" {
		target = d.persona.Commands.DefaultTarget
	}
	promptContext, err := render(target)
	if err != nil {
		d.logger.Error("command_context_error", "command", cmd.Name, "error", err.Error())
		return d.persona.Fallbacks.Failure + suffix
	}
	if d.generator == nil {
		return d.persona.Fallbacks.Failure + suffix
	}
	return d.generator.Generate(ctx, promptContext, cmd.Conversation) + suffix
}
