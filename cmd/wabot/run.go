package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/geekeatingbugz/whatsapp-bot/internal/commands"
	"github.com/geekeatingbugz/whatsapp-bot/internal/generate"
	"github.com/geekeatingbugz/whatsapp-bot/internal/llmutil"
	"github.com/geekeatingbugz/whatsapp-bot/internal/logutil"
	"github.com/geekeatingbugz/whatsapp-bot/internal/metrics"
	"github.com/geekeatingbugz/whatsapp-bot/internal/persona"
	"github.com/geekeatingbugz/whatsapp-bot/internal/randutil"
	"github.com/geekeatingbugz/whatsapp-bot/internal/router"
	"github.com/geekeatingbugz/whatsapp-bot/internal/scheduler"
	"github.com/geekeatingbugz/whatsapp-bot/internal/session/wsbridge"
	"github.com/geekeatingbugz/whatsapp-bot/internal/supervisor"
	"github.com/geekeatingbugz/whatsapp-bot/internal/wordchain"
	"github.com/geekeatingbugz/whatsapp-bot/memory"
	"github.com/geekeatingbugz/whatsapp-bot/session"
	"github.com/mdp/qrterminal/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to the bridge session and start replying",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}

	cmd.Flags().String("bridge-url", "", "WebSocket URL of the WhatsApp Web bridge.")
	cmd.Flags().String("bridge-token", "", "Bearer token sent to the bridge.")
	cmd.Flags().String("persona-file", "", "YAML file overriding the built-in persona.")
	cmd.Flags().String("metrics-listen", "", "Address for /metrics and /healthz (empty disables).")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 picks a time-based seed).")

	_ = viper.BindPFlag("bridge.url", cmd.Flags().Lookup("bridge-url"))
	_ = viper.BindPFlag("bridge.token", cmd.Flags().Lookup("bridge-token"))
	_ = viper.BindPFlag("bot.persona_file", cmd.Flags().Lookup("persona-file"))
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("metrics-listen"))
	_ = viper.BindPFlag("random.seed", cmd.Flags().Lookup("seed"))

	return cmd
}

type app struct {
	logger     *slog.Logger
	out        io.Writer
	registry   *prometheus.Registry
	supervisor *supervisor.Supervisor
	listen     string
}

func newApp(logger *slog.Logger, out io.Writer) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{
		logger:   logger,
		out:      out,
		registry: prometheus.NewRegistry(),
		listen:   metrics.NormalizeListen(viper.GetString("server.listen")),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	p, err := persona.Load(viper.GetString("bot.persona_file"))
	if err != nil {
		return nil, err
	}
	llmCfg := llmutil.ConfigFromViper()
	client, err := llmutil.ClientFromConfig(llmCfg)
	if err != nil {
		return nil, err
	}
	transport, err := wsbridge.New(wsbridge.Config{
		URL:              viper.GetString("bridge.url"),
		Token:            viper.GetString("bridge.token"),
		MaxConcurrency:   viper.GetInt("bridge.max_concurrency"),
		ReplyTimeout:     viper.GetDuration("bridge.reply_timeout"),
		HandshakeTimeout: viper.GetDuration("bridge.handshake_timeout"),
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	random := randutil.New(viper.GetUint64("random.seed"))
	store := memory.NewStore(viper.GetInt("memory.max_phrases"))
	prefix := viper.GetString("bot.command_prefix")

	gen := generate.New(generate.Options{
		Client:     client,
		Phrases:    store,
		Persona:    p,
		Model:      llmCfg.Model,
		Parameters: llmutil.ParametersFromViper(),
		Timeout:    llmCfg.RequestTimeout,
		Logger:     logger,
		Metrics:    m,
	})
	sched := scheduler.New(scheduler.Options{
		MinDelay:      viper.GetDuration("reply.min_delay"),
		MaxDelay:      viper.GetDuration("reply.max_delay"),
		RatePerMinute: viper.GetFloat64("reply.rate_per_minute"),
		Burst:         viper.GetInt("reply.burst"),
		Random:        random,
		Logger:        logger,
		Metrics:       m,
	})
	dispatcher := commands.New(commands.Options{
		Prefix:    prefix,
		Persona:   p,
		Generator: gen,
		Scheduler: sched,
		Games:     wordchain.NewRegistry(),
		Logger:    logger,
		Metrics:   m,
	})
	rt := router.New(router.Options{
		Prefix:             prefix,
		MentionToken:       viper.GetString("bot.mention_token"),
		AmbientProbability: viper.GetFloat64("bot.ambient_probability"),
		Memory:             store,
		Generator:          gen,
		Commands:           dispatcher,
		Scheduler:          sched,
		Persona:            p,
		Random:             random,
		Logger:             logger,
		Metrics:            m,
	})

	a.supervisor = supervisor.New(supervisor.Options{
		Transport: transport,
		Handlers: session.Handlers{
			OnQRCode:        a.showQRCode,
			OnAuthenticated: func() { logger.Info("session_authenticated") },
			OnReady:         func() { a.announceReady(prefix) },
			OnMessage:       rt.HandleMessage,
		},
		MaxRestarts:  viper.GetInt("supervisor.max_restarts"),
		RestartDelay: viper.GetDuration("supervisor.restart_delay"),
		Logger:       logger,
		Metrics:      m,
	})

	logger.Info("wabot_configured",
		"version", currentBuild().Version,
		"llm_provider", llmCfg.Provider,
		"bridge_url", viper.GetString("bridge.url"),
		"persona", p.Name,
		"ambient_probability", viper.GetFloat64("bot.ambient_probability"),
		"metrics_listen", a.listen,
	)
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		// The metrics server lives only as long as the session.
		defer cancel()
		return a.supervisor.Run(runCtx)
	})
	if a.listen != "" {
		handler := metrics.NewHandler(a.registry, func() (string, bool) {
			return a.supervisor.State().String(), a.supervisor.Healthy()
		})
		g.Go(func() error {
			return metrics.Serve(runCtx, a.logger, a.listen, handler)
		})
	}
	err := g.Wait()
	if err != nil {
		a.logger.Error("wabot_stopped", "error", err.Error())
		return err
	}
	a.logger.Info("wabot_stopped")
	return nil
}

func (a *app) showQRCode(code string) {
	if a.out == nil {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, a.out)
	_, _ = fmt.Fprintln(a.out, "Scan the QR code above with your phone.")
	a.logger.Info("session_qr_code")
}

func (a *app) announceReady(prefix string) {
	names := []string{commands.NameHelp, commands.NameRoast, commands.NameCompliment, commands.NameWordChain}
	list := ""
	for i, n := range names {
		if i > 0 {
			list += ", "
		}
		list += prefix + n
	}
	a.logger.Info("session_ready", "commands", list)
}
