package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const redacted = "[redacted]"

// Attribute keys whose values never reach the log output.
var secretKeys = map[string]bool{
	"api_key":       true,
	"token":         true,
	"authorization": true,
	"bridge_token":  true,
}

type loggerConfig struct {
	Level     string
	Format    string
	AddSource bool
	// Secrets are configured credentials. Any string attribute containing
	// one of them is masked.
	Secrets []string
	// Service tags every record when set.
	Service string
}

// LoggerFromViper builds the process logger. The inference credential and
// the bridge token are masked wherever they show up in attributes.
func LoggerFromViper() (*slog.Logger, error) {
	logCfg := loggerConfig{
		Level:     viper.GetString("logging.level"),
		Format:    viper.GetString("logging.format"),
		AddSource: viper.GetBool("logging.add_source"),
		Secrets:   []string{viper.GetString("llm.api_key"), viper.GetString("bridge.token")},
		Service:   "wabot",
	}
	if !viper.IsSet("logging.level") && viper.GetBool("trace") {
		logCfg.Level = "debug"
	}
	return newLoggerFromConfig(os.Stderr, logCfg)
}

func newLoggerFromConfig(w io.Writer, cfg loggerConfig) (*slog.Logger, error) {
	level, err := parseSlogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(cfg.Secrets),
	}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown logging.format: %s (want text or json)", cfg.Format)
	}

	logger := slog.New(h)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, nil
}

func redactor(secrets []string) func([]string, slog.Attr) slog.Attr {
	var masked []string
	for _, s := range secrets {
		// Values shorter than four bytes are left alone.
		if s = strings.TrimSpace(s); len(s) >= 4 {
			masked = append(masked, s)
		}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if secretKeys[strings.ToLower(a.Key)] {
			return slog.String(a.Key, redacted)
		}
		if a.Value.Kind() != slog.KindString || len(masked) == 0 {
			return a
		}
		v := a.Value.String()
		for _, s := range masked {
			v = strings.ReplaceAll(v, s, redacted)
		}
		return slog.String(a.Key, v)
	}
}

func parseSlogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging.level: %s", s)
	}
}
