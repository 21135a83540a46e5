package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Inference
	viper.SetDefault("llm.provider", "huggingface")
	viper.SetDefault("llm.endpoint", "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.2")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.request_timeout", 15*time.Second)
	viper.SetDefault("llm.max_new_tokens", 100)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.top_p", 0.9)
	viper.SetDefault("llm.repetition_penalty", 1.2)

	// Bridge session
	viper.SetDefault("bridge.url", "ws://127.0.0.1:3000/session")
	viper.SetDefault("bridge.token", "")
	viper.SetDefault("bridge.max_concurrency", 8)
	viper.SetDefault("bridge.reply_timeout", 30*time.Second)
	viper.SetDefault("bridge.handshake_timeout", 15*time.Second)

	// Bot behaviour
	viper.SetDefault("bot.command_prefix", "!")
	viper.SetDefault("bot.mention_token", "9950757442")
	viper.SetDefault("bot.ambient_probability", 0.03)
	viper.SetDefault("bot.persona_file", "")
	viper.SetDefault("memory.max_phrases", 64)

	// Reply pacing
	viper.SetDefault("reply.min_delay", 2*time.Second)
	viper.SetDefault("reply.max_delay", 7*time.Second)
	viper.SetDefault("reply.rate_per_minute", 20)
	viper.SetDefault("reply.burst", 5)

	viper.SetDefault("supervisor.max_restarts", 3)
	viper.SetDefault("supervisor.restart_delay", 10*time.Second)

	// Metrics and health; empty disables the listener.
	viper.SetDefault("server.listen", "")

	viper.SetDefault("random.seed", 0)
}
