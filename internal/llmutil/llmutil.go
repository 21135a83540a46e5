package llmutil

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/llm"
	"github.com/geekeatingbugz/whatsapp-bot/providers/huggingface"
	"github.com/geekeatingbugz/whatsapp-bot/providers/openai"
	"github.com/spf13/viper"
)

type ClientConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

func ProviderFromViper() string {
	return normalizeProvider(viper.GetString("llm.provider"))
}

func ConfigFromViper() ClientConfig {
	return ClientConfig{
		Provider:       ProviderFromViper(),
		Endpoint:       strings.TrimSpace(viper.GetString("llm.endpoint")),
		APIKey:         strings.TrimSpace(viper.GetString("llm.api_key")),
		Model:          strings.TrimSpace(viper.GetString("llm.model")),
		RequestTimeout: viper.GetDuration("llm.request_timeout"),
	}
}

func ParametersFromViper() llm.Parameters {
	p := llm.DefaultParameters()
	if v := viper.GetInt("llm.max_new_tokens"); v > 0 {
		p.MaxNewTokens = v
	}
	if viper.IsSet("llm.temperature") {
		p.Temperature = viper.GetFloat64("llm.temperature")
	}
	if v := viper.GetFloat64("llm.top_p"); v > 0 {
		p.TopP = v
	}
	if v := viper.GetFloat64("llm.repetition_penalty"); v > 0 {
		p.RepetitionPenalty = v
	}
	return p
}

func ClientFromConfig(cfg ClientConfig) (llm.Client, error) {
	// The generator enforces its own deadline; the HTTP timeout only guards
	// against a hung connection when the caller passes no deadline.
	httpClient := &http.Client{Timeout: httpTimeout(cfg.RequestTimeout)}
	switch normalizeProvider(cfg.Provider) {
	case "huggingface":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing llm.api_key (set HF_API_TOKEN or WABOT_LLM_API_KEY)")
		}
		c := huggingface.New(cfg.Endpoint, cfg.APIKey)
		c.HTTP = httpClient
		return c, nil
	case "openai":
		if cfg.Model == "" {
			return nil, fmt.Errorf("missing llm.model for provider openai")
		}
		endpoint := cfg.Endpoint
		if endpoint == huggingface.DefaultEndpoint {
			endpoint = ""
		}
		c := openai.New(endpoint, cfg.APIKey)
		c.HTTP = httpClient
		return c, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

func httpTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 60 * time.Second
	}
	return requestTimeout + 5*time.Second
}

func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case "", "hf", "huggingface", "hugging_face":
		return "huggingface"
	case "openai", "openai_custom", "openai_compatible":
		return "openai"
	default:
		return provider
	}
}
