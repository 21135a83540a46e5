package llmutil

import (
	"testing"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/providers/huggingface"
	"github.com/geekeatingbugz/whatsapp-bot/providers/openai"
	"github.com/spf13/viper"
)

func TestClientFromConfigSelectsProvider(t *testing.T) {
	c, err := ClientFromConfig(ClientConfig{Provider: "HF", APIKey: "tok", RequestTimeout: 15 * time.Second})
	if err != nil {
		t.Fatalf("ClientFromConfig() error = %v", err)
	}
	hf, ok := c.(*huggingface.Client)
	if !ok {
		t.Fatalf("client type = %T, want *huggingface.Client", c)
	}
	if hf.Endpoint != huggingface.DefaultEndpoint {
		t.Fatalf("endpoint = %q, want default", hf.Endpoint)
	}
	if hf.HTTP.Timeout != 20*time.Second {
		t.Fatalf("http timeout = %s, want 20s", hf.HTTP.Timeout)
	}

	c, err = ClientFromConfig(ClientConfig{Provider: "openai", Model: "gpt-4o-mini", Endpoint: huggingface.DefaultEndpoint})
	if err != nil {
		t.Fatalf("ClientFromConfig() error = %v", err)
	}
	oa, ok := c.(*openai.Client)
	if !ok {
		t.Fatalf("client type = %T, want *openai.Client", c)
	}
	if oa.BaseURL != "https://api.openai.com" {
		t.Fatalf("base url = %q, want openai default", oa.BaseURL)
	}
}

func TestClientFromConfigRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  ClientConfig
	}{
		{name: "huggingface without token", cfg: ClientConfig{Provider: "huggingface"}},
		{name: "openai without model", cfg: ClientConfig{Provider: "openai", APIKey: "k"}},
		{name: "unknown provider", cfg: ClientConfig{Provider: "carrier-pigeon", APIKey: "k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ClientFromConfig(tc.cfg); err == nil {
				t.Fatalf("ClientFromConfig() expected error")
			}
		})
	}
}

func TestParametersFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	p := ParametersFromViper()
	if p.MaxNewTokens != 100 || p.Temperature != 0.7 {
		t.Fatalf("defaults mismatch: %#v", p)
	}

	viper.Set("llm.max_new_tokens", 60)
	viper.Set("llm.temperature", 0.0)
	p = ParametersFromViper()
	if p.MaxNewTokens != 60 {
		t.Fatalf("max_new_tokens = %d, want 60", p.MaxNewTokens)
	}
	if p.Temperature != 0 {
		t.Fatalf("temperature = %v, want explicit 0", p.Temperature)
	}
}
