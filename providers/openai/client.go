package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geekeatingbugz/whatsapp-bot/llm"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []llm.Message `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	if c == nil || c.HTTP == nil {
		return llm.Result{}, fmt.Errorf("openai client is not initialized")
	}

	body := chatCompletionRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		MaxTokens:        req.Parameters.MaxNewTokens,
		Temperature:      req.Parameters.Temperature,
		TopP:             req.Parameters.TopP,
		FrequencyPenalty: frequencyPenalty(req.Parameters.RepetitionPenalty),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Result{}, err
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Result{}, fmt.Errorf("openai http %d: decode response: %w", resp.StatusCode, err)
	}
	if out.Error != nil && strings.TrimSpace(out.Error.Message) != "" {
		return llm.Result{}, &llm.ServiceError{Provider: "openai", StatusCode: resp.StatusCode, Message: out.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Result{}, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(raw))
	}
	if len(out.Choices) == 0 {
		return llm.Result{Duration: time.Since(start)}, nil
	}
	return llm.Result{
		Text:     out.Choices[0].Message.Content,
		Duration: time.Since(start),
	}, nil
}

// frequencyPenalty maps a multiplicative repetition penalty (1.0 = off) onto
// the additive [-2, 2] frequency penalty of the chat completions API.
func frequencyPenalty(repetition float64) float64 {
	if repetition <= 1 {
		return 0
	}
	p := repetition - 1
	if p > 2 {
		p = 2
	}
	return p
}
