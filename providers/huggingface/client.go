package huggingface

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

const DefaultEndpoint = "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.2"

// EndOfTurn terminates every turn in the zephyr-style chat template.
const EndOfTurn = "</s>"

type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

func New(endpoint, apiKey string) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint: endpoint,
		APIKey:   strings.TrimSpace(apiKey),
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}
}

type textGenerationRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters llm.Parameters `json:"parameters"`
}

type textGenerationCandidate struct {
	GeneratedText string `json:"generated_text"`
}

type errorResponse struct {
	Error         any     `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	if c == nil || c.HTTP == nil {
		return llm.Result{}, fmt.Errorf("huggingface client is not initialized")
	}

	prompt := RenderPrompt(req.Messages)
	b, err := json.Marshal(textGenerationRequest{Inputs: prompt, Parameters: req.Parameters})
	if err != nil {
		return llm.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
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

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var out errorResponse
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return llm.Result{}, fmt.Errorf("huggingface: decode response: %w", err)
		}
		if msg := errorText(out.Error); msg != "" {
			return llm.Result{}, &llm.ServiceError{Provider: "huggingface", StatusCode: resp.StatusCode, Message: msg}
		}
		return llm.Result{}, fmt.Errorf("huggingface http %d: unexpected object response", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Result{}, fmt.Errorf("huggingface http %d: %s", resp.StatusCode, string(raw))
	}

	var candidates []textGenerationCandidate
	if err := json.Unmarshal(trimmed, &candidates); err != nil {
		return llm.Result{}, fmt.Errorf("huggingface: decode response: %w", err)
	}
	text := ""
	if len(candidates) > 0 {
		// The endpoint echoes the prompt unless return_full_text is disabled.
		text = strings.TrimPrefix(candidates[0].GeneratedText, prompt)
	}
	return llm.Result{Text: text, Duration: time.Since(start)}, nil
}

// RenderPrompt flattens chat messages into the zephyr template the hosted
// instruct models expect, leaving the assistant turn open.
func RenderPrompt(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = llm.RoleUser
		}
		b.WriteString("<|")
		b.WriteString(role)
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString(EndOfTurn)
		b.WriteString("\n")
	}
	b.WriteString("<|assistant|>")
	return b.String()
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case []any:
		parts := make([]string, 0, len(e))
		for _, item := range e {
			if s := errorText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, _ := json.Marshal(e)
		return strings.TrimSpace(string(b))
	}
}
