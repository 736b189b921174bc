package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
)

// DefaultOpenAIBaseURL is the public OpenAI API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI-compatible completer.
type OpenAIConfig struct {
	Settings
	APIKey  string
	BaseURL string
}

// OpenAI is a Completer that speaks the chat/completions protocol.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI completer. A nil httpClient uses http.DefaultClient;
// per-request deadlines come from the context.
func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	return &OpenAI{cfg: cfg, httpClient: httpClient}
}

// Model implements Completer.
func (c *OpenAI) Model() string {
	return c.cfg.Model
}

// Complete implements Completer.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	log := logger.FromContext(ctx)
	rid := uuid.New().String()
	start := time.Now()

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": req.Instruction},
			{"role": "user", "content": req.Input},
		},
	}
	if c.cfg.MaxOutputTokens > 0 {
		body["max_tokens"] = c.cfg.MaxOutputTokens
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("req_id", rid).
			Int64("elapsed_ms", time.Since(start).Milliseconds()).
			Msg("OpenAI request failed")
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 || strings.TrimSpace(cc.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	log.Debug().
		Str("req_id", rid).
		Str("model", c.cfg.Model).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("OpenAI completion received")
	return cc.Choices[0].Message.Content, nil
}

func (c *OpenAI) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, 16<<20)); err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: errorMessage(buf.Bytes())}
		if apiErr.Unauthorized() {
			return nil, fmt.Errorf("%w: %w", domain.ErrFatalConfiguration, apiErr)
		}
		return nil, apiErr
	}
	return buf.Bytes(), nil
}

// errorMessage pulls error.message out of an OpenAI error body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
