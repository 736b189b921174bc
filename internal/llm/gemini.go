package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// DefaultGeminiModel is the default Gemini model used for extraction.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini completer.
type GeminiConfig struct {
	Settings
	APIKey      string
	UseVertexAI bool
}

// Gemini is a Completer backed by google.golang.org/genai.
type Gemini struct {
	client   *genai.Client
	settings Settings
}

// NewGemini creates a Gemini completer. With an empty API key the SDK falls
// back to GOOGLE_API_KEY / Vertex AI environment settings.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if cfg.UseVertexAI {
		cc.Backend = genai.BackendVertexAI
	} else if cfg.APIKey != "" {
		cc.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %w", domain.ErrFatalConfiguration, err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &Gemini{client: client, settings: cfg.Settings}, nil
}

// Model implements Completer.
func (g *Gemini) Model() string {
	return g.settings.Model
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: req.Instruction},
				{Text: req.Input},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.settings.Temperature),
	}
	if g.settings.MaxOutputTokens > 0 {
		config.MaxOutputTokens = g.settings.MaxOutputTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.settings.Model, contents, config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return "", ErrEmptyResponse
	}
	return rawText, nil
}

func classifyGeminiError(err error) error {
	status, msg, ok := geminiStatus(err)
	if !ok {
		return fmt.Errorf("gemini generate content: %w", err)
	}
	apiErr := &APIError{Provider: "gemini", StatusCode: status, Message: msg}
	// Gemini answers an invalid key with 400 INVALID_ARGUMENT "API key not valid".
	if apiErr.Unauthorized() || (status == 400 && containsFold(msg, "api key not valid")) {
		return fmt.Errorf("%w: %w", domain.ErrFatalConfiguration, apiErr)
	}
	return apiErr
}

// geminiStatus walks the error chain looking for the SDK's APIError, which is
// returned by value.
func geminiStatus(err error) (int, string, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch apiErr := any(e).(type) {
		case genai.APIError:
			return apiErr.Code, apiErr.Message, true
		case *genai.APIError:
			if apiErr != nil {
				return apiErr.Code, apiErr.Message, true
			}
		}
	}
	return 0, "", false
}
