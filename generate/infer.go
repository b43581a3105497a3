package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoContent is returned when the API replies without any text.
var ErrNoContent = errors.New("no text content in response")

// Generator performs text generation via an OpenAI-compatible API.
type Generator struct {
	baseURL     string
	apiKey      string
	model       string
	apiType     string // "responses" or "chat_completions"
	maxTokens   int
	temperature float64
	stop        []string
	telemetry   bool // send OpenRouter attribution headers
	client      *http.Client
}

// NewGenerator creates a generator from config.
func NewGenerator(baseURL, apiKey, model, apiType string, maxTokens int, temperature float64, stop []string, telemetry bool) *Generator {
	return &Generator{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		apiType:     apiType,
		maxTokens:   maxTokens,
		temperature: temperature,
		stop:        stop,
		telemetry:   telemetry,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the generation model name.
func (g *Generator) Model() string { return g.model }

// Generate sends a completion request to the API and returns the response text.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if g.apiType == "chat_completions" {
		return g.generateChatCompletions(ctx, systemPrompt, userMessage)
	}
	return g.generateResponses(ctx, systemPrompt, userMessage)
}

// Close releases idle connections.
func (g *Generator) Close() {
	g.client.CloseIdleConnections()
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// --- Responses API ---

type responsesRequest struct {
	Model       string           `json:"model"`
	Input       []responsesInput `json:"input"`
	MaxTokens   int              `json:"max_output_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	Output []responsesOutput `json:"output"`
	Error  *apiError         `json:"error,omitempty"`
}

type responsesOutput struct {
	Type    string             `json:"type"`
	Content []responsesContent `json:"content,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (g *Generator) generateResponses(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	reqBody := responsesRequest{
		Model: g.model,
		Input: []responsesInput{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stop:        g.stop,
	}

	var result responsesResponse
	if err := g.post(ctx, "/responses", reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("API error: %s", result.Error.Message)
	}

	for _, out := range result.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			if c.Type == "output_text" {
				return c.Text, nil
			}
		}
	}
	return "", ErrNoContent
}

// --- Chat Completions API ---

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

func (g *Generator) generateChatCompletions(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	reqBody := chatCompletionsRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stop:        g.stop,
	}

	var result chatCompletionsResponse
	if err := g.post(ctx, "/chat/completions", reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", ErrNoContent
	}
	return result.Choices[0].Message.Content, nil
}

// post sends body as JSON to path and decodes the reply into out.
func (g *Generator) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w (body: %s)", err, string(raw))
	}
	return nil
}

// setHeaders sets common headers for API requests.
func (g *Generator) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if g.telemetry {
		req.Header.Set("X-Title", "Ghostline - inline code suggestions")
		req.Header.Set("HTTP-Referer", "https://github.com/Paranoid-AF/ghostline")
	}
}
