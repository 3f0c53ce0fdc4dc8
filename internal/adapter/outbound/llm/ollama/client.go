package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonny/sentinel/internal/adapter/outbound/llm/prompt"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const (
	chatPath      = "/api/chat"
	tagsPath      = "/api/tags"
	maxReplyBytes = 1 << 20
	retryBackoff  = 200 * time.Millisecond
)

// Config holds configuration for the Ollama client.
type Config struct {
	BaseURL      string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	SystemPrompt string
	Temperature  float64
}

// Client explains detections through a local Ollama model.
type Client struct {
	cfg     Config
	http    *http.Client
	prompts *prompt.Builder
}

var _ outbound.Explainer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("creating prompt builder: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, prompts: prompts}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// reply is the JSON object the prompt asks the model for.
type reply struct {
	Explanation    string `json:"explanation"`
	Recommendation string `json:"recommendation"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// httpStatusError carries a non-200 reply. Only 5xx is worth retrying.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("ollama returned %d: %s", e.code, strings.TrimSpace(e.body))
}

func (e *httpStatusError) retryable() bool { return e.code >= 500 }

// Explain asks the model to describe a detection. A reply that is not JSON is
// used verbatim as the explanation.
func (c *Client) Explain(ctx context.Context, req outbound.ExplanationRequest) (outbound.Explanation, error) {
	text, err := c.prompts.BuildExplainPrompt(prompt.ExplainInput{
		AlertType: string(req.AlertType),
		Severity:  string(req.Severity),
		Title:     req.Title,
		Evidence:  req.Evidence,
	})
	if err != nil {
		return outbound.Explanation{}, fmt.Errorf("building explain prompt: %w", err)
	}

	content, err := c.chat(ctx, c.messages(text))
	if err != nil {
		return outbound.Explanation{}, err
	}

	var r reply
	if err := decodeEmbeddedJSON(content, &r); err == nil && r.Explanation != "" {
		return outbound.Explanation{
			Explanation:    strings.TrimSpace(r.Explanation),
			Recommendation: strings.TrimSpace(r.Recommendation),
		}, nil
	}
	plain := strings.TrimSpace(content)
	if plain == "" {
		return outbound.Explanation{}, errors.New("ollama returned an empty explanation")
	}
	return outbound.Explanation{Explanation: plain}, nil
}

// HealthCheck passes when Ollama answers and the configured model is pulled.
func (c *Client) HealthCheck(ctx context.Context) error {
	body, err := c.call(ctx, http.MethodGet, tagsPath, nil)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return fmt.Errorf("decoding ollama tags: %w", err)
	}
	for _, m := range tags.Models {
		if strings.TrimSuffix(m.Name, ":latest") == strings.TrimSuffix(c.cfg.Model, ":latest") {
			return nil
		}
	}
	return fmt.Errorf("ollama model %q is not pulled", c.cfg.Model)
}

func (c *Client) messages(userPrompt string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	return append(msgs, chatMessage{Role: "user", Content: userPrompt})
}

// chat posts a non-streaming JSON-mode chat, retrying server errors and
// transport failures up to MaxRetries attempts in total.
func (c *Client) chat(ctx context.Context, msgs []chatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: msgs,
		Format:   "json",
		Options:  chatOptions{Temperature: c.cfg.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryBackoff):
			}
		}

		body, err := c.call(ctx, http.MethodPost, chatPath, payload)
		if err == nil {
			var resp chatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", fmt.Errorf("decoding ollama response: %w", err)
			}
			return resp.Message.Content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se *httpStatusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
	}
	return "", lastErr
}

// call performs one request and returns the body of a 200 reply.
func (c *Client) call(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode, body: string(data)}
	}
	return data, nil
}

// decodeEmbeddedJSON decodes the outermost {...} in content, which models
// sometimes wrap in prose or code fences.
func decodeEmbeddedJSON(content string, dst any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return errors.New("no JSON object in reply")
	}
	return json.Unmarshal([]byte(content[start:end+1]), dst)
}
