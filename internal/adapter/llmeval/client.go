// Package llmeval provides a reliability evaluator backed by an
// OpenAI-compatible chat completions endpoint, typically a LiteLLM proxy.
package llmeval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tracefact/evidenced/internal/domain/reliability"
)

const systemPrompt = `You assess the reliability of information sources.
Given a domain name, rate how reliable content published there tends to be.
Respond with a single JSON object: {"score": <0..1>, "confidence": <0..1>}.
score 1.0 means highly reliable (wire services, peer-reviewed publishers),
0.0 means unreliable. confidence reflects how well you know this source.
No prose, JSON only.`

// Client calls one model through an OpenAI-compatible chat completions API
// and parses its verdict into a reliability evaluation.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an evaluator client. name identifies the evaluator in
// logs and consensus accounting; model is the upstream model identifier.
func NewClient(name, baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the evaluator name.
func (c *Client) Name() string { return c.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Evaluate asks the model to score one domain.
func (c *Client) Evaluate(ctx context.Context, domain string) (reliability.Evaluation, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: domain},
		},
		Temperature: 0,
	})
	if err != nil {
		return reliability.Evaluation{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return reliability.Evaluation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reliability.Evaluation{}, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reliability.Evaluation{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return reliability.Evaluation{}, fmt.Errorf("evaluator API error %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return reliability.Evaluation{}, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return reliability.Evaluation{}, fmt.Errorf("evaluator returned no choices")
	}

	return parseVerdict(parsed.Choices[0].Message.Content)
}

// parseVerdict extracts the JSON verdict from a model reply, tolerating
// markdown code fences around the object.
func parseVerdict(content string) (reliability.Evaluation, error) {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}

	var verdict struct {
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s), &verdict); err != nil {
		return reliability.Evaluation{}, fmt.Errorf("parse verdict %q: %w", content, err)
	}
	if verdict.Score < 0 || verdict.Score > 1 || verdict.Confidence < 0 || verdict.Confidence > 1 {
		return reliability.Evaluation{}, fmt.Errorf("verdict out of range: score=%v confidence=%v",
			verdict.Score, verdict.Confidence)
	}
	return reliability.Evaluation{Score: verdict.Score, Confidence: verdict.Confidence}, nil
}
