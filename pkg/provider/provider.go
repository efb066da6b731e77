package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"intelligrade/pkg/grading"
	"intelligrade/pkg/observability"
)

// Sentinel errors for the failure modes the pipeline has to classify.
var (
	ErrRateLimited       = errors.New("provider rate limited")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Client invokes the external model endpoint at a given tier.
type Client interface {
	Complete(ctx context.Context, tier grading.Tier, prompt string) (string, error)
	Model(tier grading.Tier) string
}

// HTTPClient talks to a chat-completion style endpoint. The model name sent
// with each request selects the tier.
type HTTPClient struct {
	baseURL string
	apiKey  string
	models  map[grading.Tier]string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, models map[grading.Tier]string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Model(tier grading.Tier) string {
	return c.models[tier]
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
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

// Complete sends the prompt to the model configured for tier and returns the
// raw completion text. Transport, rate-limit and malformed-response failures
// map onto the package sentinel errors so callers can branch with errors.Is.
func (c *HTTPClient) Complete(ctx context.Context, tier grading.Tier, prompt string) (string, error) {
	model := c.models[tier]
	if model == "" {
		return "", fmt.Errorf("no model configured for tier %q", tier)
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ProviderDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderCalls.WithLabelValues(string(tier), "transport_error").Inc()
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.ProviderCalls.WithLabelValues(string(tier), "rate_limited").Inc()
		return "", fmt.Errorf("%w: model %s", ErrRateLimited, model)
	case resp.StatusCode >= 500:
		observability.ProviderCalls.WithLabelValues(string(tier), "unavailable").Inc()
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		observability.ProviderCalls.WithLabelValues(string(tier), "error").Inc()
		return "", fmt.Errorf("provider returned status %d for model %s", resp.StatusCode, model)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.ProviderCalls.WithLabelValues(string(tier), "transport_error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		observability.ProviderCalls.WithLabelValues(string(tier), "malformed").Inc()
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		observability.ProviderCalls.WithLabelValues(string(tier), "malformed").Inc()
		return "", fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}

	observability.ProviderCalls.WithLabelValues(string(tier), "ok").Inc()
	return out.Choices[0].Message.Content, nil
}

// Classify maps an error onto a short label for failure records and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// IsTransient reports whether the failure is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}
