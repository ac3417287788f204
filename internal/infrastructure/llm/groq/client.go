package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Client talks to the Groq OpenAI-compatible chat completions API. One
// Client is bound to one model; the fast and backup models are two Clients
// sharing a key.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	BaseURL            string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(apiKey, model string, options Options) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Generate produces text for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	call := func(ctx context.Context) error {
		body := chatRequest{
			Model:       c.model,
			Messages:    []message{{Role: "user", Content: prompt}},
			Temperature: 0.2,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("groq request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
		}

		var decoded chatResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(decoded.Choices) == 0 {
			return fmt.Errorf("groq: empty choices for model %s", c.model)
		}
		out = decoded.Choices[0].Message.Content
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "groq.generate", call, classifyGroqError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapGroqError(err)
	}
	return out, nil
}

// HTTPStatusError carries a non-200 provider response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if runes := []rune(body); len(runes) > 200 {
		body = string(runes[:200])
	}
	return fmt.Sprintf("groq: status %d: %s", e.StatusCode, body)
}

func classifyGroqError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: false}
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapGroqError(err error) error {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return domain.WrapError(domain.ErrQuota, "groq generate", err)
	}
	if classifyGroqError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "groq generate", err)
	}
	return domain.WrapError(domain.ErrUnavailable, "groq generate", err)
}
