package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// KeyPool rotates through a bounded set of API keys. Rotation advances one
// slot per quota failure, so a pool of n keys survives n-1 exhausted keys
// without growing any state beyond an index.
type KeyPool struct {
	mu    sync.Mutex
	keys  []string
	index int
}

func NewKeyPool(keys []string) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("gemini: key pool needs at least one key")
	}
	return &KeyPool{keys: keys}, nil
}

// Current returns the active key.
func (p *KeyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.index]
}

// Rotate advances to the next key and returns it.
func (p *KeyPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = (p.index + 1) % len(p.keys)
	return p.keys[p.index]
}

// Size returns the number of keys in the pool.
func (p *KeyPool) Size() int {
	return len(p.keys)
}

// Client talks to the Gemini REST API for generation and embeddings.
type Client struct {
	baseURL    string
	pool       *KeyPool
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	BaseURL            string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(pool *KeyPool, genModel, embedModel string, options Options) *Client {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pool:       pool,
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type embedRequest struct {
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Generate produces text for a prompt. A quota failure rotates the key pool
// before the retry policy fires again.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	call := func(ctx context.Context) error {
		url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.genModel, c.pool.Current())
		body := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}

		var resp generateResponse
		if err := c.post(ctx, url, body, &resp); err != nil {
			c.rotateOnQuota(err)
			return err
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return fmt.Errorf("gemini: empty candidates for model %s", c.genModel)
		}
		out = resp.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := c.execute(ctx, "gemini.generate", call); err != nil {
		return "", wrapGeminiError("gemini generate", err)
	}
	return out, nil
}

// Embed builds a vector for the text with the given task type.
func (c *Client) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var out []float32
	call := func(ctx context.Context) error {
		url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.baseURL, c.embedModel, c.pool.Current())
		body := embedRequest{Content: content{Parts: []part{{Text: text}}}, TaskType: taskType}

		var resp embedResponse
		if err := c.post(ctx, url, body, &resp); err != nil {
			c.rotateOnQuota(err)
			return err
		}
		if len(resp.Embedding.Values) == 0 {
			return fmt.Errorf("gemini: empty embedding for model %s", c.embedModel)
		}
		out = resp.Embedding.Values
		return nil
	}

	if err := c.execute(ctx, "gemini.embed", call); err != nil {
		return nil, wrapGeminiError("gemini embed", err)
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor != nil {
		return c.executor.Execute(ctx, operation, call, classifyGeminiError)
	}
	return call(ctx)
}

func (c *Client) rotateOnQuota(err error) {
	if isQuotaError(err) && c.pool.Size() > 1 {
		c.pool.Rotate()
	}
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
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
	return fmt.Sprintf("gemini: status %d: %s", e.StatusCode, body)
}

func wrapGeminiError(operation string, err error) error {
	switch {
	case isQuotaError(err):
		return domain.WrapError(domain.ErrQuota, operation, err)
	case classifyGeminiError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return domain.WrapError(domain.ErrUnavailable, operation, err)
	}
}
