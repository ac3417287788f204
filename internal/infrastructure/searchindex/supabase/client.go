// Package supabase implements the search index and the semantic answer
// cache on a Supabase Postgres instance through its PostgREST API. Hybrid
// ranking itself lives in SQL functions; this client only shapes requests
// and decodes rows.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
)

const (
	hybridSearchFn  = "hybrid_search_v3"
	semanticCacheFn = "match_chat_cache"
	semanticTable   = "chat_cache"
)

// Client implements ports.SearchIndex and ports.SemanticCache.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, apiKey, table string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      table,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type chunkRow struct {
	ID        string               `json:"id"`
	RecordID  string               `json:"page_id"`
	Content   string               `json:"content"`
	Metadata  domain.ChunkMetadata `json:"metadata"`
	Embedding []float32            `json:"embedding"`
}

// UpsertChunk writes one chunk, replacing any previous row with the same id.
func (c *Client) UpsertChunk(ctx context.Context, chunk domain.IndexedChunk) error {
	rows := []chunkRow{{
		ID:        chunk.ID,
		RecordID:  chunk.RecordID,
		Content:   chunk.Content,
		Metadata:  chunk.Metadata,
		Embedding: chunk.Embedding,
	}}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=id", c.baseURL, c.table)
	return c.execute(ctx, "supabase.upsert", func(ctx context.Context) error {
		return c.send(ctx, http.MethodPost, endpoint, rows, nil, map[string]string{
			"Prefer": "resolution=merge-duplicates",
		})
	})
}

// DeleteByRecordID removes every chunk of a record.
func (c *Client) DeleteByRecordID(ctx context.Context, recordID string) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?page_id=eq.%s", c.baseURL, c.table, url.QueryEscape(recordID))
	return c.execute(ctx, "supabase.delete", func(ctx context.Context) error {
		return c.send(ctx, http.MethodDelete, endpoint, nil, nil, nil)
	})
}

type hybridSearchRequest struct {
	QueryText      string          `json:"query_text"`
	QueryEmbedding []float32       `json:"query_embedding"`
	MatchThreshold float64         `json:"match_threshold"`
	MatchCount     int             `json:"match_count"`
	FilterCategory *string         `json:"filter_category"`
	Keywords       json.RawMessage `json:"keywords_arr"`
}

type hybridSearchRow struct {
	ID         string               `json:"id"`
	Content    string               `json:"content"`
	Metadata   domain.ChunkMetadata `json:"metadata"`
	Score      float64              `json:"score"`
	Similarity float64              `json:"similarity"`
}

// HybridSearch calls the combined vector+keyword ranking function.
func (c *Client) HybridSearch(ctx context.Context, q ports.HybridQuery) ([]domain.SearchCandidate, error) {
	req := hybridSearchRequest{
		QueryText:      q.QueryText,
		QueryEmbedding: q.QueryEmbedding,
		MatchThreshold: q.MatchThreshold,
		MatchCount:     q.MatchCount,
		Keywords:       marshalKeywords(q.Keywords),
	}
	if q.FilterCategory != "" {
		cat := string(q.FilterCategory)
		req.FilterCategory = &cat
	}

	var rows []hybridSearchRow
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, hybridSearchFn)
	err := c.execute(ctx, "supabase.hybrid_search", func(ctx context.Context) error {
		return c.send(ctx, http.MethodPost, endpoint, req, &rows, nil)
	})
	if err != nil {
		return nil, wrapSupabaseError("hybrid search", err)
	}

	out := make([]domain.SearchCandidate, 0, len(rows))
	for _, row := range rows {
		score := row.Score
		if row.Similarity > score {
			score = row.Similarity
		}
		out = append(out, domain.SearchCandidate{
			ChunkID:  row.ID,
			Content:  row.Content,
			Metadata: row.Metadata,
			Score:    score,
		})
	}
	return out, nil
}

// FetchMetadataByRecordIDs returns metadata rows in the requested id order.
func (c *Client) FetchMetadataByRecordIDs(ctx context.Context, recordIDs []string) ([]domain.ChunkMetadata, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}

	escaped := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		escaped[i] = url.QueryEscape(id)
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=page_id,metadata&page_id=in.(%s)",
		c.baseURL, c.table, strings.Join(escaped, ","))

	var rows []struct {
		RecordID string               `json:"page_id"`
		Metadata domain.ChunkMetadata `json:"metadata"`
	}
	err := c.execute(ctx, "supabase.fetch_metadata", func(ctx context.Context) error {
		return c.send(ctx, http.MethodGet, endpoint, nil, &rows, nil)
	})
	if err != nil {
		return nil, wrapSupabaseError("fetch metadata", err)
	}

	byID := make(map[string]domain.ChunkMetadata, len(rows))
	for _, row := range rows {
		if _, seen := byID[row.RecordID]; !seen {
			byID[row.RecordID] = row.Metadata
		}
	}
	out := make([]domain.ChunkMetadata, 0, len(recordIDs))
	for _, id := range recordIDs {
		if meta, ok := byID[id]; ok {
			out = append(out, meta)
		}
	}
	return out, nil
}

type semanticMatchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

// Lookup returns a cached answer for a semantically identical question.
func (c *Client) Lookup(ctx context.Context, embedding []float32, threshold float64) (string, bool, error) {
	var rows []struct {
		Answer     string  `json:"answer"`
		Similarity float64 `json:"similarity"`
	}
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, semanticCacheFn)
	req := semanticMatchRequest{QueryEmbedding: embedding, MatchThreshold: threshold, MatchCount: 1}
	err := c.execute(ctx, "supabase.semantic_lookup", func(ctx context.Context) error {
		return c.send(ctx, http.MethodPost, endpoint, req, &rows, nil)
	})
	if err != nil {
		return "", false, wrapSupabaseError("semantic lookup", err)
	}
	if len(rows) == 0 || rows[0].Answer == "" {
		return "", false, nil
	}
	return rows[0].Answer, true, nil
}

// Save stores a finished answer with its question embedding.
func (c *Client) Save(ctx context.Context, question, answer string, embedding []float32) error {
	row := map[string]any{
		"question":  question,
		"answer":    answer,
		"embedding": embedding,
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, semanticTable)
	err := c.execute(ctx, "supabase.semantic_save", func(ctx context.Context) error {
		return c.send(ctx, http.MethodPost, endpoint, []any{row}, nil, nil)
	})
	if err != nil {
		return wrapSupabaseError("semantic save", err)
	}
	return nil
}

// Ping verifies the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=id&limit=1", c.baseURL, c.table)
	var rows []struct {
		ID string `json:"id"`
	}
	return c.send(ctx, http.MethodGet, endpoint, nil, &rows, nil)
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor != nil {
		return c.executor.Execute(ctx, operation, call, classifySupabaseError)
	}
	return call(ctx)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body, out any, extraHeaders map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func marshalKeywords(keywords []string) json.RawMessage {
	if keywords == nil {
		keywords = []string{}
	}
	raw, _ := json.Marshal(keywords)
	return raw
}

// HTTPStatusError carries a non-2xx PostgREST response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if runes := []rune(body); len(runes) > 200 {
		body = string(runes[:200])
	}
	return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, body)
}

func classifySupabaseError(err error) resilience.ErrorClassification {
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
		retryable := statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapSupabaseError(operation string, err error) error {
	if classifySupabaseError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrUnavailable, operation, err)
}
