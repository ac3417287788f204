package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

func mustTables(t interface{ Fatalf(string, ...any) }) *rules.Tables {
	tables, err := rules.Load()
	if err != nil {
		t.Fatalf("load rule tables: %v", err)
	}
	return tables
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.vec == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return s.vec, nil
}

type stubGenerator struct {
	out   string
	err   error
	calls int
}

func (s *stubGenerator) Generate(context.Context, string) (string, error) {
	s.calls++
	return s.out, s.err
}

type hybridCall struct {
	query ports.HybridQuery
}

type stubIndex struct {
	mu        sync.Mutex
	scoped    []domain.SearchCandidate
	global    []domain.SearchCandidate
	searchErr error
	calls     []hybridCall

	upserts  []domain.IndexedChunk
	deletes  []string
	metadata map[string]domain.ChunkMetadata
}

func (s *stubIndex) UpsertChunk(_ context.Context, chunk domain.IndexedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, chunk)
	return nil
}

func (s *stubIndex) DeleteByRecordID(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, recordID)
	return nil
}

func (s *stubIndex) HybridSearch(_ context.Context, q ports.HybridQuery) ([]domain.SearchCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, hybridCall{query: q})
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if q.FilterCategory != "" {
		return append([]domain.SearchCandidate(nil), s.scoped...), nil
	}
	return append([]domain.SearchCandidate(nil), s.global...), nil
}

func (s *stubIndex) FetchMetadataByRecordIDs(_ context.Context, recordIDs []string) ([]domain.ChunkMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChunkMetadata, 0, len(recordIDs))
	for _, id := range recordIDs {
		if meta, ok := s.metadata[id]; ok {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (s *stubIndex) Ping(context.Context) error { return nil }

type stubCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newStubCache() *stubCache {
	return &stubCache{data: map[string]string{}}
}

func (s *stubCache) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *stubCache) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] += "x"
	return int64(len(s.data[key])), nil
}

func (s *stubCache) DeletePattern(context.Context, string) (int64, error) { return 0, nil }

func (s *stubCache) Ping(context.Context) error { return nil }

type stubResults struct {
	mu   sync.Mutex
	data map[string]domain.JobResult
}

func newStubResults() *stubResults {
	return &stubResults{data: map[string]domain.JobResult{}}
}

func (s *stubResults) SaveResult(_ context.Context, jobID string, result domain.JobResult, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[jobID] = result
	return nil
}

func (s *stubResults) GetResult(_ context.Context, jobID string) (*domain.JobResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.data[jobID]
	if !ok {
		return nil, false, nil
	}
	return &result, true, nil
}

type stubQueue struct {
	mu         sync.Mutex
	healthy    bool
	publishErr error
	published  []domain.Job
}

func (s *stubQueue) Publish(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, job)
	return nil
}

func (s *stubQueue) Next(time.Duration) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return domain.Job{}, false, nil
	}
	job := s.published[0]
	s.published = s.published[1:]
	return job, true, nil
}

func (s *stubQueue) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *stubQueue) Close() {}

type stubClassifier struct {
	info domain.ExtractedInfo
	err  error
}

func (s *stubClassifier) Classify(context.Context, string, []domain.ChatTurn) (domain.ExtractedInfo, error) {
	return s.info, s.err
}

type stubSemCache struct {
	answer string
	hit    bool
	saved  []string
}

func (s *stubSemCache) Lookup(context.Context, []float32, float64) (string, bool, error) {
	return s.answer, s.hit, nil
}

func (s *stubSemCache) Save(_ context.Context, question, _ string, _ []float32) error {
	s.saved = append(s.saved, question)
	return nil
}

type stubFeedback struct {
	mu      sync.Mutex
	queries []string
}

func (s *stubFeedback) SaveFeedback(context.Context, ports.Feedback) error { return nil }

func (s *stubFeedback) LogQuery(_ context.Context, question string, _ domain.Category, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, question)
	return nil
}

// stubSource serves a fixed page sequence per collection. A non-nil err on
// a page is returned after the records of the preceding pages.
type stubSource struct {
	pages map[string][]sourcePage
	calls int
}

type sourcePage struct {
	records []domain.SourceRecord
	err     error
}

func (s *stubSource) ListRecords(_ context.Context, collectionID, cursor string) ([]domain.SourceRecord, string, bool, error) {
	s.calls++
	pages := s.pages[collectionID]
	idx := 0
	if cursor != "" {
		idx = int(cursor[0] - '0')
	}
	if idx >= len(pages) {
		return nil, "", false, nil
	}
	page := pages[idx]
	if page.err != nil {
		return page.records, "", false, page.err
	}
	hasMore := idx+1 < len(pages)
	next := ""
	if hasMore {
		next = string(rune('0' + idx + 1))
	}
	return page.records, next, hasMore, nil
}

type stubStateStore struct {
	mu      sync.Mutex
	state   domain.SyncState
	loadErr error
	saved   int
}

func (s *stubStateStore) Load(context.Context) (domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.state == nil {
		return domain.SyncState{}, nil
	}
	copied := domain.SyncState{}
	for k, v := range s.state {
		copied[k] = v
	}
	return copied, nil
}

func (s *stubStateStore) Save(_ context.Context, state domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.saved++
	return nil
}
