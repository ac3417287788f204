package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

type fakeChat struct {
	resp    ports.ChatResponse
	err     error
	results map[string]domain.JobResult
	lastReq ports.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeChat) Result(_ context.Context, jobID string) (domain.JobResult, bool, error) {
	result, ok := f.results[jobID]
	return result, ok, nil
}

type fakeFeedback struct {
	saved []ports.Feedback
	err   error
}

func (f *fakeFeedback) SaveFeedback(_ context.Context, fb ports.Feedback) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, fb)
	return nil
}

func (f *fakeFeedback) LogQuery(context.Context, string, domain.Category, []string) error {
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	windows map[string]int64
	deleted []string
}

func (f *fakeCache) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (f *fakeCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (f *fakeCache) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windows == nil {
		f.windows = map[string]int64{}
	}
	f.windows[key]++
	return f.windows[key], nil
}

func (f *fakeCache) DeletePattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, pattern)
	return 2, nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func newTestRouter(chat *fakeChat, feedback ports.FeedbackSink, cache ports.CacheStore) http.Handler {
	rt := NewRouter(chat, feedback, cache, nil, nil, nil, RouterConfig{
		ServiceName:     "api-test",
		AdminSecret:     "s3cret",
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	})
	return rt.Handler()
}

func TestChatEndpoint(t *testing.T) {
	chat := &fakeChat{resp: ports.ChatResponse{Status: "complete", Answer: "답변", TotalFound: 1}}
	handler := newTestRouter(chat, nil, nil)

	body := `{"question":"발달 검사 알려줘","last_result_ids":["r1"],"shown_count":2}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp ports.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "답변" {
		t.Fatalf("got %+v", resp)
	}
	if chat.lastReq.ShownCount != 2 || len(chat.lastReq.LastResultIDs) != 1 {
		t.Fatalf("pagination fields lost: %+v", chat.lastReq)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	handler := newTestRouter(&fakeChat{}, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{broken`},
		{"empty question", `{"question":"  "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /chat: status %d", rec.Code)
	}
}

func TestChatMapsDomainErrors(t *testing.T) {
	chat := &fakeChat{err: domain.WrapError(domain.ErrUnavailable, "chat", errors.New("index down"))}
	handler := newTestRouter(chat, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"question":"질문"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetResultPendingAndFound(t *testing.T) {
	chat := &fakeChat{results: map[string]domain.JobResult{
		"job-1": {Status: "complete", Answer: "done"},
	}}
	handler := newTestRouter(chat, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_result/job-1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "done") {
		t.Fatalf("found job: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_result/unknown", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pending") {
		t.Fatalf("unknown job must report pending, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_result/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing job id: status %d", rec.Code)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	feedback := &fakeFeedback{}
	handler := newTestRouter(&fakeChat{}, feedback, nil)

	body := `{"question":"질문","rating":"좋아요","comment":"도움됐어요"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(feedback.saved) != 1 || feedback.saved[0].Rating != "좋아요" {
		t.Fatalf("feedback not saved: %+v", feedback.saved)
	}

	// Rating is mandatory.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(`{"question":"질문"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing rating: status %d", rec.Code)
	}
}

func TestFeedbackUnavailableWithoutSink(t *testing.T) {
	handler := newTestRouter(&fakeChat{}, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(`{"question":"q","rating":"r"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestClearCacheRequiresSecret(t *testing.T) {
	cache := &fakeCache{}
	handler := newTestRouter(&fakeChat{}, nil, cache)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clear_cache?secret=wrong", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status %d", rec.Code)
	}
	if len(cache.deleted) != 0 {
		t.Fatalf("nothing may be deleted without auth")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clear_cache?secret=s3cret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(cache.deleted) != len(cachePatterns) {
		t.Fatalf("expected %d patterns cleared, got %v", len(cachePatterns), cache.deleted)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&fakeChat{}, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDebugReportsDependencyStatus(t *testing.T) {
	handler := newTestRouter(&fakeChat{}, &fakeFeedback{}, &fakeCache{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug", nil))

	var status map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["cache"] != "ok" || status["feedback"] != "ok" {
		t.Fatalf("got %v", status)
	}
	if status["search_index"] != "disabled" || status["embedder"] != "disabled" {
		t.Fatalf("unwired dependencies must read disabled, got %v", status)
	}
}
