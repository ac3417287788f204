package httpadapter

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/observability/metrics"
)

// RouterConfig carries the knobs the HTTP layer needs.
type RouterConfig struct {
	ServiceName     string
	AdminSecret     string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

type Router struct {
	chat     ports.ChatService
	feedback ports.FeedbackSink // nil when feedback is not configured
	cache    ports.CacheStore   // nil when the cache is down
	index    ports.SearchIndex
	embedder ports.Embedder
	metrics  *metrics.HTTPServerMetrics
	cfg      RouterConfig
}

func NewRouter(
	chat ports.ChatService,
	feedback ports.FeedbackSink,
	cache ports.CacheStore,
	index ports.SearchIndex,
	embedder ports.Embedder,
	m *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	return &Router{
		chat:     chat,
		feedback: feedback,
		cache:    cache,
		index:    index,
		embedder: embedder,
		metrics:  m,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/debug", rt.debug)
	mux.HandleFunc("/chat", rt.handleChat)
	mux.HandleFunc("/get_result/", rt.getResult)
	mux.HandleFunc("/feedback", rt.handleFeedback)
	mux.HandleFunc("/admin/clear_cache", rt.clearCache)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	limiter := newRateLimiter(rt.cache, rt.cfg.RateLimitMax, rt.cfg.RateLimitWindow, rt.onRateLimited)

	var handler http.Handler = mux
	handler = limiter.middleware(handler)
	handler = accessLogMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(rt.cfg.ServiceName)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// debug reports per-dependency health so operators can tell which feature
// degraded when answers look off.
func (rt *Router) debug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	status := map[string]string{}
	if rt.cache != nil {
		status["cache"] = dependencyStatus(rt.cache.Ping(r.Context()))
	} else {
		status["cache"] = "disabled"
	}
	if rt.index != nil {
		status["search_index"] = dependencyStatus(rt.index.Ping(r.Context()))
	} else {
		status["search_index"] = "disabled"
	}
	if rt.embedder != nil {
		_, err := rt.embedder.Embed(r.Context(), "상태 확인", ports.TaskSemanticSimilarity)
		status["embedder"] = dependencyStatus(err)
	} else {
		status["embedder"] = "disabled"
	}
	if rt.feedback == nil {
		status["feedback"] = "disabled"
	} else {
		status["feedback"] = "ok"
	}

	writeJSON(w, http.StatusOK, status)
}

func dependencyStatus(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

type chatRequest struct {
	Question      string            `json:"question"`
	LastResultIDs []string          `json:"last_result_ids"`
	ShownCount    int               `json:"shown_count"`
	ChatHistory   []domain.ChatTurn `json:"chat_history"`
}

func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	resp, err := rt.chat.Chat(r.Context(), ports.ChatRequest{
		Question:      req.Question,
		LastResultIDs: req.LastResultIDs,
		ShownCount:    req.ShownCount,
		ChatHistory:   req.ChatHistory,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		outcome := "sync"
		if resp.JobID != "" {
			outcome = "queued"
		}
		rt.metrics.RecordChat(rt.cfg.ServiceName, outcome, time.Since(start))
		if resp.Status == "complete" {
			rt.metrics.RecordFoundRecords(rt.cfg.ServiceName, resp.TotalFound)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) getResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/get_result/")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	result, found, err := rt.chat.Result(r.Context(), jobID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type feedbackRequest struct {
	JobID       string `json:"job_id"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Rating      string `json:"rating"`
	Reason      string `json:"reason"`
	Comment     string `json:"comment"`
	ChatHistory string `json:"chat_history"`
}

func (rt *Router) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "feedback is not configured"})
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Rating) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question and rating are required"})
		return
	}

	err := rt.feedback.SaveFeedback(r.Context(), ports.Feedback{
		JobID:       req.JobID,
		Question:    req.Question,
		Answer:      req.Answer,
		Rating:      req.Rating,
		Reason:      req.Reason,
		Comment:     req.Comment,
		ChatHistory: req.ChatHistory,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// cachePatterns are the key families the admin endpoint clears: classifier
// results, answer caches and stored job results.
var cachePatterns = []string{"extract:*", "answer:*", "result:*", "ratelimit:*"}

func (rt *Router) clearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.cfg.AdminSecret == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "admin endpoint is not configured"})
		return
	}
	secret := r.URL.Query().Get("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(rt.cfg.AdminSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		return
	}
	if rt.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "cache is not available"})
		return
	}

	var total int64
	for _, pattern := range cachePatterns {
		n, err := rt.cache.DeletePattern(r.Context(), pattern)
		total += n
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]any{
				"error":   err.Error(),
				"deleted": total,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": total})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
