package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

// DispatchConfig tunes the chat dispatch layer.
type DispatchConfig struct {
	ForceSync             bool
	ResultsPerPage        int
	SemanticThreshold     float64
	FallbackMaxConcurrent int
}

// Dispatcher is the chat front door. It short-circuits special intents,
// pagination and cache hits, then hands real questions either to the job
// queue or to the in-process fallback. The broker is probed per request, so
// a broker outage flips requests to the fallback without a restart and a
// recovery flips them back.
type Dispatcher struct {
	classifier ports.IntentClassifier
	processor  ports.JobProcessor
	queue      ports.JobQueue
	cache      ports.CacheStore
	results    ports.ResultStore
	semCache   ports.SemanticCache
	embedder   ports.Embedder
	index      ports.SearchIndex
	tables     *rules.Tables
	cfg        DispatchConfig
	sem        chan struct{}
	logger     *slog.Logger
}

func NewDispatcher(
	classifier ports.IntentClassifier,
	processor ports.JobProcessor,
	queue ports.JobQueue,
	cache ports.CacheStore,
	results ports.ResultStore,
	semCache ports.SemanticCache,
	embedder ports.Embedder,
	index ports.SearchIndex,
	tables *rules.Tables,
	cfg DispatchConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = 2
	}
	if cfg.FallbackMaxConcurrent <= 0 {
		cfg.FallbackMaxConcurrent = 4
	}
	return &Dispatcher{
		classifier: classifier,
		processor:  processor,
		queue:      queue,
		cache:      cache,
		results:    results,
		semCache:   semCache,
		embedder:   embedder,
		index:      index,
		tables:     tables,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.FallbackMaxConcurrent),
		logger:     logger,
	}
}

const queuedMessage = "답변을 준비하고 있어요. 잠시만 기다려 주세요. ⏳"

var errEmptyQuestion = errors.New("question is empty")

var intentAnswers = map[domain.Intent]string{
	domain.IntentSafetyBlock: "의료적으로 위급한 상황이라면 지금 바로 119 또는 가까운 응급실에 연락해 주세요. 저는 복지 정보 안내만 도와드릴 수 있어요.",
	domain.IntentExit:        "이용해 주셔서 감사합니다. 궁금한 점이 생기면 언제든 다시 찾아 주세요. 😊",
	domain.IntentReset:       "처음부터 다시 시작할게요. 어떤 복지 정보가 궁금하신가요?",
	domain.IntentOutOfScope:  "죄송해요, 저는 도봉구의 양육·복지 지원 정보에 대해서만 안내해 드릴 수 있어요.",
	domain.IntentSmallTalk:   "안녕하세요! 도봉구 복지 정보 안내 챗봇이에요. 궁금한 지원 제도를 물어봐 주세요. 😊",
}

// Chat handles one incoming question end to end.
func (d *Dispatcher) Chat(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return ports.ChatResponse{}, domain.WrapError(domain.ErrInvalidInput, "chat", errEmptyQuestion)
	}

	info := d.classify(ctx, question, req.ChatHistory)

	if d.isShowMore(question, info) && len(req.LastResultIDs) > 0 {
		return d.showMore(ctx, question, req)
	}

	if answer, ok := intentAnswers[info.Intent]; ok {
		return ports.ChatResponse{Status: statusComplete, Answer: answer}, nil
	}
	if info.Intent == domain.IntentClarifyCategory {
		return ports.ChatResponse{
			Status:  statusComplete,
			Answer:  "어떤 분야의 지원이 궁금하신가요? 아래에서 골라 주세요.",
			Options: categoryOptions(),
		}, nil
	}

	if resp, ok := d.cachedAnswer(ctx, question); ok {
		return resp, nil
	}
	if resp, ok := d.semanticAnswer(ctx, question); ok {
		return resp, nil
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		Question:    question,
		ChatHistory: req.ChatHistory,
		Category:    info.Category,
		CreatedAt:   time.Now().UTC(),
	}

	if d.queueUsable() {
		err := d.queue.Publish(ctx, job)
		if err == nil {
			return ports.ChatResponse{Status: "queued", JobID: job.ID, Message: queuedMessage}, nil
		}
		d.logger.Warn("job_publish_failed_falling_back", "job_id", job.ID, "error", err)
	}

	return d.processSync(ctx, job)
}

// Result looks up a finished job. ok=false means still pending or expired.
func (d *Dispatcher) Result(ctx context.Context, jobID string) (domain.JobResult, bool, error) {
	if d.results == nil {
		return domain.JobResult{}, false, nil
	}
	result, ok, err := d.results.GetResult(ctx, jobID)
	if err != nil || !ok {
		return domain.JobResult{}, false, err
	}
	return *result, true, nil
}

func (d *Dispatcher) classify(ctx context.Context, question string, history []domain.ChatTurn) domain.ExtractedInfo {
	if d.classifier == nil {
		return domain.ExtractedInfo{}
	}
	info, err := d.classifier.Classify(ctx, question, history)
	if err != nil {
		d.logger.Warn("intent_classification_failed", "error", err)
		return domain.ExtractedInfo{}
	}
	return info
}

func (d *Dispatcher) isShowMore(question string, info domain.ExtractedInfo) bool {
	return info.Intent == domain.IntentShowMore || d.tables.HasShowMoreTerm(question)
}

// showMore pages through the previous result set without re-running the
// pipeline.
func (d *Dispatcher) showMore(ctx context.Context, question string, req ports.ChatRequest) (ports.ChatResponse, error) {
	lang := detectLanguage(question)
	ids := req.LastResultIDs
	start := req.ShownCount
	if start < 0 {
		start = 0
	}
	if start >= len(ids) {
		return ports.ChatResponse{
			Status:        statusComplete,
			Answer:        textFor(lang).noMore,
			LastResultIDs: ids,
			TotalFound:    len(ids),
			ShownCount:    len(ids),
		}, nil
	}

	end := start + d.cfg.ResultsPerPage
	if end > len(ids) {
		end = len(ids)
	}

	metas, err := d.index.FetchMetadataByRecordIDs(ctx, ids[start:end])
	if err != nil {
		return ports.ChatResponse{}, domain.WrapError(domain.ErrUnavailable, "show more", err)
	}

	return ports.ChatResponse{
		Status:        statusComplete,
		Answer:        formatAnswer(lang, metas, len(ids), len(ids)-end),
		LastResultIDs: ids,
		TotalFound:    len(ids),
		ShownCount:    end,
	}, nil
}

func (d *Dispatcher) cachedAnswer(ctx context.Context, question string) (ports.ChatResponse, bool) {
	if d.cache == nil {
		return ports.ChatResponse{}, false
	}
	raw, ok, err := d.cache.Get(ctx, answerCacheKey(question))
	if err != nil || !ok {
		return ports.ChatResponse{}, false
	}
	var result domain.JobResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return ports.ChatResponse{}, false
	}
	return resultResponse(result), true
}

func (d *Dispatcher) semanticAnswer(ctx context.Context, question string) (ports.ChatResponse, bool) {
	if d.semCache == nil || d.embedder == nil {
		return ports.ChatResponse{}, false
	}
	embedding, err := d.embedder.Embed(ctx, question, ports.TaskSemanticSimilarity)
	if err != nil {
		return ports.ChatResponse{}, false
	}
	answer, ok, err := d.semCache.Lookup(ctx, embedding, d.cfg.SemanticThreshold)
	if err != nil || !ok {
		return ports.ChatResponse{}, false
	}
	return ports.ChatResponse{Status: statusComplete, Answer: answer}, true
}

// queueUsable is the per-request broker probe deciding the delivery mode.
func (d *Dispatcher) queueUsable() bool {
	return !d.cfg.ForceSync && d.queue != nil && d.queue.Healthy()
}

// processSync answers in-process under a concurrency cap.
func (d *Dispatcher) processSync(ctx context.Context, job domain.Job) (ports.ChatResponse, error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return ports.ChatResponse{}, ctx.Err()
	}

	result := d.processor.Process(ctx, job)
	return resultResponse(result), nil
}

func resultResponse(result domain.JobResult) ports.ChatResponse {
	return ports.ChatResponse{
		Status:        result.Status,
		Answer:        result.Answer,
		LastResultIDs: result.LastResultIDs,
		TotalFound:    result.TotalFound,
		ShownCount:    result.ShownCount,
	}
}

func categoryOptions() []string {
	cats := domain.Categories()
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
