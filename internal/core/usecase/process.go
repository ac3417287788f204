package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

const statusComplete = "complete"

// ProcessorConfig tunes the answer pipeline.
type ProcessorConfig struct {
	ResultsPerPage int
	AnswerCacheTTL time.Duration
}

// Processor runs the full retrieval pipeline for one job: expand, search,
// dedupe, rerank, render. It is the single answering entry point shared by
// the queued worker and the synchronous fallback, which is what guarantees
// both delivery modes produce the same answer for the same question.
type Processor struct {
	expander *QueryExpander
	searcher *Searcher
	reranker *Reranker
	tables   *rules.Tables
	cfg      ProcessorConfig

	// Optional write-behind collaborators. All best effort.
	cache    ports.CacheStore
	semCache ports.SemanticCache
	embedder ports.Embedder
	feedback ports.FeedbackSink

	logger *slog.Logger
}

func NewProcessor(
	expander *QueryExpander,
	searcher *Searcher,
	reranker *Reranker,
	tables *rules.Tables,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = 2
	}
	return &Processor{
		expander: expander,
		searcher: searcher,
		reranker: reranker,
		tables:   tables,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithWriteBehind attaches the optional answer-cache, semantic-cache and
// query-log collaborators. Any of them may be nil.
func (p *Processor) WithWriteBehind(cache ports.CacheStore, semCache ports.SemanticCache, embedder ports.Embedder, feedback ports.FeedbackSink) *Processor {
	p.cache = cache
	p.semCache = semCache
	p.embedder = embedder
	p.feedback = feedback
	return p
}

// Process answers one job. It never returns an error: every failure mode
// degrades to a completed result carrying a user-facing message.
func (p *Processor) Process(ctx context.Context, job domain.Job) domain.JobResult {
	lang := detectLanguage(job.Question)

	keywords := p.expander.Expand(ctx, job.Question)
	keywords = appendQuestionTokens(keywords, job.Question)

	info := domain.ExtractedInfo{Category: job.Category}
	candidates := p.searcher.Search(ctx, job.Question, info, keywords)
	candidates = dedupeByRecord(candidates)

	if len(candidates) == 0 {
		p.logQuery(ctx, job.Question, job.Category, keywords)
		return domain.JobResult{
			Status:     statusComplete,
			Answer:     textFor(lang).noResults,
			TotalFound: 0,
		}
	}

	ranked := p.reranker.Rerank(ctx, job.Question, candidates)

	shown := ranked
	if len(shown) > p.cfg.ResultsPerPage {
		shown = shown[:p.cfg.ResultsPerPage]
	}
	metas := make([]domain.ChunkMetadata, 0, len(shown))
	for _, c := range shown {
		metas = append(metas, c.Metadata)
	}

	ids := make([]string, 0, len(ranked))
	for _, c := range ranked {
		ids = append(ids, recordKey(c))
	}

	result := domain.JobResult{
		Status:        statusComplete,
		Answer:        formatAnswer(lang, metas, len(ranked), len(ranked)-len(shown)),
		LastResultIDs: ids,
		TotalFound:    len(ranked),
		ShownCount:    len(shown),
	}

	p.logQuery(ctx, job.Question, job.Category, keywords)
	p.saveAnswerCaches(ctx, job.Question, result)
	return result
}

// saveAnswerCaches persists the finished answer into the exact-match and
// semantic caches. Failures are logged, never surfaced.
func (p *Processor) saveAnswerCaches(ctx context.Context, question string, result domain.JobResult) {
	if p.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := p.cache.Set(ctx, answerCacheKey(question), string(payload), p.cfg.AnswerCacheTTL); err != nil {
				p.logger.Warn("answer_cache_save_failed", "error", err)
			}
		}
	}
	if p.semCache != nil && p.embedder != nil {
		embedding, err := p.embedder.Embed(ctx, question, ports.TaskSemanticSimilarity)
		if err != nil {
			return
		}
		if err := p.semCache.Save(ctx, question, result.Answer, embedding); err != nil {
			p.logger.Warn("semantic_cache_save_failed", "error", err)
		}
	}
}

func (p *Processor) logQuery(ctx context.Context, question string, category domain.Category, keywords []string) {
	if p.feedback == nil {
		return
	}
	if err := p.feedback.LogQuery(ctx, question, category, keywords); err != nil {
		p.logger.Warn("query_log_failed", "error", err)
	}
}

// appendQuestionTokens tops up the keyword set with the question's own
// multi-rune tokens so that keyword scoring always sees the user's wording.
func appendQuestionTokens(keywords []string, question string) []string {
	present := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		present[kw] = struct{}{}
	}
	for _, tok := range strings.Fields(stripPunctuation(question)) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, ok := present[tok]; ok {
			continue
		}
		present[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// dedupeByRecord collapses multiple chunks of the same record, keeping the
// first (highest ranked) occurrence.
func dedupeByRecord(candidates []domain.SearchCandidate) []domain.SearchCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		key := recordKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// recordKey identifies the source record behind a candidate, falling back to
// URL then title for legacy chunks indexed without a record id.
func recordKey(c domain.SearchCandidate) string {
	if c.Metadata.RecordID != "" {
		return c.Metadata.RecordID
	}
	if c.Metadata.URL != "" {
		return c.Metadata.URL
	}
	return c.Metadata.Title
}

func answerCacheKey(question string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(question)))
	return "answer:" + hex.EncodeToString(sum[:])
}
