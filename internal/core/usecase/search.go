package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

// SearchConfig tunes the two-pass hybrid retrieval.
type SearchConfig struct {
	ScopedThreshold  float64
	ScopedCount      int
	GlobalThreshold  float64
	GlobalCount      int
	MinScopedResults int
}

// Searcher runs two-pass hybrid retrieval: a category-scoped pass with a
// stricter threshold, then a global looser pass when the scoped pass came up
// thin. Retrieval never returns an error to its caller; any failure narrows
// the candidate set instead of killing the request.
type Searcher struct {
	embedder ports.Embedder
	index    ports.SearchIndex
	tables   *rules.Tables
	cfg      SearchConfig
	logger   *slog.Logger
}

func NewSearcher(embedder ports.Embedder, index ports.SearchIndex, tables *rules.Tables, cfg SearchConfig, logger *slog.Logger) *Searcher {
	return &Searcher{
		embedder: embedder,
		index:    index,
		tables:   tables,
		cfg:      cfg,
		logger:   logger,
	}
}

// Search returns ranked candidates for the question. Empty on total failure,
// never an error.
func (s *Searcher) Search(ctx context.Context, question string, info domain.ExtractedInfo, keywords []string) []domain.SearchCandidate {
	queryText := strings.Join(keywords, " ")
	if strings.TrimSpace(queryText) == "" {
		queryText = question
	}

	embedding, err := s.embedder.Embed(ctx, queryText, ports.TaskSemanticSimilarity)
	if err != nil {
		s.logger.Error("query_embedding_failed", "error", err)
		return nil
	}

	category := s.tables.DeterministicCategory(question)
	if category == "" {
		category = info.Category
	}

	var results []domain.SearchCandidate
	if category != "" {
		scoped, err := s.index.HybridSearch(ctx, ports.HybridQuery{
			QueryText:      queryText,
			QueryEmbedding: embedding,
			MatchThreshold: s.cfg.ScopedThreshold,
			MatchCount:     s.cfg.ScopedCount,
			FilterCategory: category,
			Keywords:       keywords,
		})
		if err != nil {
			s.logger.Warn("scoped_search_failed", "category", category, "error", err)
		}
		for i := range scoped {
			scoped[i].Stage = domain.StageCategory
		}
		results = scoped
	}

	if category == "" || len(results) < s.cfg.MinScopedResults {
		global, err := s.index.HybridSearch(ctx, ports.HybridQuery{
			QueryText:      queryText,
			QueryEmbedding: embedding,
			MatchThreshold: s.cfg.GlobalThreshold,
			MatchCount:     s.cfg.GlobalCount,
			Keywords:       keywords,
		})
		if err != nil {
			s.logger.Warn("global_search_failed", "error", err)
		}
		for i := range global {
			global[i].Stage = domain.StageGlobal
		}
		results = mergeCandidates(results, global)
	}

	results = filterByAge(results, info.AgeMonths)
	results = reorderByTitle(results, question, s.tables)
	return results
}

// mergeCandidates appends extras not already present, keyed by chunk id.
// Scoped results keep their position ahead of global ones.
func mergeCandidates(base, extra []domain.SearchCandidate) []domain.SearchCandidate {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c.ChunkID] = struct{}{}
	}
	for _, c := range extra {
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		base = append(base, c)
	}
	return base
}

// filterByAge keeps candidates whose age range covers ageMonths. Records
// without a range always pass, and the filter discards itself rather than
// empty the result set.
func filterByAge(candidates []domain.SearchCandidate, ageMonths *int) []domain.SearchCandidate {
	if ageMonths == nil || len(candidates) == 0 {
		return candidates
	}
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if c.Metadata.ContainsAge(*ageMonths) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return candidates
	}
	return filtered
}

// reorderByTitle stably partitions candidates so that records whose title
// carries a keyword demanded by the query come first. Relative order inside
// each partition is untouched.
func reorderByTitle(candidates []domain.SearchCandidate, question string, tables *rules.Tables) []domain.SearchCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		mi := tables.TitleMatches(question, candidates[i].Metadata.Title)
		mj := tables.TitleMatches(question, candidates[j].Metadata.Title)
		return mi && !mj
	})
	return candidates
}
