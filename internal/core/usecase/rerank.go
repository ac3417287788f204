package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

const (
	rerankPickCount    = 3
	rerankPreviewRunes = 500
	defaultRerankTopN  = 15
)

var indexListRe = regexp.MustCompile(`\b\d+\b`)

// Reranker asks a model to pick the candidates most relevant to the
// question and moves them to the front. Strictly order-refining: it never
// drops or invents candidates, and on any model or parse failure it returns
// its input untouched.
type Reranker struct {
	generator ports.TextGenerator
	topN      int
	logger    *slog.Logger
}

func NewReranker(generator ports.TextGenerator, topN int, logger *slog.Logger) *Reranker {
	if topN <= 0 {
		topN = defaultRerankTopN
	}
	return &Reranker{generator: generator, topN: topN, logger: logger}
}

// Rerank reorders candidates by model preference. len(out) == len(in),
// always.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []domain.SearchCandidate) []domain.SearchCandidate {
	if r.generator == nil || len(candidates) < 2 {
		return candidates
	}

	window := candidates
	if len(window) > r.topN {
		window = window[:r.topN]
	}

	raw, err := r.generator.Generate(ctx, r.buildPrompt(question, window))
	if err != nil {
		r.logger.Warn("rerank_model_failed", "error", err)
		return candidates
	}

	picked := parsePickedIndices(raw, len(window))
	if len(picked) == 0 {
		return candidates
	}

	return promote(candidates, picked)
}

func (r *Reranker) buildPrompt(question string, window []domain.SearchCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "질문: %s\n\n아래 복지 정보 후보 중 질문과 가장 관련 있는 것을 최대 %d개 골라라.\n", question, rerankPickCount)
	b.WriteString("관련도 순서대로 번호만 쉼표로 구분해 출력해라. 예: 2, 0, 5\n\n")
	for i, c := range window {
		preview := c.Content
		if runes := []rune(preview); len(runes) > rerankPreviewRunes {
			preview = string(runes[:rerankPreviewRunes])
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, c.Metadata.Title, preview)
	}
	return b.String()
}

// parsePickedIndices pulls candidate indices out of free-form model output,
// dropping duplicates and out-of-range values, capped at rerankPickCount.
func parsePickedIndices(raw string, windowSize int) []int {
	matches := indexListRe.FindAllString(raw, -1)
	seen := make(map[int]struct{}, len(matches))
	var picked []int
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil || n < 0 || n >= windowSize {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		picked = append(picked, n)
		if len(picked) == rerankPickCount {
			break
		}
	}
	return picked
}

// promote moves the picked indices to the front in pick order; everything
// else follows in its original order.
func promote(candidates []domain.SearchCandidate, picked []int) []domain.SearchCandidate {
	taken := make(map[int]struct{}, len(picked))
	out := make([]domain.SearchCandidate, 0, len(candidates))
	for _, idx := range picked {
		out = append(out, candidates[idx])
		taken[idx] = struct{}{}
	}
	for i, c := range candidates {
		if _, ok := taken[i]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
