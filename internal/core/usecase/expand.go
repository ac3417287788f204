package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

// QueryExpander turns a raw user question into the keyword set driving
// hybrid retrieval. It unions three sources: model-suggested keywords,
// rule-based synonym injection and the user's own significant tokens. The
// rule and token paths are deterministic, so expansion still yields usable
// keywords when every model call fails.
type QueryExpander struct {
	generator ports.TextGenerator
	tables    *rules.Tables
	logger    *slog.Logger
}

func NewQueryExpander(generator ports.TextGenerator, tables *rules.Tables, logger *slog.Logger) *QueryExpander {
	return &QueryExpander{
		generator: generator,
		tables:    tables,
		logger:    logger,
	}
}

var (
	systemDirectiveRe = regexp.MustCompile(`(?is)\(system.*?\)`)
	markdownNoiseRe   = regexp.MustCompile(`[*_\x60#>\[\]]+`)
)

// Expand produces the deduplicated keyword set for a question. Never fails:
// a model outage degrades to rule keywords plus user tokens.
func (e *QueryExpander) Expand(ctx context.Context, question string) []string {
	cleaned := systemDirectiveRe.ReplaceAllString(question, " ")
	cleaned = stripPunctuation(cleaned)

	userTokens := e.significantTokens(cleaned)
	ruleKeywords := e.tables.RuleKeywords(cleaned)
	modelKeywords := e.modelKeywords(ctx, cleaned)

	merged := dedupeStrings(concat(modelKeywords, ruleKeywords, userTokens))

	filtered := merged[:0:0]
	for _, kw := range merged {
		if e.tables.IsStopWord(kw) {
			continue
		}
		filtered = append(filtered, kw)
	}

	return suppressGeneric(filtered, e.tables)
}

func (e *QueryExpander) modelKeywords(ctx context.Context, question string) []string {
	if e.generator == nil {
		return nil
	}
	prompt := fmt.Sprintf(
		"다음 질문에서 복지 정보 검색에 쓸 핵심 검색 키워드를 한국어로 5개 이내로 뽑아라.\n"+
			"키워드만 쉼표로 구분해 출력하고 설명은 쓰지 마라.\n질문: %s", question)

	raw, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		e.logger.Warn("keyword_expansion_model_failed", "error", err)
		return nil
	}
	return parseKeywordList(raw)
}

func (e *QueryExpander) significantTokens(cleaned string) []string {
	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if e.tables.IsStopWord(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// parseKeywordList tolerates comma lists, newline lists and stray markdown.
func parseKeywordList(raw string) []string {
	raw = markdownNoiseRe.ReplaceAllString(raw, " ")
	split := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '|' || r == ';'
	})
	var out []string
	for _, part := range split {
		kw := strings.TrimSpace(part)
		kw = strings.TrimPrefix(kw, "-")
		kw = strings.TrimSpace(kw)
		if len([]rune(kw)) < 2 {
			continue
		}
		if strings.ContainsRune(kw, ':') {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// suppressGeneric drops generic filler terms, but only while at least one
// specific term remains. A keyword set made of nothing but generic terms is
// still a better query than an empty one.
func suppressGeneric(keywords []string, tables *rules.Tables) []string {
	specific := keywords[:0:0]
	for _, kw := range keywords {
		if !tables.IsGenericTerm(kw) {
			specific = append(specific, kw)
		}
	}
	if len(specific) == 0 {
		return keywords
	}
	return specific
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
