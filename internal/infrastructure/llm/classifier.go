package llm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

// Classifier reads intent and demographic signals out of a question with a
// single model call. Classification is advisory: any model or parse failure
// maps to a zero ExtractedInfo so the pipeline just answers the question
// without special handling.
type Classifier struct {
	generator ports.TextGenerator
	cache     ports.CacheStore // optional
	cacheTTL  time.Duration
	logger    *slog.Logger
}

func NewClassifier(generator ports.TextGenerator, cache ports.CacheStore, cacheTTL time.Duration, logger *slog.Logger) *Classifier {
	return &Classifier{
		generator: generator,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

const classifyPromptTemplate = `너는 복지 챗봇의 질문 분류기다. 사용자 질문을 분석해 JSON 하나만 출력해라.

형식:
{"intent": "", "category": "", "sub_category": "", "age": null, "keywords": []}

intent는 다음 중 하나거나 빈 문자열이다:
show_more(이전 결과 더 보기), safety_block(의료 응급/위험 상황), exit(대화 종료),
reset(대화 초기화), out_of_scope(복지와 무관), small_talk(인사/잡담),
clarify_category(너무 모호해서 분야를 물어야 함)

category는 다음 중 하나거나 빈 문자열이다: %s
age는 아이 나이를 개월 수 숫자로, 없으면 null.
keywords는 검색에 쓸 핵심 단어 최대 5개.

질문: %s`

// Classify extracts intent, category, age and keywords from the question.
func (c *Classifier) Classify(ctx context.Context, question string, history []domain.ChatTurn) (domain.ExtractedInfo, error) {
	if c.generator == nil {
		return domain.ExtractedInfo{}, nil
	}

	cacheable := len(history) == 0 && c.cache != nil
	key := classifyCacheKey(question)
	if cacheable {
		if raw, ok, _ := c.cache.Get(ctx, key); ok {
			var cached domain.ExtractedInfo
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	prompt := fmt.Sprintf(classifyPromptTemplate, joinCategories(), question)
	if len(history) > 0 {
		prompt += "\n\n이전 대화:\n" + renderHistory(history)
	}

	raw, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("classify_model_failed", "error", err)
		return domain.ExtractedInfo{}, nil
	}

	info := parseExtractedInfo(raw)
	if cacheable {
		if payload, err := json.Marshal(info); err == nil {
			if err := c.cache.Set(ctx, key, string(payload), c.cacheTTL); err != nil {
				c.logger.Warn("classify_cache_save_failed", "error", err)
			}
		}
	}
	return info, nil
}

// parseExtractedInfo tolerates markdown fences, stray prose around the JSON
// object and string-typed nulls.
func parseExtractedInfo(raw string) domain.ExtractedInfo {
	obj := extractJSONObject(raw)
	if obj == "" {
		return domain.ExtractedInfo{}
	}

	var decoded struct {
		Intent      string   `json:"intent"`
		Category    string   `json:"category"`
		SubCategory string   `json:"sub_category"`
		Age         any      `json:"age"`
		Keywords    []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return domain.ExtractedInfo{}
	}

	info := domain.ExtractedInfo{
		Intent:      domain.Intent(normalizeField(decoded.Intent)),
		SubCategory: normalizeField(decoded.SubCategory),
		Keywords:    decoded.Keywords,
	}
	if cat := normalizeField(decoded.Category); cat != "" && validCategory(cat) {
		info.Category = domain.Category(cat)
	}
	if age, ok := parseAge(decoded.Age); ok {
		info.AgeMonths = &age
	}
	return info
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func normalizeField(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "null", "none", "n/a":
		return ""
	}
	return v
}

func parseAge(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0, false
		}
		return int(t), true
	case string:
		s := normalizeField(t)
		if s == "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func validCategory(cat string) bool {
	for _, c := range domain.Categories() {
		if string(c) == cat {
			return true
		}
	}
	return false
}

func joinCategories() string {
	cats := domain.Categories()
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func renderHistory(history []domain.ChatTurn) string {
	const maxTurns = 6
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

func classifyCacheKey(question string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(question)))
	return "extract:" + hex.EncodeToString(sum[:])
}
