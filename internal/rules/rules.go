// Package rules holds the deterministic routing tables used by query
// expansion and hybrid retrieval: keyword-to-category mapping, title-match
// keywords, rule-based synonym injection, multilingual stop words and
// generic terms. The tables are data, not code, so they live in an embedded
// YAML file.
package rules

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

//go:embed rules.yaml
var rulesYAML []byte

type keywordCategory struct {
	Keyword  string `yaml:"keyword"`
	Category string `yaml:"category"`
}

type titleMatch struct {
	Query  string   `yaml:"query"`
	Titles []string `yaml:"titles"`
}

// ExpansionRule injects fixed domain synonyms when one of its triggers
// appears in the question. Rules sharing a non-empty Group are mutually
// exclusive in declaration order.
type ExpansionRule struct {
	Group    string   `yaml:"group"`
	Triggers []string `yaml:"triggers"`
	Keywords []string `yaml:"keywords"`
}

type tableFile struct {
	KeywordCategories []keywordCategory `yaml:"keyword_categories"`
	TitleMatch        []titleMatch      `yaml:"title_match"`
	ExpansionRules    []ExpansionRule   `yaml:"expansion_rules"`
	GenericTerms      []string          `yaml:"generic_terms"`
	ShowMoreTerms     []string          `yaml:"show_more_terms"`
	StopWords         []string          `yaml:"stop_words"`
}

// Tables is the parsed rule set.
type Tables struct {
	keywordCategories []keywordCategory
	titleMatch        []titleMatch
	expansionRules    []ExpansionRule
	genericTerms      map[string]struct{}
	showMoreTerms     []string
	stopWords         map[string]struct{}
}

// Load parses the embedded rule tables.
func Load() (*Tables, error) {
	return parse(rulesYAML)
}

func parse(raw []byte) (*Tables, error) {
	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(f.KeywordCategories) == 0 || len(f.StopWords) == 0 {
		return nil, fmt.Errorf("rules yaml missing required tables")
	}

	t := &Tables{
		keywordCategories: f.KeywordCategories,
		titleMatch:        f.TitleMatch,
		expansionRules:    f.ExpansionRules,
		genericTerms:      make(map[string]struct{}, len(f.GenericTerms)),
		showMoreTerms:     f.ShowMoreTerms,
		stopWords:         make(map[string]struct{}, len(f.StopWords)),
	}
	for _, g := range f.GenericTerms {
		t.genericTerms[g] = struct{}{}
	}
	for _, s := range f.StopWords {
		t.stopWords[strings.ToLower(s)] = struct{}{}
	}
	return t, nil
}

// DeterministicCategory maps a question to a category by fixed keyword
// lookup. Returns "" when no keyword matches. Takes priority over any
// model-inferred category.
func (t *Tables) DeterministicCategory(question string) domain.Category {
	q := strings.ToLower(question)
	for _, kc := range t.keywordCategories {
		if strings.Contains(q, kc.Keyword) {
			return domain.Category(kc.Category)
		}
	}
	return ""
}

// TitleMatches reports whether the record title carries one of the title
// keywords demanded by the query. Queries without any mapped keyword match
// every title.
func (t *Tables) TitleMatches(question, title string) bool {
	for _, tm := range t.titleMatch {
		if !strings.Contains(question, tm.Query) {
			continue
		}
		for _, tk := range tm.Titles {
			if strings.Contains(title, tk) {
				return true
			}
		}
		return false
	}
	return true
}

// RuleKeywords returns the fixed synonym set triggered by the question. This
// path must keep working when every model call fails.
func (t *Tables) RuleKeywords(question string) []string {
	q := strings.ToLower(question)
	var out []string
	matchedGroups := make(map[string]struct{})
	for _, rule := range t.expansionRules {
		if rule.Group != "" {
			if _, done := matchedGroups[rule.Group]; done {
				continue
			}
		}
		for _, trigger := range rule.Triggers {
			if strings.Contains(q, strings.ToLower(trigger)) {
				out = append(out, rule.Keywords...)
				if rule.Group != "" {
					matchedGroups[rule.Group] = struct{}{}
				}
				break
			}
		}
	}
	return out
}

// IsStopWord reports membership in the multilingual stop-word set.
func (t *Tables) IsStopWord(token string) bool {
	_, ok := t.stopWords[strings.ToLower(token)]
	return ok
}

// IsGenericTerm reports membership in the generic-term set.
func (t *Tables) IsGenericTerm(token string) bool {
	_, ok := t.genericTerms[token]
	return ok
}

// HasShowMoreTerm reports whether the input contains a literal
// "show more" trigger word.
func (t *Tables) HasShowMoreTerm(input string) bool {
	compact := strings.ReplaceAll(strings.ToLower(input), " ", "")
	for _, term := range t.showMoreTerms {
		if strings.Contains(compact, term) {
			return true
		}
	}
	return false
}
