package rules

import (
	"testing"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

func load(t *testing.T) *Tables {
	t.Helper()
	tables, err := Load()
	if err != nil {
		t.Fatalf("load embedded tables: %v", err)
	}
	return tables
}

func TestDeterministicCategoryFirstMatchWins(t *testing.T) {
	tables := load(t)
	cases := []struct {
		question string
		want     domain.Category
	}{
		{"발달 검사는 어디서 받나요", domain.CategoryMedical},
		{"언어치료 바우처 알려줘", domain.CategoryMedical},
		// 검사 is listed before 수당, so the medical mapping wins.
		{"검사 수당이 있나요", domain.CategoryMedical},
		{"아동수당 신청 방법", domain.CategoryLiving},
		{"어린이집 시간제 보육", domain.CategoryCare},
		{"특수교육 입학 상담", domain.CategoryEducation},
		{"부모 상담 프로그램", domain.CategoryFamily},
		{"날씨가 좋네요", ""},
	}
	for _, tc := range cases {
		if got := tables.DeterministicCategory(tc.question); got != tc.want {
			t.Errorf("%q: got %q, want %q", tc.question, got, tc.want)
		}
	}
}

func TestTitleMatches(t *testing.T) {
	tables := load(t)
	cases := []struct {
		question string
		title    string
		want     bool
	}{
		{"발달 검사 받고 싶어요", "영유아 발달 선별 검사", true},
		{"발달 검사 받고 싶어요", "아동수당 안내", false},
		{"치료 지원 있나요", "발달재활 바우처", true},
		{"수당 알려줘", "양육수당 지급", true},
		// No mapped query keyword: every title matches.
		{"기저귀 지원", "아무 제목", true},
	}
	for _, tc := range cases {
		if got := tables.TitleMatches(tc.question, tc.title); got != tc.want {
			t.Errorf("q=%q title=%q: got %v, want %v", tc.question, tc.title, got, tc.want)
		}
	}
}

func TestRuleKeywordsGroupExclusivity(t *testing.T) {
	tables := load(t)

	got := tables.RuleKeywords("양육수당 받을 수 있나요")
	want := map[string]bool{"양육수당": true, "가정양육": true}
	for _, kw := range got {
		if kw == "부모급여" || kw == "아동수당" {
			t.Fatalf("generic allowance rule must be suppressed by the specific hit, got %v", got)
		}
	}
	for kw := range want {
		if !contains(got, kw) {
			t.Errorf("missing keyword %q in %v", kw, got)
		}
	}

	// Bare 수당 falls through to the generic allowance rule.
	got = tables.RuleKeywords("수당 종류 알려줘")
	for _, kw := range []string{"양육수당", "부모급여", "아동수당"} {
		if !contains(got, kw) {
			t.Errorf("generic rule must inject %q, got %v", kw, got)
		}
	}
}

func TestRuleKeywordsUngroupedRulesStack(t *testing.T) {
	tables := load(t)

	got := tables.RuleKeywords("발달 검사 예약")
	for _, kw := range []string{"검사", "진단", "선별", "발달", "영유아"} {
		if !contains(got, kw) {
			t.Errorf("missing keyword %q in %v", kw, got)
		}
	}
}

func TestStopAndGenericTerms(t *testing.T) {
	tables := load(t)

	if !tables.IsStopWord("알려줘") || !tables.IsStopWord("PLEASE") {
		t.Fatalf("stop-word lookup must be case insensitive")
	}
	if tables.IsStopWord("바우처") {
		t.Fatalf("domain terms are not stop words")
	}
	if !tables.IsGenericTerm("지원") || tables.IsGenericTerm("언어치료") {
		t.Fatalf("generic-term set mismatch")
	}
}

func TestHasShowMoreTermIgnoresSpacing(t *testing.T) {
	tables := load(t)
	cases := []struct {
		input string
		want  bool
	}{
		{"더 보여줘", true},
		{"다 음", true},
		{"show me MORE", true},
		{"바우처 신청", false},
	}
	for _, tc := range cases {
		if got := tables.HasShowMoreTerm(tc.input); got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseRejectsEmptyTables(t *testing.T) {
	if _, err := parse([]byte("stop_words: [a]")); err == nil {
		t.Fatalf("missing keyword table must fail")
	}
	if _, err := parse([]byte("{invalid")); err == nil {
		t.Fatalf("malformed yaml must fail")
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
