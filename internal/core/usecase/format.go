package usecase

import (
	"fmt"
	"strings"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

// uiText is the per-language wrapper around result cards. Only the header
// and footer are localized; card bodies stay in the source language.
type uiText struct {
	header    string // fmt: total found
	footer    string
	more      string // fmt: remaining count
	noResults string
	noMore    string
}

var uiTexts = map[string]uiText{
	"ko": {
		header:    "관련 복지 정보 %d건을 찾았어요. 😊",
		footer:    "더 자세한 내용은 링크를 확인해 주세요.",
		more:      "이 외에도 %d건이 더 있어요. \"더 보여줘\"라고 말씀해 주세요.",
		noResults: "관련 정보를 찾지 못했습니다. 😥",
		noMore:    "더 보여드릴 정보가 없어요.",
	},
	"en": {
		header:    "I found %d related welfare programs. 😊",
		footer:    "Please check the links for details.",
		more:      "There are %d more. Say \"show more\" to see them.",
		noResults: "I could not find any related information. 😥",
		noMore:    "There is no more information to show.",
	},
	"vi": {
		header:    "Tôi đã tìm thấy %d chương trình phúc lợi liên quan. 😊",
		footer:    "Vui lòng xem liên kết để biết chi tiết.",
		more:      "Còn %d chương trình nữa. Hãy nói \"xem thêm\".",
		noResults: "Tôi không tìm thấy thông tin liên quan. 😥",
		noMore:    "Không còn thông tin để hiển thị.",
	},
	"zh": {
		header:    "找到了%d条相关福利信息。😊",
		footer:    "详细内容请查看链接。",
		more:      "还有%d条信息。请说\"再看更多\"。",
		noResults: "没有找到相关信息。😥",
		noMore:    "没有更多信息了。",
	},
}

// detectLanguage reads the response-language directive the client appends to
// the question. Korean is the default.
func detectLanguage(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "strictly in english"):
		return "en"
	case strings.Contains(q, "strictly in vietnamese"):
		return "vi"
	case strings.Contains(q, "strictly in chinese"):
		return "zh"
	default:
		return "ko"
	}
}

func textFor(lang string) uiText {
	if t, ok := uiTexts[lang]; ok {
		return t
	}
	return uiTexts["ko"]
}

// formatAnswer renders the shown records plus localized header and footer.
// remaining is the count of matches not shown on this page.
func formatAnswer(lang string, shown []domain.ChunkMetadata, total, remaining int) string {
	t := textFor(lang)
	var b strings.Builder
	fmt.Fprintf(&b, t.header, total)
	b.WriteString("\n\n")
	b.WriteString(renderCards(shown))
	if remaining > 0 {
		fmt.Fprintf(&b, t.more, remaining)
		b.WriteString("\n")
	}
	b.WriteString(t.footer)
	return b.String()
}

func renderCards(metas []domain.ChunkMetadata) string {
	var b strings.Builder
	for _, m := range metas {
		b.WriteString("<div class=\"welfare-card\">\n")
		fmt.Fprintf(&b, "<div class=\"card-category\">%s</div>\n", m.Category)
		fmt.Fprintf(&b, "<div class=\"card-title\">%s</div>\n", m.Title)
		if s := strings.TrimSpace(m.Summary); s != "" {
			fmt.Fprintf(&b, "<div class=\"card-summary\">%s</div>\n", s)
		}
		if m.URL != "" {
			fmt.Fprintf(&b, "<a class=\"card-link\" href=\"%s\" target=\"_blank\">자세히 보기</a>\n", m.URL)
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}
