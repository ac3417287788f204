// Package notion reads welfare program records out of the Notion databases
// that editors maintain, and writes feedback and query-log pages back.
package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

const listPageSize = 100

// Property names used by the welfare program databases.
const (
	propTitle         = "사업명"
	propSupportDetail = "지원내용"
	propExtraReq      = "추가 자격요건"
	propContact       = "문의처"
	propCostInfo      = "비용부담"
	propNotes         = "주의사항"
	propStartAge      = "시작개월"
	propEndAge        = "종료개월"
	propSubCategory   = "세부분류"
)

// Client implements ports.RecordSource and ports.FeedbackSink on the Notion
// API.
type Client struct {
	api          *notionapi.Client
	feedbackDBID string
	logDBID      string
}

func New(apiKey, feedbackDBID, logDBID string) *Client {
	return &Client{
		api:          notionapi.NewClient(notionapi.Token(apiKey)),
		feedbackDBID: feedbackDBID,
		logDBID:      logDBID,
	}
}

// ListRecords fetches one page of records from a collection.
func (c *Client) ListRecords(ctx context.Context, collectionID, cursor string) ([]domain.SourceRecord, string, bool, error) {
	req := &notionapi.DatabaseQueryRequest{PageSize: listPageSize}
	if cursor != "" {
		req.StartCursor = notionapi.Cursor(cursor)
	}

	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(collectionID), req)
	if err != nil {
		return nil, "", false, domain.WrapError(domain.ErrTemporary, "notion query", err)
	}

	records := make([]domain.SourceRecord, 0, len(resp.Results))
	for _, page := range resp.Results {
		records = append(records, pageToRecord(page))
	}
	return records, string(resp.NextCursor), resp.HasMore, nil
}

func pageToRecord(page notionapi.Page) domain.SourceRecord {
	props := page.Properties
	return domain.SourceRecord{
		ID:            string(page.ID),
		Title:         titleText(props, propTitle),
		SupportDetail: richText(props, propSupportDetail),
		ExtraReq:      richText(props, propExtraReq),
		Contact:       richText(props, propContact),
		CostInfo:      richText(props, propCostInfo),
		Notes:         richText(props, propNotes),
		StartAge:      numberValue(props, propStartAge),
		EndAge:        numberValue(props, propEndAge),
		SubCategories: multiSelectValues(props, propSubCategory),
		URL:           page.URL,
		LastEdited:    page.LastEditedTime.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// SaveFeedback creates one page in the feedback database.
func (c *Client) SaveFeedback(ctx context.Context, fb ports.Feedback) error {
	if c.feedbackDBID == "" {
		return domain.WrapError(domain.ErrUnavailable, "save feedback", fmt.Errorf("feedback database not configured"))
	}

	props := notionapi.Properties{
		"질문": titleProperty(fb.Question),
		"평가": selectProperty(fb.Rating),
	}
	if fb.Answer != "" {
		props["답변"] = richTextProperty(truncateRunes(fb.Answer, 1900))
	}
	if fb.Reason != "" {
		props["사유"] = selectProperty(fb.Reason)
	}
	if fb.Comment != "" {
		props["상세의견"] = richTextProperty(truncateRunes(fb.Comment, 1900))
	}
	if fb.ChatHistory != "" {
		props["대화내역"] = richTextProperty(truncateRunes(fb.ChatHistory, 1900))
	}
	if fb.JobID != "" {
		props["작업ID"] = richTextProperty(fb.JobID)
	}

	_, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{DatabaseID: notionapi.DatabaseID(c.feedbackDBID)},
		Properties: props,
	})
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "save feedback", err)
	}
	return nil
}

// LogQuery records one answered question in the query-log database, best
// effort.
func (c *Client) LogQuery(ctx context.Context, question string, category domain.Category, keywords []string) error {
	if c.logDBID == "" {
		return nil
	}

	props := notionapi.Properties{
		"질문": titleProperty(truncateRunes(question, 1900)),
	}
	if category != "" {
		props["카테고리"] = selectProperty(string(category))
	}
	if len(keywords) > 0 {
		const maxLogged = 5
		if len(keywords) > maxLogged {
			keywords = keywords[:maxLogged]
		}
		props["키워드"] = multiSelectProperty(keywords)
	}

	_, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{DatabaseID: notionapi.DatabaseID(c.logDBID)},
		Properties: props,
	})
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "log query", err)
	}
	return nil
}

func titleText(props notionapi.Properties, name string) string {
	p, ok := props[name].(*notionapi.TitleProperty)
	if !ok {
		return ""
	}
	return plainText(p.Title)
}

func richText(props notionapi.Properties, name string) string {
	p, ok := props[name].(*notionapi.RichTextProperty)
	if !ok {
		return ""
	}
	return plainText(p.RichText)
}

func numberValue(props notionapi.Properties, name string) *int {
	p, ok := props[name].(*notionapi.NumberProperty)
	if !ok {
		return nil
	}
	v := int(p.Number)
	return &v
}

func multiSelectValues(props notionapi.Properties, name string) []string {
	p, ok := props[name].(*notionapi.MultiSelectProperty)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.MultiSelect))
	for _, opt := range p.MultiSelect {
		if opt.Name != "" {
			out = append(out, opt.Name)
		}
	}
	return out
}

func plainText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range parts {
		b.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func titleProperty(text string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Title: []notionapi.RichText{{Text: &notionapi.Text{Content: text}}},
	}
}

func richTextProperty(text string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: text}}},
	}
}

func selectProperty(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Select: notionapi.Option{Name: name}}
}

func multiSelectProperty(names []string) notionapi.MultiSelectProperty {
	opts := make([]notionapi.Option, 0, len(names))
	for _, n := range names {
		opts = append(opts, notionapi.Option{Name: n})
	}
	return notionapi.MultiSelectProperty{MultiSelect: opts}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
