package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
)

// Collection binds a category to its source collection id. Sync iterates
// collections in the order given, which is fixed by configuration.
type Collection struct {
	Category     domain.Category
	CollectionID string
}

// SyncEngine runs one incremental indexing pass: fetch every record from
// the source, reindex the changed ones, delete what disappeared, persist
// the new state. A fetch failure anywhere marks the pass critical, which
// suppresses both deletions and state persistence so that a flaky source
// can never wipe the index or skip records on the next pass.
type SyncEngine struct {
	source      ports.RecordSource
	index       ports.SearchIndex
	embedder    ports.Embedder
	summarizer  ports.TextGenerator // optional, for pre-computed summaries
	state       ports.SyncStateStore
	collections []Collection
	pageDelay   time.Duration
	logger      *slog.Logger
}

func NewSyncEngine(
	source ports.RecordSource,
	index ports.SearchIndex,
	embedder ports.Embedder,
	summarizer ports.TextGenerator,
	state ports.SyncStateStore,
	collections []Collection,
	pageDelay time.Duration,
	logger *slog.Logger,
) *SyncEngine {
	return &SyncEngine{
		source:      source,
		index:       index,
		embedder:    embedder,
		summarizer:  summarizer,
		state:       state,
		collections: collections,
		pageDelay:   pageDelay,
		logger:      logger,
	}
}

// Run executes one full sync pass.
func (e *SyncEngine) Run(ctx context.Context) (domain.SyncReport, error) {
	prev, err := e.state.Load(ctx)
	if err != nil {
		e.logger.Warn("sync_state_load_failed_starting_fresh", "error", err)
		prev = domain.SyncState{}
	}

	var report domain.SyncReport
	current := domain.SyncState{}
	seen := make(map[string]struct{})

	for _, col := range e.collections {
		records, fetchErr := e.fetchCollection(ctx, col.CollectionID)
		if fetchErr != nil {
			e.logger.Error("collection_fetch_failed", "category", col.Category, "error", fetchErr)
			report.HadCriticalError = true
		}

		for _, rec := range records {
			rec.Category = col.Category
			if rec.ID == "" {
				continue
			}
			// Record the sighting before any skip so a seen record is
			// never treated as deleted.
			seen[rec.ID] = struct{}{}
			current[rec.ID] = rec.LastEdited

			if marker, known := prev[rec.ID]; known && marker == rec.LastEdited {
				report.Skipped++
				continue
			}
			if strings.TrimSpace(rec.Title) == "" {
				continue
			}
			if err := e.reindexRecord(ctx, rec); err != nil {
				e.logger.Error("record_reindex_failed", "record_id", rec.ID, "error", err)
				// Drop the marker so the next pass retries this record. It
				// stays in seen: a record that failed to index still exists.
				delete(current, rec.ID)
				continue
			}
			report.Updated++
		}
	}

	if report.HadCriticalError {
		e.logger.Warn("sync_pass_degraded_skipping_deletes_and_state",
			"updated", report.Updated, "skipped", report.Skipped)
		return report, nil
	}

	for recordID := range prev {
		if _, stillThere := seen[recordID]; stillThere {
			continue
		}
		if err := e.index.DeleteByRecordID(ctx, recordID); err != nil {
			e.logger.Error("stale_record_delete_failed", "record_id", recordID, "error", err)
			continue
		}
		report.Deleted++
	}

	if err := e.state.Save(ctx, current); err != nil {
		return report, domain.WrapError(domain.ErrTemporary, "save sync state", err)
	}

	e.logger.Info("sync_pass_complete",
		"updated", report.Updated, "skipped", report.Skipped, "deleted", report.Deleted)
	return report, nil
}

// fetchCollection pages through one collection, pausing between pages. On a
// page error it returns the records fetched so far together with the error;
// the partial set is still processed.
func (e *SyncEngine) fetchCollection(ctx context.Context, collectionID string) ([]domain.SourceRecord, error) {
	var all []domain.SourceRecord
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		records, next, hasMore, err := e.source.ListRecords(ctx, collectionID, cursor)
		all = append(all, records...)
		if err != nil {
			return all, err
		}
		if !hasMore {
			return all, nil
		}
		cursor = next
		if e.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(e.pageDelay):
			}
		}
	}
}

// reindexRecord replaces every chunk of the record. Delete first so a
// record whose content shrank never keeps stale chunks behind.
func (e *SyncEngine) reindexRecord(ctx context.Context, rec domain.SourceRecord) error {
	if err := e.index.DeleteByRecordID(ctx, rec.ID); err != nil {
		e.logger.Warn("pre_upsert_delete_failed", "record_id", rec.ID, "error", err)
	}

	content := buildSummaryText(rec)
	embedding, err := e.embedder.Embed(ctx, buildEmbeddingText(rec), ports.TaskRetrievalDocument)
	if err != nil {
		return fmt.Errorf("embed record %s: %w", rec.ID, err)
	}

	chunk := domain.IndexedChunk{
		ID:        domain.ChunkID(rec.ID, 0),
		RecordID:  rec.ID,
		Content:   content,
		Metadata:  buildMetadata(rec, e.preSummary(ctx, rec, content)),
		Embedding: embedding,
	}
	if err := e.index.UpsertChunk(ctx, chunk); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// preSummary asks the model for a card summary, degrading to truncated
// content when the model is unavailable.
func (e *SyncEngine) preSummary(ctx context.Context, rec domain.SourceRecord, content string) string {
	if e.summarizer != nil {
		prompt := fmt.Sprintf(
			"다음 복지 사업 정보를 보호자에게 보여줄 2문장 이내의 한국어 요약으로 만들어라. 요약만 출력해라.\n\n%s", content)
		if out, err := e.summarizer.Generate(ctx, prompt); err == nil {
			if s := strings.TrimSpace(out); s != "" {
				return s
			}
		} else {
			e.logger.Warn("summary_generation_failed", "record_id", rec.ID, "error", err)
		}
	}
	runes := []rune(content)
	if len(runes) > 300 {
		return string(runes[:300])
	}
	return content
}

func buildMetadata(rec domain.SourceRecord, summary string) domain.ChunkMetadata {
	var startAge, endAge *int
	if rec.StartAge != nil {
		v := *rec.StartAge
		startAge = &v
	}
	if rec.EndAge != nil {
		v := domain.NormalizeEndAge(*rec.EndAge)
		endAge = &v
	}
	return domain.ChunkMetadata{
		RecordID:      rec.ID,
		Category:      rec.Category,
		SubCategories: rec.SubCategories,
		StartAge:      startAge,
		EndAge:        endAge,
		Title:         rec.Title,
		URL:           rec.URL,
		Summary:       summary,
	}
}

// buildSummaryText is the human-readable chunk body used for keyword
// scoring and summaries.
func buildSummaryText(rec domain.SourceRecord) string {
	var b strings.Builder
	writeLine := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" || value == "—" || value == "-" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	writeLine("사업명", rec.Title)
	writeLine("대상", ageRangeText(rec.StartAge, rec.EndAge))
	writeLine("지원 내용", rec.SupportDetail)
	writeLine("자격 요건", rec.ExtraReq)
	writeLine("비용 부담", rec.CostInfo)
	writeLine("주의 사항", rec.Notes)
	writeLine("문의처", rec.Contact)
	return b.String()
}

// buildEmbeddingText weights the fields by retrieval importance: the title
// three times, support and cost details twice, requirements once.
func buildEmbeddingText(rec domain.SourceRecord) string {
	var b strings.Builder
	title := strings.TrimSpace(rec.Title)
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "문서제목: %s\n", title)
	}
	fmt.Fprintf(&b, "카테고리: %s %s\n", rec.Category, strings.Join(rec.SubCategories, " "))
	if target := ageRangeText(rec.StartAge, rec.EndAge); target != "" {
		fmt.Fprintf(&b, "대상: %s\n%s\n", target, target)
	}
	if detail := strings.TrimSpace(rec.SupportDetail); detail != "" {
		fmt.Fprintf(&b, "내용: %s\n%s\n", detail, detail)
	}
	if cost := strings.TrimSpace(rec.CostInfo); cost != "" {
		fmt.Fprintf(&b, "비용주의: %s\n%s\n", cost, cost)
	}
	if req := strings.TrimSpace(rec.ExtraReq); req != "" {
		fmt.Fprintf(&b, "자격요건: %s\n", req)
	}
	if notes := strings.TrimSpace(rec.Notes); notes != "" {
		fmt.Fprintf(&b, "참고: %s\n", notes)
	}
	return b.String()
}

// ageRangeText renders the age range in months, mirroring how it was
// written in the source documents.
func ageRangeText(startAge, endAge *int) string {
	if startAge == nil && endAge == nil {
		return ""
	}
	start := 0
	if startAge != nil {
		start = *startAge
	}
	if endAge == nil || domain.NormalizeEndAge(*endAge) >= domain.AgeUnboundedMonths {
		return fmt.Sprintf("%d개월 이상", start)
	}
	return fmt.Sprintf("%d개월부터 %d개월까지", start, domain.NormalizeEndAge(*endAge))
}
