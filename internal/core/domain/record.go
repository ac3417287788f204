package domain

import "fmt"

// Category is one of the fixed welfare-domain groupings used to scope
// retrieval. The set mirrors the source document databases.
type Category string

const (
	CategoryMedical   Category = "의료/재활"
	CategoryEducation Category = "교육/보육"
	CategoryFamily    Category = "가족 지원"
	CategoryCare      Category = "돌봄/양육"
	CategoryLiving    Category = "생활 지원"
)

// Categories returns the fixed category set in sync iteration order.
func Categories() []Category {
	return []Category{
		CategoryMedical,
		CategoryEducation,
		CategoryFamily,
		CategoryCare,
		CategoryLiving,
	}
}

// AgeUnboundedMonths is the normalized upper bound for records whose end age
// is the "unbounded" sentinel (-1 in the source). It must round-trip
// identically between the write and read paths.
const AgeUnboundedMonths = 99999

// NormalizeEndAge maps the unbounded sentinel to AgeUnboundedMonths.
func NormalizeEndAge(endAge int) int {
	if endAge == -1 {
		return AgeUnboundedMonths
	}
	return endAge
}

// SourceRecord is one welfare-program entry as extracted from the document
// store.
type SourceRecord struct {
	ID            string
	Category      Category
	Title         string
	SupportDetail string
	ExtraReq      string
	Contact       string
	CostInfo      string
	Notes         string
	StartAge      *int // months, nil when missing
	EndAge        *int // months, nil when missing, -1 means unbounded
	SubCategories []string
	URL           string
	LastEdited    string // opaque last-modified marker from the source
}

// ChunkMetadata is the metadata bag persisted with every indexed chunk.
type ChunkMetadata struct {
	RecordID      string   `json:"page_id"`
	Category      Category `json:"category"`
	SubCategories []string `json:"sub_category_list"`
	StartAge      *int     `json:"start_age"`
	EndAge        *int     `json:"end_age"`
	Title         string   `json:"title"`
	URL           string   `json:"page_url"`
	Summary       string   `json:"pre_summary"`
}

// ContainsAge reports whether ageMonths falls inside the chunk's age range.
// Chunks without any age range accept every age.
func (m ChunkMetadata) ContainsAge(ageMonths int) bool {
	if m.StartAge == nil && m.EndAge == nil {
		return true
	}
	start := 0
	if m.StartAge != nil {
		start = *m.StartAge
	}
	end := AgeUnboundedMonths
	if m.EndAge != nil {
		end = *m.EndAge
	}
	return start <= ageMonths && ageMonths <= end
}

// IndexedChunk is one persisted searchable unit derived from a SourceRecord.
type IndexedChunk struct {
	ID        string // "{record_id}_{chunk_index}"
	RecordID  string
	Content   string // raw text used for keyword scoring
	Metadata  ChunkMetadata
	Embedding []float32
}

// ChunkID builds the persisted chunk id for a record.
func ChunkID(recordID string, index int) string {
	return fmt.Sprintf("%s_%d", recordID, index)
}

// SyncState maps record id to the last-seen modification marker. It is read
// fully at the start of a sync pass and rewritten fully at the end of a
// successful pass.
type SyncState map[string]string

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Updated          int
	Skipped          int
	Deleted          int
	HadCriticalError bool
}
