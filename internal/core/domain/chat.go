package domain

import "time"

// Intent is the fixed enumerated result of question classification. The
// classifier model stays behind a narrow interface returning this type; its
// prompt never leaks into pipeline control flow.
type Intent string

const (
	IntentNone            Intent = ""
	IntentShowMore        Intent = "show_more"
	IntentSafetyBlock     Intent = "safety_block"
	IntentExit            Intent = "exit"
	IntentReset           Intent = "reset"
	IntentOutOfScope      Intent = "out_of_scope"
	IntentSmallTalk       Intent = "small_talk"
	IntentClarifyCategory Intent = "clarify_category"
)

// ChatTurn is one prior turn of the conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractedInfo is what the classifier reads out of a question. Any model
// parse failure is treated as "no special intent detected", never an error.
type ExtractedInfo struct {
	Intent      Intent   `json:"intent"`
	Category    Category `json:"category"`
	SubCategory string   `json:"sub_category"`
	AgeMonths   *int     `json:"age"`
	Keywords    []string `json:"keywords"`
}

// RetrievalStage tags where a candidate came from.
type RetrievalStage string

const (
	StageCategory RetrievalStage = "category"
	StageGlobal   RetrievalStage = "global"
)

// SearchCandidate is an ephemeral per-query retrieval result.
type SearchCandidate struct {
	ChunkID  string
	Content  string
	Metadata ChunkMetadata
	Score    float64
	Stage    RetrievalStage
}

// Job is one unit of work for the dispatch layer.
type Job struct {
	ID          string     `json:"job_id"`
	Question    string     `json:"question"`
	ChatHistory []ChatTurn `json:"chat_history"`
	Category    Category   `json:"ai_category,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobResult is the stored outcome of a processed job. It lives in the result
// store keyed by job id with a bounded lifetime.
type JobResult struct {
	Status        string   `json:"status"`
	Answer        string   `json:"answer"`
	LastResultIDs []string `json:"last_result_ids"`
	TotalFound    int      `json:"total_found"`
	ShownCount    int      `json:"shown_count"`
}
