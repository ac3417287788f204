package ports

import (
	"context"
	"time"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

// RecordSource pages through the external document collection.
type RecordSource interface {
	// ListRecords fetches one page of records for a collection. cursor is
	// empty on the first call; hasMore reports whether another page exists.
	ListRecords(ctx context.Context, collectionID, cursor string) (records []domain.SourceRecord, nextCursor string, hasMore bool, err error)
}

// FeedbackSink persists user feedback and query logs, best effort.
type FeedbackSink interface {
	SaveFeedback(ctx context.Context, fb Feedback) error
	LogQuery(ctx context.Context, question string, category domain.Category, keywords []string) error
}

// Feedback is one user rating of an answer.
type Feedback struct {
	JobID       string
	Question    string
	Answer      string
	Rating      string
	Reason      string
	Comment     string
	ChatHistory string
}

// SearchIndex is the vector-search table.
type SearchIndex interface {
	UpsertChunk(ctx context.Context, chunk domain.IndexedChunk) error
	DeleteByRecordID(ctx context.Context, recordID string) error
	// HybridSearch runs the combined vector+keyword ranking pass. category
	// is empty for an unscoped search.
	HybridSearch(ctx context.Context, q HybridQuery) ([]domain.SearchCandidate, error)
	// FetchMetadataByRecordIDs returns metadata for the given record ids,
	// preserving the requested order.
	FetchMetadataByRecordIDs(ctx context.Context, recordIDs []string) ([]domain.ChunkMetadata, error)
	Ping(ctx context.Context) error
}

// HybridQuery is the hybrid-search RPC request.
type HybridQuery struct {
	QueryText      string
	QueryEmbedding []float32
	MatchThreshold float64
	MatchCount     int
	FilterCategory domain.Category // empty = no filter
	Keywords       []string
}

// SemanticCache stores answers keyed by embedding similarity.
type SemanticCache interface {
	// Lookup returns the cached answer for a semantically identical
	// question, or ok=false.
	Lookup(ctx context.Context, embedding []float32, threshold float64) (answer string, ok bool, err error)
	Save(ctx context.Context, question, answer string, embedding []float32) error
}

// CacheStore is the key-value cache with TTL support.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// IncrWindow increments a fixed-window counter, setting the TTL only
	// when the window starts, and returns the new count.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Ping(ctx context.Context) error
}

// ResultStore holds job results keyed by job id with bounded retention.
type ResultStore interface {
	SaveResult(ctx context.Context, jobID string, result domain.JobResult, ttl time.Duration) error
	GetResult(ctx context.Context, jobID string) (*domain.JobResult, bool, error)
}

// JobQueue is the durable FIFO job queue.
type JobQueue interface {
	Publish(ctx context.Context, job domain.Job) error
	// Next blocks up to timeout for the next job; ok=false on timeout.
	Next(timeout time.Duration) (job domain.Job, ok bool, err error)
	// Healthy reports whether the broker connection is currently usable.
	// Re-evaluated per request by the dispatcher.
	Healthy() bool
	Close()
}

// Embedder builds the query/document vectors.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

// Embedding task types understood by the provider.
const (
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
)

// TextGenerator produces free-form model output from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IntentClassifier reads intent and demographic signals out of a question.
// Unparseable model output maps to a zero ExtractedInfo, never an error
// visible to the pipeline.
type IntentClassifier interface {
	Classify(ctx context.Context, question string, history []domain.ChatTurn) (domain.ExtractedInfo, error)
}

// SyncStateStore persists the sync pass state as a whole.
type SyncStateStore interface {
	Load(ctx context.Context) (domain.SyncState, error)
	Save(ctx context.Context, state domain.SyncState) error
}

// SyncRunner is the inbound contract of the incremental sync engine.
type SyncRunner interface {
	Run(ctx context.Context) (domain.SyncReport, error)
}

// JobProcessor runs the full retrieval pipeline for one job. Both delivery
// modes answer through this single entry point.
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) domain.JobResult
}

// ChatService is the inbound contract of the dispatch layer.
type ChatService interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Result(ctx context.Context, jobID string) (domain.JobResult, bool, error)
}

// ChatRequest is one incoming question with pagination context.
type ChatRequest struct {
	Question      string
	LastResultIDs []string
	ShownCount    int
	ChatHistory   []domain.ChatTurn
}

// ChatResponse is either a final answer or a queued-job handle.
type ChatResponse struct {
	Status        string   `json:"status,omitempty"`
	Answer        string   `json:"answer,omitempty"`
	Options       []string `json:"options,omitempty"`
	LastResultIDs []string `json:"last_result_ids,omitempty"`
	TotalFound    int      `json:"total_found"`
	ShownCount    int      `json:"shown_count,omitempty"`
	JobID         string   `json:"job_id,omitempty"`
	Message       string   `json:"message,omitempty"`
}
