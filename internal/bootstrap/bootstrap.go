// Package bootstrap wires configuration into the running object graph.
// Required dependencies (search index, embedding provider) fail
// construction; optional ones (cache, queue, feedback, backup models)
// degrade to nil and switch their feature off.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dobongcare/welfare-chatbot/internal/config"
	"github.com/dobongcare/welfare-chatbot/internal/core/ports"
	"github.com/dobongcare/welfare-chatbot/internal/core/usecase"
	redisstore "github.com/dobongcare/welfare-chatbot/internal/infrastructure/cache/redis"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/llm"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/llm/gemini"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/llm/groq"
	natsqueue "github.com/dobongcare/welfare-chatbot/internal/infrastructure/queue/nats"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/searchindex/supabase"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/source/notion"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/syncstate/localfs"
	"github.com/dobongcare/welfare-chatbot/internal/rules"
)

type App struct {
	Config config.Config
	Logger *slog.Logger
	Tables *rules.Tables

	Cache    ports.CacheStore  // nil when Redis is unavailable
	Results  ports.ResultStore // nil when Redis is unavailable
	Queue    ports.JobQueue    // nil when the broker is unavailable
	Index    ports.SearchIndex
	SemCache ports.SemanticCache
	Embedder ports.Embedder
	Feedback ports.FeedbackSink // nil when the document store is not configured

	Processor *usecase.Processor
	Chat      ports.ChatService

	closeFn func()
}

// New builds the serving object graph shared by the API and the worker.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	tables, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("load rule tables: %w", err)
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required")
	}
	if len(cfg.GeminiAPIKeys) == 0 {
		return nil, fmt.Errorf("GEMINI_API_KEYS is required")
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	index := supabase.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTable, supabase.Options{
		ResilienceExecutor: executor,
	})

	pool, err := gemini.NewKeyPool(cfg.GeminiAPIKeys)
	if err != nil {
		return nil, err
	}
	geminiClient := gemini.New(pool, cfg.GeminiGenModel, cfg.GeminiEmbedModel, gemini.Options{
		ResilienceExecutor: executor,
	})

	var groqFast, groqBackup ports.TextGenerator
	if cfg.GroqAPIKey != "" {
		groqFast = groq.New(cfg.GroqAPIKey, cfg.GroqFastModel, groq.Options{ResilienceExecutor: executor})
		groqBackup = groq.New(cfg.GroqAPIKey, cfg.GroqBackupModel, groq.Options{ResilienceExecutor: executor})
	}

	// Heavy generation prefers Gemini; light classification and expansion
	// prefer the fast Groq model. Each side backstops the other.
	answerGen := llm.NewFailoverGenerator(geminiClient, groqBackup, logger)
	fastGen := llm.NewFailoverGenerator(geminiClient, nil, logger)
	if groqFast != nil {
		fastGen = llm.NewFailoverGenerator(groqFast, geminiClient, logger)
	}
	embedder := llm.NewFailoverEmbedder(geminiClient, nil, logger)

	var cache ports.CacheStore
	var results ports.ResultStore
	var closeCache func()
	if cfg.RedisURL != "" {
		store, err := redisstore.New(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis_unavailable_caching_disabled", "error", err)
		} else if err := store.Ping(ctx); err != nil {
			logger.Warn("redis_unavailable_caching_disabled", "error", err)
			_ = store.Close()
		} else {
			cache = store
			results = store
			closeCache = func() { _ = store.Close() }
		}
	}

	var queue ports.JobQueue
	if !cfg.ForceSyncMode && cfg.NATSURL != "" {
		q, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			logger.Warn("broker_unavailable_using_sync_mode", "error", err)
		} else {
			queue = q
		}
	}

	var feedback ports.FeedbackSink
	if cfg.NotionAPIKey != "" {
		feedback = notion.New(cfg.NotionAPIKey, cfg.NotionFeedbackDBID, cfg.NotionLogDBID)
	}

	classifier := llm.NewClassifier(fastGen, cache, cfg.ExtractCacheTTL, logger)
	expander := usecase.NewQueryExpander(fastGen, tables, logger)
	searcher := usecase.NewSearcher(embedder, index, tables, usecase.SearchConfig{
		ScopedThreshold:  cfg.ScopedMatchThreshold,
		ScopedCount:      cfg.ScopedMatchCount,
		GlobalThreshold:  cfg.GlobalMatchThreshold,
		GlobalCount:      cfg.GlobalMatchCount,
		MinScopedResults: cfg.MinScopedResults,
	}, logger)
	reranker := usecase.NewReranker(answerGen, cfg.RerankTopN, logger)

	processor := usecase.NewProcessor(expander, searcher, reranker, tables, usecase.ProcessorConfig{
		ResultsPerPage: cfg.ResultsPerPage,
		AnswerCacheTTL: cfg.AnswerCacheTTL,
	}, logger).WithWriteBehind(cache, index, embedder, feedback)

	chat := usecase.NewDispatcher(
		classifier,
		processor,
		queue,
		cache,
		results,
		index,
		embedder,
		index,
		tables,
		usecase.DispatchConfig{
			ForceSync:             cfg.ForceSyncMode,
			ResultsPerPage:        cfg.ResultsPerPage,
			SemanticThreshold:     cfg.SemanticCacheThreshold,
			FallbackMaxConcurrent: cfg.FallbackMaxConcurrent,
		},
		logger,
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Tables:    tables,
		Cache:     cache,
		Results:   results,
		Queue:     queue,
		Index:     index,
		SemCache:  index,
		Embedder:  embedder,
		Feedback:  feedback,
		Processor: processor,
		Chat:      chat,
		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			if closeCache != nil {
				closeCache()
			}
		},
	}, nil
}

// Indexer is the object graph of the sync entry point.
type Indexer struct {
	Config config.Config
	Logger *slog.Logger
	Sync   ports.SyncRunner
}

// NewIndexer builds the sync pass graph. Indexing fails fast on missing
// credentials instead of degrading.
func NewIndexer(_ context.Context, cfg config.Config, logger *slog.Logger) (*Indexer, error) {
	if err := cfg.ValidateIndexer(); err != nil {
		return nil, err
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	source := notion.New(cfg.NotionAPIKey, cfg.NotionFeedbackDBID, cfg.NotionLogDBID)
	index := supabase.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseTable, supabase.Options{
		ResilienceExecutor: executor,
	})

	pool, err := gemini.NewKeyPool(cfg.GeminiAPIKeys)
	if err != nil {
		return nil, err
	}
	geminiClient := gemini.New(pool, cfg.GeminiGenModel, cfg.GeminiEmbedModel, gemini.Options{
		ResilienceExecutor: executor,
	})

	var summarizer ports.TextGenerator = geminiClient
	if cfg.GroqAPIKey != "" {
		backup := groq.New(cfg.GroqAPIKey, cfg.GroqBackupModel, groq.Options{ResilienceExecutor: executor})
		summarizer = llm.NewFailoverGenerator(geminiClient, backup, logger)
	}

	collections := make([]usecase.Collection, 0, len(cfg.Collections()))
	for _, ref := range cfg.Collections() {
		collections = append(collections, usecase.Collection{
			Category:     ref.Category,
			CollectionID: ref.CollectionID,
		})
	}

	engine := usecase.NewSyncEngine(
		source,
		index,
		llm.NewFailoverEmbedder(geminiClient, nil, logger),
		summarizer,
		localfs.New(cfg.SyncStatePath),
		collections,
		cfg.SyncPageDelay,
		logger,
	)

	return &Indexer{Config: cfg, Logger: logger, Sync: engine}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
