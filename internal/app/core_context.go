package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/chat"
	db "github.com/markdave123-py/chatbase/internal/core/database"
	"github.com/markdave123-py/chatbase/internal/core/ingestion_engine"
	"github.com/markdave123-py/chatbase/internal/core/llm"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	objectclient "github.com/markdave123-py/chatbase/internal/core/object-client"
	"github.com/markdave123-py/chatbase/internal/core/prompt"
	"github.com/markdave123-py/chatbase/internal/core/quota"
	"github.com/markdave123-py/chatbase/internal/core/retrieval"
	"github.com/markdave123-py/chatbase/internal/core/tokenizer"
	"github.com/markdave123-py/chatbase/internal/services"
)

// CoreContext owns every long-lived component. It is built once at startup
// and passed to the components that need it.
type CoreContext struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Metrics

	DB      core.DbClient
	Objects core.ObjectClient
	Redis   *redis.Client

	Tokenizer tokenizer.Tokenizer
	Chunker   *ingestion_engine.Chunker
	Index     *retrieval.Index
	Retriever *retrieval.Retriever
	Assembler *prompt.Assembler
	Providers []core.LLMProvider
	Gateway   *llm.Gateway
	Ledger    *quota.Ledger
	Scheduler *quota.Scheduler
	Locker    chat.SessionLocker

	Ingestor     *ingestion_engine.DocumentIngestor
	Orchestrator *chat.Orchestrator
	Chatbots     *services.ChatbotService
	Sources      *services.SourceService
}

// NewCoreContext wires the core from cfg. On error, whatever was opened is closed.
func NewCoreContext(ctx context.Context, cfg *config.Config) (_ *CoreContext, err error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cc := &CoreContext{Config: cfg, Logger: log.Default(), Metrics: metrics.New()}
	defer func() {
		if err != nil {
			cc.Close()
		}
	}()

	if cc.DB, err = db.New(initCtx, cfg.Storage); err != nil {
		return nil, err
	}
	if cc.Objects, err = objectclient.New(initCtx, cfg.Storage.Object); err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	if cc.Tokenizer, err = tokenizer.New(cfg.Chunker.TokenizerID); err != nil {
		return nil, err
	}
	if cc.Chunker, err = ingestion_engine.NewChunker(cc.Tokenizer, cfg.Chunker); err != nil {
		return nil, err
	}

	cc.Index = retrieval.NewIndex(cc.DB, retrieval.NewAnalyzer(cfg.Retriever.Stopwords), cc.Metrics, cc.Logger)
	cc.Retriever = retrieval.NewRetriever(cc.Index, cfg.Retriever)
	cc.Assembler = prompt.NewAssembler(cc.Tokenizer, cfg.Retriever.HistoryWindow)

	httpClient := &http.Client{Timeout: cfg.Gateway.CallTimeout}
	cc.Providers = llm.NewProviders(cfg.Gateway, httpClient)
	cc.Gateway = llm.NewGateway(cfg.Gateway, cc.Providers, cc.Metrics, cc.Logger)

	cc.Ledger = quota.NewLedger(cc.DB, cfg.Quota, cc.Metrics, cc.Logger)
	if cc.Scheduler, err = quota.NewScheduler(cc.Ledger, cfg.Quota.ResetSchedule, cc.Logger); err != nil {
		return nil, err
	}

	if cc.Locker, err = cc.newLocker(initCtx); err != nil {
		return nil, err
	}

	fetchClient := &http.Client{Timeout: cfg.Fetch.HTTPTimeout}
	cc.Ingestor = ingestion_engine.NewDocumentIngestor(ingestion_engine.IngestDeps{
		Sources:   cc.DB,
		Index:     cc.Index,
		Objects:   cc.Objects,
		Extractor: ingestion_engine.NewDocconvExtractor(cfg.Fetch, fetchClient, cc.Logger),
		Chunker:   cc.Chunker,
		Metrics:   cc.Metrics,
		Logger:    cc.Logger,
	}, ingestion_engine.IngestConfig{
		LightWorkers: cfg.Ingestion.LightWorkers,
		HeavyWorkers: cfg.Ingestion.HeavyWorkers,
		JobTimeout:   cfg.Ingestion.JobTimeout,
		MaxBytes:     cfg.Fetch.MaxBodyBytes,
		Bucket:       cfg.Storage.Object.BucketName,
	})

	cc.Orchestrator = chat.NewOrchestrator(chat.Deps{
		Chatbots:      cc.DB,
		Conversations: cc.DB,
		Ledger:        cc.Ledger,
		Retriever:     cc.Retriever,
		Assembler:     cc.Assembler,
		Gateway:       cc.Gateway,
		Locker:        cc.Locker,
		Metrics:       cc.Metrics,
		Logger:        cc.Logger,
	}, cfg)

	bucket := cfg.Storage.Object.BucketName
	cc.Chatbots = services.NewChatbotService(cc.DB, cc.Objects, bucket, cc.Index, cc.Ledger, cc.Ingestor, cc.Logger)
	cc.Sources = services.NewSourceService(cc.DB, cc.Objects, bucket, cc.Ledger, cc.Ingestor, cc.Logger)
	return cc, nil
}

func (cc *CoreContext) newLocker(ctx context.Context) (chat.SessionLocker, error) {
	cfg := cc.Config
	if cfg.Chat.LockDriver != "redis" {
		return chat.NewShardedLocker(cfg.Chat.LockShards, cc.Logger), nil
	}
	cc.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := cc.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Storage.Redis.Addr, err)
	}
	log.Printf("Session locks backed by redis at %s.", cfg.Storage.Redis.Addr)
	return chat.NewRedisLocker(cc.Redis, cfg.Chat.LockTTL, cc.Logger), nil
}

// Shutdown stops background work: the reset scheduler and in-flight ingestion.
func (cc *CoreContext) Shutdown(ctx context.Context) error {
	if cc.Scheduler != nil {
		cc.Scheduler.Stop()
	}
	if cc.Ingestor != nil {
		return cc.Ingestor.Shutdown(ctx)
	}
	return nil
}

// Close releases connections. Call Shutdown first.
func (cc *CoreContext) Close() {
	for _, p := range cc.Providers {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if cc.Redis != nil {
		_ = cc.Redis.Close()
	}
	if cc.DB != nil {
		_ = cc.DB.Close()
	}
}
