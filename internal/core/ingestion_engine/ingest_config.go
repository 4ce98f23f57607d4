package ingestion_engine

import (
	"context"
	"log"
	"time"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	"github.com/markdave123-py/chatbase/internal/models"
)

// IngestConfig tunes the worker pools.
//
// LightWorkers: concurrent website and text jobs.
// HeavyWorkers: concurrent file jobs.
// JobTimeout:   upper bound of one job from payload load to status update.
// MaxBytes:     payload ceiling; larger files fail with PayloadTooLarge before download.
// Bucket:       object storage bucket holding source payloads.
type IngestConfig struct {
	LightWorkers int
	HeavyWorkers int
	JobTimeout   time.Duration
	MaxBytes     int64
	Bucket       string
}

// Job is one source waiting to be ingested.
//
// BlobKey: object key of the stored payload (files and text).
// URL:     page to fetch (websites).
type Job struct {
	SourceID    string
	ChatbotID   string
	Kind        models.SourceKind
	DisplayName string
	Filename    string
	URL         string
	BlobKey     string
}

// ChunkIndex is the part of the chunk store the pipeline writes to.
type ChunkIndex interface {
	InsertChunks(ctx context.Context, chatbotID, sourceID string, chunks []models.Chunk) error
	DeleteBySource(ctx context.Context, chatbotID, sourceID string) (int, error)
}

// IngestDeps are the collaborators of a DocumentIngestor.
type IngestDeps struct {
	Sources   core.SourceStore
	Index     ChunkIndex
	Objects   core.ObjectClient
	Extractor core.DocumentExtractor
	Chunker   *Chunker
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}
