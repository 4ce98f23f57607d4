package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	"github.com/markdave123-py/chatbase/internal/models"
)

var (
	errAborted  = errors.New("ingestion aborted")
	errShutdown = errors.New("ingestion interrupted by shutdown")
)

// DocumentIngestor runs extract → chunk → insert for each source and moves the
// source to processed or failed. Website and text jobs share the light pool,
// files use the heavy pool.
type DocumentIngestor struct {
	sources   core.SourceStore
	index     ChunkIndex
	objects   core.ObjectClient
	extractor core.DocumentExtractor
	chunker   *Chunker
	metrics   *metrics.Metrics
	logger    *log.Logger
	cfg       IngestConfig

	light *semaphore.Weighted
	heavy *semaphore.Weighted

	root context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	running map[string]*jobHandle
	wg      sync.WaitGroup
}

type jobHandle struct {
	cancel context.CancelCauseFunc
}

func NewDocumentIngestor(d IngestDeps, cfg IngestConfig) *DocumentIngestor {
	if cfg.LightWorkers <= 0 {
		cfg.LightWorkers = runtime.NumCPU() * 2
	}
	if cfg.HeavyWorkers <= 0 {
		cfg.HeavyWorkers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 << 20
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	root, stop := context.WithCancelCause(context.Background())
	return &DocumentIngestor{
		sources:   d.Sources,
		index:     d.Index,
		objects:   d.Objects,
		extractor: d.Extractor,
		chunker:   d.Chunker,
		metrics:   d.Metrics,
		logger:    logger,
		cfg:       cfg,
		light:     semaphore.NewWeighted(int64(cfg.LightWorkers)),
		heavy:     semaphore.NewWeighted(int64(cfg.HeavyWorkers)),
		root:      root,
		stop:      stop,
		running:   make(map[string]*jobHandle),
	}
}

func (i *DocumentIngestor) pool(kind models.SourceKind) *semaphore.Weighted {
	if kind == models.SourceKindFile {
		return i.heavy
	}
	return i.light
}

// Enqueue starts the job in its own goroutine. It waits for a pool slot
// while the source stays in processing.
func (i *DocumentIngestor) Enqueue(job Job) {
	ctx, cancel := context.WithCancelCause(i.root)
	h := &jobHandle{cancel: cancel}

	i.mu.Lock()
	if prev, ok := i.running[job.SourceID]; ok {
		prev.cancel(errAborted)
	}
	i.running[job.SourceID] = h
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.forget(job.SourceID, h)

		sem := i.pool(job.Kind)
		if err := sem.Acquire(ctx, 1); err != nil {
			i.finish(ctx, job, err)
			return
		}
		defer sem.Release(1)

		i.logger.Printf("DocumentIngestor: processing source %s (%s)", job.SourceID, job.Kind)
		if err := i.ProcessOne(ctx, job); err != nil {
			i.logger.Printf("DocumentIngestor: source %s failed: %v", job.SourceID, err)
		}
	}()
}

func (i *DocumentIngestor) forget(sourceID string, h *jobHandle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running[sourceID] == h {
		delete(i.running, sourceID)
	}
	h.cancel(nil)
}

// Abort cancels the job of sourceID if one is queued or running. Its chunks
// are removed and the source row is not touched.
func (i *DocumentIngestor) Abort(sourceID string) bool {
	i.mu.Lock()
	h, ok := i.running[sourceID]
	i.mu.Unlock()
	if ok {
		h.cancel(errAborted)
	}
	return ok
}

// Wait blocks until every enqueued job has returned.
func (i *DocumentIngestor) Wait() { i.wg.Wait() }

// Shutdown cancels outstanding jobs, which are marked failed, and waits for
// them until ctx ends.
func (i *DocumentIngestor) Shutdown(ctx context.Context) error {
	i.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessOne runs one job to a terminal status. The returned error is the
// failure recorded on the source, or nil when it was processed or aborted.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, i.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := i.pipeline(jobCtx, job)
	if err == nil {
		err = i.markProcessed(ctx, job)
		if err == nil {
			i.logger.Printf("DocumentIngestor: source %s processed in %s", job.SourceID, time.Since(start).Round(time.Millisecond))
			i.metrics.IngestionFinished(string(job.Kind), "processed")
			return nil
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("ingestion timed out after %s", i.cfg.JobTimeout)
	}
	return i.finish(ctx, job, err)
}

func (i *DocumentIngestor) markProcessed(ctx context.Context, job Job) error {
	if cause := context.Cause(ctx); errors.Is(cause, errAborted) {
		return cause
	}
	err := i.sources.UpdateSourceStatus(context.WithoutCancel(ctx), job.SourceID, models.SourceStatusProcessed, "")
	if errors.Is(err, core.ErrInvalidTransition) {
		i.logger.Printf("DocumentIngestor: source %s already terminal, leaving it", job.SourceID)
		return nil
	}
	return err
}

// finish records a failed or aborted job. Chunks of the source are always removed.
func (i *DocumentIngestor) finish(ctx context.Context, job Job, err error) error {
	bg := context.WithoutCancel(ctx)
	if _, derr := i.index.DeleteBySource(bg, job.ChatbotID, job.SourceID); derr != nil {
		i.logger.Printf("DocumentIngestor: cleanup of source %s failed: %v", job.SourceID, derr)
	}

	cause := context.Cause(ctx)
	if errors.Is(cause, errAborted) || errors.Is(err, core.ErrSourceNotFound) {
		i.logger.Printf("DocumentIngestor: source %s aborted", job.SourceID)
		i.metrics.IngestionFinished(string(job.Kind), "aborted")
		return nil
	}
	if errors.Is(cause, errShutdown) {
		err = cause
	}

	uerr := i.sources.UpdateSourceStatus(bg, job.SourceID, models.SourceStatusFailed, err.Error())
	switch {
	case uerr == nil:
	case errors.Is(uerr, core.ErrSourceNotFound):
		i.metrics.IngestionFinished(string(job.Kind), "aborted")
		return nil
	case errors.Is(uerr, core.ErrInvalidTransition):
		i.logger.Printf("DocumentIngestor: source %s already terminal, failure not recorded: %v", job.SourceID, err)
	default:
		i.logger.Printf("DocumentIngestor: could not mark source %s failed: %v", job.SourceID, uerr)
	}
	i.metrics.IngestionFinished(string(job.Kind), "failed")
	return err
}

// pipeline ties the stages together with an errgroup; the first error
// cancels the others.
func (i *DocumentIngestor) pipeline(ctx context.Context, job Job) error {
	g, gctx := errgroup.WithContext(ctx)
	texts := make(chan string, 1)
	batches := make(chan []models.Chunk, 1)

	// payload -> text
	g.Go(func() error {
		defer close(texts)
		p, err := i.payload(gctx, job)
		if err != nil {
			return err
		}
		text, err := i.extractor.Extract(gctx, p)
		if err != nil {
			return err
		}
		select {
		case texts <- text:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	// text -> chunks
	g.Go(func() error {
		defer close(batches)
		text, ok := <-texts
		if !ok {
			return nil
		}
		chunks := i.chunker.Chunk(text, ChunkMeta{
			ChatbotID:   job.ChatbotID,
			SourceID:    job.SourceID,
			Kind:        job.Kind,
			DisplayName: job.DisplayName,
		})
		if len(chunks) == 0 {
			return fmt.Errorf("%w: no extractable text", core.ErrUnsupportedFormat)
		}
		select {
		case batches <- chunks:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	// chunks -> store
	g.Go(func() error {
		chunks, ok := <-batches
		if !ok {
			return nil
		}
		return i.index.InsertChunks(gctx, job.ChatbotID, job.SourceID, chunks)
	})

	return g.Wait()
}

// payload loads the job's input. File sizes are checked from the stored
// object before anything is downloaded.
func (i *DocumentIngestor) payload(ctx context.Context, job Job) (core.Payload, error) {
	p := core.Payload{Kind: job.Kind, Filename: job.Filename, URL: job.URL}
	switch job.Kind {
	case models.SourceKindWebsite:
		return p, nil
	case models.SourceKindFile:
		if !IsSupportedFile(job.Filename) {
			return p, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, job.Filename)
		}
		size, err := i.objects.StatFile(ctx, i.cfg.Bucket, job.BlobKey)
		if err != nil {
			return p, fmt.Errorf("stat payload: %w", err)
		}
		if size > i.cfg.MaxBytes {
			return p, fmt.Errorf("%w: file is %d bytes, limit is %d", core.ErrPayloadTooLarge, size, i.cfg.MaxBytes)
		}
	case models.SourceKindText:
	default:
		return p, fmt.Errorf("%w: unknown source kind %q", core.ErrUnsupportedFormat, job.Kind)
	}
	data, err := i.objects.GetFile(ctx, i.cfg.Bucket, job.BlobKey)
	if err != nil {
		return p, fmt.Errorf("load payload: %w", err)
	}
	p.Data = data
	return p, nil
}
