package ingestion_engine

import "context"

// Ingestor runs source jobs in the background.
type Ingestor interface {
	// Enqueue schedules a job and returns immediately; the source stays in
	// processing until a worker is free.
	Enqueue(job Job)
	// Abort cancels a queued or running job. The source row is left as is.
	Abort(sourceID string) bool
	// ProcessOne runs a job synchronously.
	ProcessOne(ctx context.Context, job Job) error
	// Wait blocks until every enqueued job has finished.
	Wait()
}

var _ Ingestor = (*DocumentIngestor)(nil)
