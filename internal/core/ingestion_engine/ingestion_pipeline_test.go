package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	db "github.com/markdave123-py/chatbase/internal/core/database"
	objectclient "github.com/markdave123-py/chatbase/internal/core/object-client"
	"github.com/markdave123-py/chatbase/internal/core/retrieval"
	"github.com/markdave123-py/chatbase/internal/models"
)

const testBucket = "sources"

type ingestFixture struct {
	store   *db.MemoryClient
	objects core.ObjectClient
	index   *retrieval.Index
	ing     *DocumentIngestor
}

func newIngestFixture(t *testing.T, objects core.ObjectClient, extractor core.DocumentExtractor) *ingestFixture {
	t.Helper()
	store := db.NewMemoryClient()
	require.NoError(t, store.CreateChatbot(context.Background(), &models.Chatbot{ID: "bot", OwnerID: "owner", Provider: "openai_like", Model: "m"}))
	if objects == nil {
		objects = objectclient.NewMemoryObjectClient()
	}
	if extractor == nil {
		extractor = NewDocconvExtractor(config.FetchConfig{}, nil, nil)
	}
	index := retrieval.NewIndex(store, retrieval.NewAnalyzer(nil), nil, nil)
	ing := NewDocumentIngestor(IngestDeps{
		Sources:   store,
		Index:     index,
		Objects:   objects,
		Extractor: extractor,
		Chunker:   approxChunker(t, ModeParagraph, 600, 100),
	}, IngestConfig{LightWorkers: 2, HeavyWorkers: 1, JobTimeout: 5 * time.Second, MaxBytes: 100 << 20, Bucket: testBucket})
	return &ingestFixture{store: store, objects: objects, index: index, ing: ing}
}

func (f *ingestFixture) source(t *testing.T, id string, kind models.SourceKind, name string) Job {
	t.Helper()
	require.NoError(t, f.store.CreateSource(context.Background(), &models.Source{
		ID: id, ChatbotID: "bot", Kind: kind, DisplayName: name, Status: models.SourceStatusProcessing,
	}))
	return Job{SourceID: id, ChatbotID: "bot", Kind: kind, DisplayName: name, Filename: name, BlobKey: "sources/bot/" + id + "/" + name}
}

func (f *ingestFixture) status(t *testing.T, id string) *models.Source {
	t.Helper()
	s, err := f.store.GetSource(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestIngestTextSourceIsProcessedAndRetrievable(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil, nil)
	job := f.source(t, "s1", models.SourceKindText, "France facts")
	job.BlobKey = "sources/bot/s1/content.txt"
	_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey,
		[]byte("The capital of France is Paris. Paris is known for the Eiffel Tower.\n\nThe Seine river flows through Paris."), "text/plain")
	require.NoError(t, err)

	f.ing.Enqueue(job)
	f.ing.Wait()

	s := f.status(t, "s1")
	assert.Equal(t, models.SourceStatusProcessed, s.Status)
	n, err := f.store.CountChunksBySource(ctx, "s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	matches, err := f.index.Rank(ctx, "bot", "What is the capital of France?", 2, 0.4)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0].Chunk.Text, "capital of France is Paris")
	assert.Equal(t, "France facts", matches[0].Chunk.DisplayName)
	assert.GreaterOrEqual(t, matches[0].Score, 0.4)
}

// sizedObjects reports a stored size without holding the bytes and fails
// the test if anything tries to download them.
type sizedObjects struct {
	*objectclient.MemoryObjectClient
	t    *testing.T
	size int64
}

func (s *sizedObjects) StatFile(context.Context, string, string) (int64, error) { return s.size, nil }

func (s *sizedObjects) GetFile(context.Context, string, string) ([]byte, error) {
	s.t.Error("payload larger than the limit was downloaded")
	return nil, errors.New("unexpected download")
}

func TestIngestOversizedFileFails(t *testing.T) {
	ctx := context.Background()
	objects := &sizedObjects{MemoryObjectClient: objectclient.NewMemoryObjectClient(), t: t, size: 150 << 20}
	f := newIngestFixture(t, objects, nil)
	job := f.source(t, "big", models.SourceKindFile, "dump.pdf")

	f.ing.Enqueue(job)
	f.ing.Wait()

	s := f.status(t, "big")
	assert.Equal(t, models.SourceStatusFailed, s.Status)
	assert.True(t, strings.HasPrefix(s.ErrorMessage, "PayloadTooLarge"), s.ErrorMessage)
	n, err := f.store.CountChunksBySource(ctx, "big")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestUnsupportedFileFails(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	job := f.source(t, "s1", models.SourceKindFile, "archive.zip")

	err := f.ing.ProcessOne(context.Background(), job)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
	s := f.status(t, "s1")
	assert.Equal(t, models.SourceStatusFailed, s.Status)
	assert.True(t, strings.HasPrefix(s.ErrorMessage, "UnsupportedFormat"))
}

func TestIngestBlankTextFails(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil, nil)
	job := f.source(t, "s1", models.SourceKindText, "blank")
	_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, []byte(" \n\n \t"), "text/plain")
	require.NoError(t, err)

	require.Error(t, f.ing.ProcessOne(ctx, job))
	assert.Equal(t, models.SourceStatusFailed, f.status(t, "s1").Status)
}

func TestIngestMissingPayloadFails(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	job := f.source(t, "s1", models.SourceKindFile, "notes.txt")

	err := f.ing.ProcessOne(context.Background(), job)
	assert.ErrorIs(t, err, objectclient.ErrObjectNotFound)
	assert.Equal(t, models.SourceStatusFailed, f.status(t, "s1").Status)
}

// gateExtractor blocks until released so a test can act while a job runs.
type gateExtractor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	text    string
}

func newGateExtractor(text string) *gateExtractor {
	return &gateExtractor{started: make(chan struct{}), release: make(chan struct{}), text: text}
}

func (g *gateExtractor) Extract(ctx context.Context, _ core.Payload) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestDeleteWhileProcessingLeavesNoChunks(t *testing.T) {
	ctx := context.Background()
	gate := newGateExtractor("Paris is the capital of France.")
	f := newIngestFixture(t, nil, gate)
	job := f.source(t, "s1", models.SourceKindText, "notes")
	_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, []byte("ignored"), "text/plain")
	require.NoError(t, err)

	f.ing.Enqueue(job)
	<-gate.started
	require.NoError(t, f.store.DeleteSource(ctx, "s1"))
	close(gate.release)
	f.ing.Wait()

	n, err := f.store.CountChunksBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
	s, err := f.store.GetSource(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, s)

	matches, err := f.index.Rank(ctx, "bot", "capital of France", 2, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAbortStopsRunningJob(t *testing.T) {
	ctx := context.Background()
	gate := newGateExtractor("never used")
	f := newIngestFixture(t, nil, gate)
	job := f.source(t, "s1", models.SourceKindText, "notes")
	_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, []byte("x"), "text/plain")
	require.NoError(t, err)

	f.ing.Enqueue(job)
	<-gate.started
	assert.True(t, f.ing.Abort("s1"))
	f.ing.Wait()

	assert.Equal(t, models.SourceStatusProcessing, f.status(t, "s1").Status)
	assert.False(t, f.ing.Abort("s1"))
}

func TestShutdownMarksOutstandingJobsFailed(t *testing.T) {
	ctx := context.Background()
	gate := newGateExtractor("never used")
	f := newIngestFixture(t, nil, gate)
	job := f.source(t, "s1", models.SourceKindText, "notes")
	_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, []byte("x"), "text/plain")
	require.NoError(t, err)

	f.ing.Enqueue(job)
	<-gate.started
	require.NoError(t, f.ing.Shutdown(ctx))

	s := f.status(t, "s1")
	assert.Equal(t, models.SourceStatusFailed, s.Status)
	assert.Contains(t, s.ErrorMessage, "shutdown")
}

func TestReingestAfterDeleteYieldsSameChunkCount(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil, nil)
	body := []byte(strings.Repeat("Paris is lovely in spring. ", 400) + "\n\n" + strings.Repeat("The Seine flows. ", 300))

	count := func(id string) int {
		job := f.source(t, id, models.SourceKindText, "notes")
		_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, body, "text/plain")
		require.NoError(t, err)
		require.NoError(t, f.ing.ProcessOne(ctx, job))
		n, err := f.store.CountChunksBySource(ctx, id)
		require.NoError(t, err)
		return n
	}

	first := count("x1")
	require.NoError(t, f.store.DeleteSource(ctx, "x1"))
	second := count("x2")
	assert.Equal(t, first, second)
	assert.Greater(t, first, 1)
}

func TestHeavyPoolBoundsFileJobs(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	inside, peak := 0, 0
	ext := extractorFunc(func(ctx context.Context, p core.Payload) (string, error) {
		mu.Lock()
		inside++
		peak = max(peak, inside)
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inside--
		mu.Unlock()
		return "some text for " + p.Filename, nil
	})
	f := newIngestFixture(t, nil, ext)
	for _, id := range []string{"f1", "f2", "f3"} {
		job := f.source(t, id, models.SourceKindFile, id+".txt")
		_, err := f.objects.UploadFile(ctx, testBucket, job.BlobKey, []byte("x"), "text/plain")
		require.NoError(t, err)
		f.ing.Enqueue(job)
	}
	f.ing.Wait()

	assert.Equal(t, 1, peak)
	for _, id := range []string{"f1", "f2", "f3"} {
		assert.Equal(t, models.SourceStatusProcessed, f.status(t, id).Status)
	}
}

type extractorFunc func(ctx context.Context, p core.Payload) (string, error)

func (f extractorFunc) Extract(ctx context.Context, p core.Payload) (string, error) { return f(ctx, p) }
