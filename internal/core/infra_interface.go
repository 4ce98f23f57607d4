package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/chatbase/internal/models"
)

// ChatbotStore persists chatbot configuration.
type ChatbotStore interface {
	CreateChatbot(ctx context.Context, bot *models.Chatbot) error
	GetChatbot(ctx context.Context, id string) (*models.Chatbot, error)
	ListChatbotsByOwner(ctx context.Context, ownerID string) ([]models.Chatbot, error)
	DeleteChatbot(ctx context.Context, id string) error
}

// SourceStore persists sources and their write-once status transition.
type SourceStore interface {
	CreateSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSourcesByChatbot(ctx context.Context, chatbotID string) ([]models.Source, error)
	// UpdateSourceStatus moves a processing source to a terminal status.
	// It returns ErrInvalidTransition when the source is already terminal and
	// ErrSourceNotFound when it no longer exists.
	UpdateSourceStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error
	DeleteSource(ctx context.Context, id string) error
}

// ChunkStore persists chunks and their term postings, partitioned by chatbot.
type ChunkStore interface {
	// InsertChunks stores all chunks of a source or none of them. Re-inserting
	// the same (source_id, chunk_index) replaces the row.
	InsertChunks(ctx context.Context, chatbotID, sourceID string, chunks []models.Chunk, terms [][]models.ChunkTerm) error
	DeleteChunksBySource(ctx context.Context, chatbotID, sourceID string) (int, error)
	DeleteChunksByChatbot(ctx context.Context, chatbotID string) (int, error)
	CountChunksBySource(ctx context.Context, sourceID string) (int, error)

	// CorpusStats returns the number of queryable chunks and their mean token count.
	CorpusStats(ctx context.Context, chatbotID string) (n int, avgLen float64, err error)
	// Postings returns, for queryable chunks only, the postings of the given terms.
	Postings(ctx context.Context, chatbotID string, terms []string) ([]Posting, error)
	GetChunks(ctx context.Context, chatbotID string, ids []string) ([]models.Chunk, error)
}

// Posting is one (term, chunk) occurrence returned by ChunkStore.Postings.
type Posting struct {
	Term       string
	ChunkID    string
	TF         int
	TokenCount int
}

// ConversationStore persists conversations and messages.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// AppendMessage stores the message and bumps the conversation's message_count.
	AppendMessage(ctx context.Context, msg *models.Message) error
	// RecentMessages returns up to limit messages in chronological order,
	// skipping excludeID.
	RecentMessages(ctx context.Context, conversationID string, limit int, excludeID string) ([]models.Message, error)
}

// QuotaStore persists quota counters. Updates are atomic per call.
type QuotaStore interface {
	EnsureQuota(ctx context.Context, ownerID, planID string) (*models.QuotaCounters, error)
	GetQuota(ctx context.Context, ownerID string) (*models.QuotaCounters, error)
	AddQuota(ctx context.Context, ownerID string, r models.Resource, delta int) (int, error)
	// AddQuotaIfBelow increments only while the counter is below max.
	AddQuotaIfBelow(ctx context.Context, ownerID string, r models.Resource, delta, max int) (int, bool, error)
	ResetMonthly(ctx context.Context, ownerID string, at time.Time) error
	// RollOverMonthly resets only when last_reset_at is before at's month and
	// reports whether it did.
	RollOverMonthly(ctx context.Context, ownerID string, at time.Time) (bool, error)
	ResetAllMonthly(ctx context.Context, at time.Time) (int, error)
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	ChatbotStore
	SourceStore
	ChunkStore
	ConversationStore
	QuotaStore

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	StatFile(ctx context.Context, bucket, key string) (size int64, err error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
