package models

import (
	"time"
)

// SourceKind tells the extractor how to turn a source payload into text.
type SourceKind string

const (
	SourceKindFile    SourceKind = "file"
	SourceKindWebsite SourceKind = "website"
	SourceKindText    SourceKind = "text"
)

// SourceStatus is the ingestion state of a source. Only processing may transition.
type SourceStatus string

const (
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusProcessed  SourceStatus = "processed"
	SourceStatusFailed     SourceStatus = "failed"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Resource names a metered quota counter.
type Resource string

const (
	ResourceChatbots       Resource = "chatbots"
	ResourceMessages       Resource = "messages"
	ResourceFileUploads    Resource = "file_uploads"
	ResourceWebsiteSources Resource = "website_sources"
	ResourceTextSources    Resource = "text_sources"
)

// ResourceForKind maps a source kind to the counter it consumes.
func ResourceForKind(kind SourceKind) Resource {
	switch kind {
	case SourceKindWebsite:
		return ResourceWebsiteSources
	case SourceKindText:
		return ResourceTextSources
	default:
		return ResourceFileUploads
	}
}

// Chatbot is a tenant-scoped assistant owning its sources and conversations.
type Chatbot struct {
	ID                 string    `db:"id" json:"id"`
	OwnerID            string    `db:"owner_id" json:"owner_id"`
	Name               string    `db:"name" json:"name"`
	Provider           string    `db:"provider" json:"provider"` // openai_like | anthropic_like | google_like
	Model              string    `db:"model" json:"model"`
	Temperature        float64   `db:"temperature" json:"temperature"`
	SystemInstructions string    `db:"system_instructions" json:"system_instructions"`
	WelcomeMessage     string    `db:"welcome_message" json:"welcome_message"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Source is one unit of knowledge attached to a chatbot.
type Source struct {
	ID           string       `db:"id" json:"id"`
	ChatbotID    string       `db:"chatbot_id" json:"chatbot_id"`
	Kind         SourceKind   `db:"kind" json:"kind"`
	DisplayName  string       `db:"display_name" json:"display_name"`
	URL          string       `db:"url" json:"url,omitempty"`
	BlobKey      string       `db:"blob_key" json:"-"`
	SizeBytes    int64        `db:"size_bytes" json:"size_bytes"`
	Status       SourceStatus `db:"status" json:"status"`
	ErrorMessage string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// Chunk is a contiguous span of a source's text.
type Chunk struct {
	ID          string     `db:"id" json:"id"`
	ChatbotID   string     `db:"chatbot_id" json:"chatbot_id"`
	SourceID    string     `db:"source_id" json:"source_id"`
	ChunkIndex  int        `db:"chunk_index" json:"chunk_index"`
	Text        string     `db:"text" json:"text"`
	TokenCount  int        `db:"token_count" json:"token_count"`
	SourceKind  SourceKind `db:"source_kind" json:"source_kind"`
	DisplayName string     `db:"display_name" json:"display_name"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ChunkTerm is one posting of the inverted index: term frequency of a term in a chunk.
type ChunkTerm struct {
	ChunkID string
	Term    string
	TF      int
}

// Conversation groups the messages of one (chatbot, session) pair.
type Conversation struct {
	ID           string    `db:"id" json:"id"`
	ChatbotID    string    `db:"chatbot_id" json:"chatbot_id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	UserName     string    `db:"user_name" json:"user_name,omitempty"`
	UserEmail    string    `db:"user_email" json:"user_email,omitempty"`
	Platform     string    `db:"platform" json:"platform"`
	Status       string    `db:"status" json:"status"`
	MessageCount int       `db:"message_count" json:"message_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Message is a single persisted turn.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	ChatbotID      string    `db:"chatbot_id" json:"chatbot_id"`
	Role           Role      `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// QuotaCounters holds the usage of one owner.
type QuotaCounters struct {
	OwnerID             string    `db:"owner_id" json:"owner_id"`
	PlanID              string    `db:"plan_id" json:"plan_id"`
	MessagesThisMonth   int       `db:"messages_this_month" json:"messages_this_month"`
	ChatbotsCount       int       `db:"chatbots_count" json:"chatbots_count"`
	FileUploadsCount    int       `db:"file_uploads_count" json:"file_uploads_count"`
	WebsiteSourcesCount int       `db:"website_sources_count" json:"website_sources_count"`
	TextSourcesCount    int       `db:"text_sources_count" json:"text_sources_count"`
	LastResetAt         time.Time `db:"last_reset_at" json:"last_reset_at"`
}

// Value returns the counter backing a resource.
func (q QuotaCounters) Value(r Resource) int {
	switch r {
	case ResourceChatbots:
		return q.ChatbotsCount
	case ResourceMessages:
		return q.MessagesThisMonth
	case ResourceFileUploads:
		return q.FileUploadsCount
	case ResourceWebsiteSources:
		return q.WebsiteSourcesCount
	case ResourceTextSources:
		return q.TextSourcesCount
	}
	return 0
}

// PlanLimits are the per-resource caps of a plan. -1 means unlimited.
type PlanLimits struct {
	MaxChatbots         int `mapstructure:"max_chatbots" json:"max_chatbots"`
	MaxMessagesPerMonth int `mapstructure:"max_messages_per_month" json:"max_messages_per_month"`
	MaxFileUploads      int `mapstructure:"max_file_uploads" json:"max_file_uploads"`
	MaxWebsiteSources   int `mapstructure:"max_website_sources" json:"max_website_sources"`
	MaxTextSources      int `mapstructure:"max_text_sources" json:"max_text_sources"`
}

// Limit returns the cap of a resource.
func (l PlanLimits) Limit(r Resource) int {
	switch r {
	case ResourceChatbots:
		return l.MaxChatbots
	case ResourceMessages:
		return l.MaxMessagesPerMonth
	case ResourceFileUploads:
		return l.MaxFileUploads
	case ResourceWebsiteSources:
		return l.MaxWebsiteSources
	case ResourceTextSources:
		return l.MaxTextSources
	}
	return 0
}

// Citation attributes part of an answer to a retrieved chunk.
type Citation struct {
	Rank        int        `json:"rank"`
	SourceID    string     `json:"source_id"`
	ChunkID     string     `json:"chunk_id"`
	DisplayName string     `json:"display_name"`
	Kind        SourceKind `json:"kind"`
	ChunkIndex  int        `json:"chunk_index"`
	Confidence  float64    `json:"confidence"`
}
