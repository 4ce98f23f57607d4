package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
)

func seedBot(t *testing.T, m *MemoryClient, id string) {
	t.Helper()
	require.NoError(t, m.CreateChatbot(context.Background(), &models.Chatbot{ID: id, OwnerID: "owner-" + id, Provider: "openai_like", Model: "m"}))
}

func seedSource(t *testing.T, m *MemoryClient, botID, srcID string) {
	t.Helper()
	require.NoError(t, m.CreateSource(context.Background(), &models.Source{
		ID: srcID, ChatbotID: botID, Kind: models.SourceKindText, DisplayName: srcID, Status: models.SourceStatusProcessing,
	}))
}

func chunkSet(n int) ([]models.Chunk, [][]models.ChunkTerm) {
	chunks := make([]models.Chunk, n)
	terms := make([][]models.ChunkTerm, n)
	for i := range chunks {
		chunks[i] = models.Chunk{ChunkIndex: i, Text: "paris", TokenCount: 5}
		terms[i] = []models.ChunkTerm{{Term: "pari", TF: 1}}
	}
	return chunks, terms
}

func TestMemorySourceStatusIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")

	require.NoError(t, m.UpdateSourceStatus(ctx, "s1", models.SourceStatusProcessed, ""))
	err := m.UpdateSourceStatus(ctx, "s1", models.SourceStatusFailed, "late")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	s, err := m.GetSource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusProcessed, s.Status)

	assert.ErrorIs(t, m.UpdateSourceStatus(ctx, "missing", models.SourceStatusFailed, ""), core.ErrSourceNotFound)
}

func TestMemoryOnlyProcessedChunksAreQueryable(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")

	chunks, terms := chunkSet(2)
	require.NoError(t, m.InsertChunks(ctx, "b1", "s1", chunks, terms))

	n, _, err := m.CorpusStats(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, n)
	post, err := m.Postings(ctx, "b1", []string{"pari"})
	require.NoError(t, err)
	assert.Empty(t, post)

	require.NoError(t, m.UpdateSourceStatus(ctx, "s1", models.SourceStatusProcessed, ""))
	n, avg, err := m.CorpusStats(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 5.0, avg, 1e-9)
	post, err = m.Postings(ctx, "b1", []string{"pari"})
	require.NoError(t, err)
	assert.Len(t, post, 2)
}

func TestMemoryInsertChunksIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")

	chunks, terms := chunkSet(3)
	require.NoError(t, m.InsertChunks(ctx, "b1", "s1", chunks, terms))
	chunks, terms = chunkSet(3)
	require.NoError(t, m.InsertChunks(ctx, "b1", "s1", chunks, terms))
	n, err := m.CountChunksBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunks, terms = chunkSet(1)
	require.NoError(t, m.InsertChunks(ctx, "b1", "s1", chunks, terms))
	n, err = m.CountChunksBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryInsertChunksRejectsDeletedSource(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")
	require.NoError(t, m.DeleteSource(ctx, "s1"))

	chunks, terms := chunkSet(2)
	err := m.InsertChunks(ctx, "b1", "s1", chunks, terms)
	assert.ErrorIs(t, err, core.ErrSourceNotFound)
	assert.Empty(t, m.chunks)
}

func TestMemoryInsertChunksRejectsForeignChatbot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedBot(t, m, "b2")
	seedSource(t, m, "b1", "s1")

	chunks, terms := chunkSet(1)
	assert.ErrorIs(t, m.InsertChunks(ctx, "b2", "s1", chunks, terms), core.ErrSourceNotFound)
}

func TestMemoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")
	seedSource(t, m, "b1", "s2")
	for _, s := range []string{"s1", "s2"} {
		chunks, terms := chunkSet(2)
		for i := range chunks {
			chunks[i].ID = s + "-" + string(rune('a'+i))
		}
		require.NoError(t, m.InsertChunks(ctx, "b1", s, chunks, terms))
	}

	require.NoError(t, m.DeleteSource(ctx, "s1"))
	n, err := m.CountChunksBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	conv, err := m.UpsertConversation(ctx, &models.Conversation{ChatbotID: "b1", SessionID: "sess"})
	require.NoError(t, err)
	require.NoError(t, m.AppendMessage(ctx, &models.Message{ConversationID: conv.ID, ChatbotID: "b1", Role: models.RoleUser, Content: "hi"}))

	require.NoError(t, m.DeleteChatbot(ctx, "b1"))
	assert.Empty(t, m.chunks)
	assert.Empty(t, m.sources)
	assert.Empty(t, m.conversations)
	assert.Empty(t, m.messages)
}

func TestMemoryDeleteChunksByChatbot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	seedBot(t, m, "b1")
	seedSource(t, m, "b1", "s1")
	chunks, terms := chunkSet(4)
	require.NoError(t, m.InsertChunks(ctx, "b1", "s1", chunks, terms))

	n, err := m.DeleteChunksByChatbot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMemoryConversationUpsertAndOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })
	seedBot(t, m, "b1")

	first, err := m.UpsertConversation(ctx, &models.Conversation{ChatbotID: "b1", SessionID: "s", UserName: "Ada"})
	require.NoError(t, err)
	again, err := m.UpsertConversation(ctx, &models.Conversation{ChatbotID: "b1", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Ada", again.UserName)

	var ids []string
	for i := 0; i < 4; i++ {
		msg := &models.Message{ConversationID: first.ID, ChatbotID: "b1", Role: models.RoleUser, Content: "m"}
		require.NoError(t, m.AppendMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	recent, err := m.RecentMessages(ctx, first.ID, 2, ids[3])
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[1], recent[0].ID)
	assert.Equal(t, ids[2], recent[1].ID)
	assert.True(t, recent[1].CreatedAt.After(recent[0].CreatedAt))

	conv, err := m.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, conv.MessageCount)

	err = m.AppendMessage(ctx, &models.Message{ConversationID: "nope", Role: models.RoleUser})
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestMemoryQuotaCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	_, err := m.EnsureQuota(ctx, "o1", "free")
	require.NoError(t, err)

	v, err := m.AddQuota(ctx, "o1", models.ResourceMessages, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	v, err = m.AddQuota(ctx, "o1", models.ResourceMessages, -5)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, ok, err := m.AddQuotaIfBelow(ctx, "o1", models.ResourceChatbots, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok, err = m.AddQuotaIfBelow(ctx, "o1", models.ResourceChatbots, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = m.AddQuotaIfBelow(ctx, "o1", models.ResourceChatbots, 1, -1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryResetAllMonthly(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	march := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	m.SetQuota(models.QuotaCounters{OwnerID: "old", PlanID: "free", MessagesThisMonth: 40, LastResetAt: march})
	m.SetQuota(models.QuotaCounters{OwnerID: "fresh", PlanID: "free", MessagesThisMonth: 6, LastResetAt: april})

	n, err := m.ResetAllMonthly(ctx, april)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q, err := m.GetQuota(ctx, "old")
	require.NoError(t, err)
	assert.Zero(t, q.MessagesThisMonth)
	q, err = m.GetQuota(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 6, q.MessagesThisMonth)
}

func TestMemoryRollOverMonthlyKeepsCurrentMonth(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()
	march := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	m.SetQuota(models.QuotaCounters{OwnerID: "o1", PlanID: "free", MessagesThisMonth: 40, LastResetAt: march})

	rolled, err := m.RollOverMonthly(ctx, "o1", april)
	require.NoError(t, err)
	assert.True(t, rolled)

	_, err = m.AddQuota(ctx, "o1", models.ResourceMessages, 2)
	require.NoError(t, err)

	rolled, err = m.RollOverMonthly(ctx, "o1", april)
	require.NoError(t, err)
	assert.False(t, rolled)
	q, err := m.GetQuota(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, q.MessagesThisMonth)

	rolled, err = m.RollOverMonthly(ctx, "missing", april)
	require.NoError(t, err)
	assert.False(t, rolled)
}
