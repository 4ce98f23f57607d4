package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
)

var _ core.DbClient = (*MemoryClient)(nil)

// MemoryClient is an in-process DbClient for development and tests. It keeps
// the same guarantees as the Postgres client: cascades, write-once source
// status, all-or-nothing chunk inserts and atomic counters.
type MemoryClient struct {
	mu sync.RWMutex

	chatbots map[string]models.Chatbot
	sources  map[string]models.Source

	chunks   map[string]models.Chunk
	bySource map[string]map[int]string            // source -> chunk_index -> chunk id
	terms    map[string][]models.ChunkTerm        // chunk id -> postings
	index    map[string]map[string]map[string]int // chatbot -> term -> chunk id -> tf

	conversations map[string]models.Conversation
	bySession     map[string]string // chatbot/session -> conversation id
	messages      map[string][]models.Message

	quotas map[string]models.QuotaCounters

	now func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		chatbots:      make(map[string]models.Chatbot),
		sources:       make(map[string]models.Source),
		chunks:        make(map[string]models.Chunk),
		bySource:      make(map[string]map[int]string),
		terms:         make(map[string][]models.ChunkTerm),
		index:         make(map[string]map[string]map[string]int),
		conversations: make(map[string]models.Conversation),
		bySession:     make(map[string]string),
		messages:      make(map[string][]models.Message),
		quotas:        make(map[string]models.QuotaCounters),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *MemoryClient) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryClient) Close() error { return nil }

// Chatbots

func (m *MemoryClient) CreateChatbot(_ context.Context, bot *models.Chatbot) error {
	if bot == nil {
		return fmt.Errorf("nil chatbot")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chatbots[bot.ID]; ok {
		return fmt.Errorf("chatbot %s already exists", bot.ID)
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = m.now()
	}
	bot.UpdatedAt = bot.CreatedAt
	m.chatbots[bot.ID] = *bot
	return nil
}

func (m *MemoryClient) GetChatbot(_ context.Context, id string) (*models.Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.chatbots[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryClient) ListChatbotsByOwner(_ context.Context, ownerID string) ([]models.Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Chatbot
	for _, b := range m.chatbots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryClient) DeleteChatbot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, s := range m.sources {
		if s.ChatbotID == id {
			m.deleteSourceLocked(sid)
		}
	}
	for cid, cv := range m.conversations {
		if cv.ChatbotID == id {
			delete(m.conversations, cid)
			delete(m.messages, cid)
			delete(m.bySession, sessionKey(cv.ChatbotID, cv.SessionID))
		}
	}
	delete(m.index, id)
	delete(m.chatbots, id)
	return nil
}

// Sources

func (m *MemoryClient) CreateSource(_ context.Context, src *models.Source) error {
	if src == nil {
		return fmt.Errorf("nil source")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chatbots[src.ChatbotID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrChatbotNotFound, src.ChatbotID)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = m.now()
	}
	src.UpdatedAt = src.CreatedAt
	m.sources[src.ID] = *src
	return nil
}

func (m *MemoryClient) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryClient) ListSourcesByChatbot(_ context.Context, chatbotID string) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Source
	for _, s := range m.sources {
		if s.ChatbotID == chatbotID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryClient) UpdateSourceStatus(_ context.Context, id string, status models.SourceStatus, errMsg string) error {
	if status == models.SourceStatusProcessing {
		return fmt.Errorf("%w: cannot move back to processing", core.ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSourceNotFound, id)
	}
	if s.Status != models.SourceStatusProcessing {
		return fmt.Errorf("%w: source %s is already terminal", core.ErrInvalidTransition, id)
	}
	s.Status = status
	s.ErrorMessage = errMsg
	s.UpdatedAt = m.now()
	m.sources[id] = s
	return nil
}

func (m *MemoryClient) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteSourceLocked(id)
	return nil
}

func (m *MemoryClient) deleteSourceLocked(id string) int {
	n := 0
	for _, cid := range m.bySource[id] {
		m.deleteChunkLocked(cid)
		n++
	}
	delete(m.bySource, id)
	delete(m.sources, id)
	return n
}

func (m *MemoryClient) deleteChunkLocked(chunkID string) {
	ch, ok := m.chunks[chunkID]
	if !ok {
		return
	}
	if idx := m.index[ch.ChatbotID]; idx != nil {
		for _, t := range m.terms[chunkID] {
			delete(idx[t.Term], chunkID)
			if len(idx[t.Term]) == 0 {
				delete(idx, t.Term)
			}
		}
	}
	delete(m.terms, chunkID)
	delete(m.chunks, chunkID)
}

// Chunks

func (m *MemoryClient) InsertChunks(_ context.Context, chatbotID, sourceID string, chunks []models.Chunk, terms [][]models.ChunkTerm) error {
	if len(terms) != 0 && len(terms) != len(chunks) {
		return fmt.Errorf("insert chunks: %d chunks but %d term lists", len(chunks), len(terms))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[sourceID]
	if !ok || src.ChatbotID != chatbotID {
		return fmt.Errorf("%w: %s", core.ErrSourceNotFound, sourceID)
	}
	for _, ch := range chunks {
		if ch.TokenCount <= 0 || ch.ChunkIndex < 0 {
			return fmt.Errorf("insert chunks: invalid chunk %d", ch.ChunkIndex)
		}
	}

	slots := m.bySource[sourceID]
	if slots == nil {
		slots = make(map[int]string)
		m.bySource[sourceID] = slots
	}
	for idx, cid := range slots {
		if idx >= len(chunks) {
			m.deleteChunkLocked(cid)
			delete(slots, idx)
		}
	}

	idx := m.index[chatbotID]
	if idx == nil {
		idx = make(map[string]map[string]int)
		m.index[chatbotID] = idx
	}
	now := m.now()
	for i, ch := range chunks {
		if old, ok := slots[ch.ChunkIndex]; ok {
			ch.ID = old
			m.deleteChunkLocked(old)
		}
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		ch.ChatbotID = chatbotID
		ch.SourceID = sourceID
		ch.CreatedAt = now
		m.chunks[ch.ID] = ch
		slots[ch.ChunkIndex] = ch.ID
		chunks[i].ID = ch.ID

		if len(terms) == 0 {
			continue
		}
		m.terms[ch.ID] = append([]models.ChunkTerm(nil), terms[i]...)
		for _, t := range terms[i] {
			post := idx[t.Term]
			if post == nil {
				post = make(map[string]int)
				idx[t.Term] = post
			}
			post[ch.ID] = t.TF
		}
	}
	return nil
}

func (m *MemoryClient) DeleteChunksBySource(_ context.Context, chatbotID, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceID]; ok && s.ChatbotID != chatbotID {
		return 0, nil
	}
	n := 0
	for _, cid := range m.bySource[sourceID] {
		m.deleteChunkLocked(cid)
		n++
	}
	delete(m.bySource, sourceID)
	return n, nil
}

func (m *MemoryClient) DeleteChunksByChatbot(_ context.Context, chatbotID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for sid, s := range m.sources {
		if s.ChatbotID != chatbotID {
			continue
		}
		for _, cid := range m.bySource[sid] {
			m.deleteChunkLocked(cid)
			n++
		}
		delete(m.bySource, sid)
	}
	return n, nil
}

func (m *MemoryClient) CountChunksBySource(_ context.Context, sourceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySource[sourceID]), nil
}

func (m *MemoryClient) queryableLocked(ch models.Chunk) bool {
	s, ok := m.sources[ch.SourceID]
	return ok && s.Status == models.SourceStatusProcessed && s.ChatbotID == ch.ChatbotID
}

func (m *MemoryClient) CorpusStats(_ context.Context, chatbotID string) (int, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n, total int
	for _, ch := range m.chunks {
		if ch.ChatbotID == chatbotID && m.queryableLocked(ch) {
			n++
			total += ch.TokenCount
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return n, float64(total) / float64(n), nil
}

func (m *MemoryClient) Postings(_ context.Context, chatbotID string, terms []string) ([]core.Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.index[chatbotID]
	var out []core.Posting
	for _, term := range terms {
		for cid, tf := range idx[term] {
			ch, ok := m.chunks[cid]
			if !ok || !m.queryableLocked(ch) {
				continue
			}
			out = append(out, core.Posting{Term: term, ChunkID: cid, TF: tf, TokenCount: ch.TokenCount})
		}
	}
	return out, nil
}

func (m *MemoryClient) GetChunks(_ context.Context, chatbotID string, ids []string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Chunk
	for _, id := range ids {
		if ch, ok := m.chunks[id]; ok && ch.ChatbotID == chatbotID {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Conversations

func sessionKey(chatbotID, sessionID string) string { return chatbotID + "/" + sessionID }

func (m *MemoryClient) UpsertConversation(_ context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv == nil {
		return nil, fmt.Errorf("nil conversation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chatbots[conv.ChatbotID]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrChatbotNotFound, conv.ChatbotID)
	}

	key := sessionKey(conv.ChatbotID, conv.SessionID)
	now := m.now()
	if id, ok := m.bySession[key]; ok {
		cv := m.conversations[id]
		if conv.UserName != "" {
			cv.UserName = conv.UserName
		}
		if conv.UserEmail != "" {
			cv.UserEmail = conv.UserEmail
		}
		cv.UpdatedAt = now
		m.conversations[id] = cv
		return &cv, nil
	}

	cv := *conv
	if cv.ID == "" {
		cv.ID = uuid.NewString()
	}
	if cv.Platform == "" {
		cv.Platform = "web"
	}
	cv.Status = "active"
	cv.MessageCount = 0
	cv.CreatedAt, cv.UpdatedAt = now, now
	m.conversations[cv.ID] = cv
	m.bySession[key] = cv.ID
	return &cv, nil
}

func (m *MemoryClient) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	return &cv, nil
}

func (m *MemoryClient) AppendMessage(_ context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrConversationNotFound, msg.ConversationID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	if list := m.messages[cv.ID]; len(list) > 0 {
		if last := list[len(list)-1].CreatedAt; !msg.CreatedAt.After(last) {
			msg.CreatedAt = last.Add(time.Microsecond)
		}
	}
	m.messages[cv.ID] = append(m.messages[cv.ID], *msg)
	cv.MessageCount++
	cv.UpdatedAt = m.now()
	m.conversations[cv.ID] = cv
	return nil
}

func (m *MemoryClient) RecentMessages(_ context.Context, conversationID string, limit int, excludeID string) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[conversationID]
	out := make([]models.Message, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].ID == excludeID {
			continue
		}
		out = append(out, all[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Quota

func (m *MemoryClient) EnsureQuota(_ context.Context, ownerID, planID string) (*models.QuotaCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[ownerID]
	if !ok {
		q = models.QuotaCounters{OwnerID: ownerID, PlanID: planID, LastResetAt: m.now()}
		m.quotas[ownerID] = q
	}
	return &q, nil
}

func (m *MemoryClient) GetQuota(_ context.Context, ownerID string) (*models.QuotaCounters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotas[ownerID]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

// SetPlan changes an owner's plan.
func (m *MemoryClient) SetPlan(ownerID, planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.quotas[ownerID]
	q.OwnerID = ownerID
	q.PlanID = planID
	if q.LastResetAt.IsZero() {
		q.LastResetAt = m.now()
	}
	m.quotas[ownerID] = q
}

// SetQuota replaces an owner's counters.
func (m *MemoryClient) SetQuota(q models.QuotaCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[q.OwnerID] = q
}

func counterRef(q *models.QuotaCounters, r models.Resource) (*int, error) {
	switch r {
	case models.ResourceChatbots:
		return &q.ChatbotsCount, nil
	case models.ResourceMessages:
		return &q.MessagesThisMonth, nil
	case models.ResourceFileUploads:
		return &q.FileUploadsCount, nil
	case models.ResourceWebsiteSources:
		return &q.WebsiteSourcesCount, nil
	case models.ResourceTextSources:
		return &q.TextSourcesCount, nil
	}
	return nil, fmt.Errorf("unknown resource %q", r)
}

func (m *MemoryClient) AddQuota(_ context.Context, ownerID string, r models.Resource, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[ownerID]
	if !ok {
		return 0, fmt.Errorf("no quota counters for owner %s", ownerID)
	}
	ref, err := counterRef(&q, r)
	if err != nil {
		return 0, err
	}
	*ref = max(*ref+delta, 0)
	m.quotas[ownerID] = q
	return *ref, nil
}

func (m *MemoryClient) AddQuotaIfBelow(_ context.Context, ownerID string, r models.Resource, delta, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[ownerID]
	if !ok {
		return 0, false, nil
	}
	ref, err := counterRef(&q, r)
	if err != nil {
		return 0, false, err
	}
	if limit >= 0 && *ref >= limit {
		return *ref, false, nil
	}
	*ref = max(*ref+delta, 0)
	m.quotas[ownerID] = q
	return *ref, true, nil
}

func (m *MemoryClient) ResetMonthly(_ context.Context, ownerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[ownerID]
	if !ok {
		return nil
	}
	q.MessagesThisMonth = 0
	q.LastResetAt = at
	m.quotas[ownerID] = q
	return nil
}

func (m *MemoryClient) RollOverMonthly(_ context.Context, ownerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[ownerID]
	if !ok || !q.LastResetAt.Before(MonthStart(at)) {
		return false, nil
	}
	q.MessagesThisMonth = 0
	q.LastResetAt = at
	m.quotas[ownerID] = q
	return true, nil
}

func (m *MemoryClient) ResetAllMonthly(_ context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := MonthStart(at)
	n := 0
	for id, q := range m.quotas {
		if !q.LastResetAt.Before(start) {
			continue
		}
		q.MessagesThisMonth = 0
		q.LastResetAt = at
		m.quotas[id] = q
		n++
	}
	return n, nil
}
