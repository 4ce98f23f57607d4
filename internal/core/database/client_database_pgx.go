package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

// NewDatabaseClient opens the pool, pings it and applies migrations when enabled.
func NewDatabaseClient(ctx context.Context, cfg config.PostgresConfig) (*DatabaseClient, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	dsn, err := withSSL(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	db.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(dsn, "up", 0); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	return &DatabaseClient{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

// withSSL appends verify-ca parameters when a root certificate is configured.
func withSSL(dsn, certPath string) (string, error) {
	if certPath == "" {
		return dsn, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Chatbots

const (
	qInsertChatbot = `INSERT INTO chatbots (id, owner_id, name, provider, model, temperature, system_instructions, welcome_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	qGetChatbot = `SELECT id, owner_id, name, provider, model, temperature, system_instructions, welcome_message, created_at, updated_at
FROM chatbots WHERE id = $1`
	qListChatbots = `SELECT id, owner_id, name, provider, model, temperature, system_instructions, welcome_message, created_at, updated_at
FROM chatbots WHERE owner_id = $1 ORDER BY created_at DESC`
	qDeleteChatbot = `DELETE FROM chatbots WHERE id = $1`
)

func (c *DatabaseClient) CreateChatbot(ctx context.Context, bot *models.Chatbot) error {
	if bot == nil {
		return errors.New("nil chatbot")
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now().UTC()
	}
	bot.UpdatedAt = bot.CreatedAt
	_, err := c.db.ExecContext(ctx, qInsertChatbot,
		bot.ID, bot.OwnerID, bot.Name, bot.Provider, bot.Model, bot.Temperature,
		bot.SystemInstructions, bot.WelcomeMessage, bot.CreatedAt)
	return err
}

func scanChatbot(row interface{ Scan(...any) error }) (*models.Chatbot, error) {
	var b models.Chatbot
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Provider, &b.Model, &b.Temperature,
		&b.SystemInstructions, &b.WelcomeMessage, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *DatabaseClient) GetChatbot(ctx context.Context, id string) (*models.Chatbot, error) {
	b, err := scanChatbot(c.db.QueryRowContext(ctx, qGetChatbot, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (c *DatabaseClient) ListChatbotsByOwner(ctx context.Context, ownerID string) ([]models.Chatbot, error) {
	rows, err := c.db.QueryContext(ctx, qListChatbots, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chatbot
	for rows.Next() {
		b, err := scanChatbot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DeleteChatbot removes the chatbot; sources, chunks and conversations cascade.
func (c *DatabaseClient) DeleteChatbot(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, qDeleteChatbot, id)
	return err
}

// Sources

const (
	qInsertSource = `INSERT INTO sources (id, chatbot_id, kind, display_name, url, blob_key, size_bytes, status, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	qGetSource = `SELECT id, chatbot_id, kind, display_name, url, blob_key, size_bytes, status, error_message, created_at, updated_at
FROM sources WHERE id = $1`
	qListSources = `SELECT id, chatbot_id, kind, display_name, url, blob_key, size_bytes, status, error_message, created_at, updated_at
FROM sources WHERE chatbot_id = $1 ORDER BY created_at ASC`
	qUpdateSourceStatus = `UPDATE sources SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1 AND status = 'processing'`
	qSourceExists = `SELECT EXISTS (SELECT 1 FROM sources WHERE id = $1)`
	qDeleteSource = `DELETE FROM sources WHERE id = $1`
)

func (c *DatabaseClient) CreateSource(ctx context.Context, src *models.Source) error {
	if src == nil {
		return errors.New("nil source")
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	src.UpdatedAt = src.CreatedAt
	_, err := c.db.ExecContext(ctx, qInsertSource,
		src.ID, src.ChatbotID, src.Kind, src.DisplayName, src.URL, src.BlobKey, src.SizeBytes,
		src.Status, src.ErrorMessage, src.CreatedAt)
	return err
}

func scanSource(row interface{ Scan(...any) error }) (*models.Source, error) {
	var s models.Source
	err := row.Scan(&s.ID, &s.ChatbotID, &s.Kind, &s.DisplayName, &s.URL, &s.BlobKey, &s.SizeBytes,
		&s.Status, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) GetSource(ctx context.Context, id string) (*models.Source, error) {
	s, err := scanSource(c.db.QueryRowContext(ctx, qGetSource, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (c *DatabaseClient) ListSourcesByChatbot(ctx context.Context, chatbotID string) ([]models.Source, error) {
	rows, err := c.db.QueryContext(ctx, qListSources, chatbotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateSourceStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error {
	if status == models.SourceStatusProcessing {
		return fmt.Errorf("%w: cannot move back to processing", core.ErrInvalidTransition)
	}
	res, err := c.db.ExecContext(ctx, qUpdateSourceStatus, id, status, errMsg)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx, qSourceExists, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrSourceNotFound, id)
	}
	return fmt.Errorf("%w: source %s is already terminal", core.ErrInvalidTransition, id)
}

// DeleteSource removes the source row; its chunks and postings cascade.
func (c *DatabaseClient) DeleteSource(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, qDeleteSource, id)
	return err
}

// Chunks

const (
	qLockSource  = `SELECT chatbot_id FROM sources WHERE id = $1 FOR UPDATE`
	qUpsertChunk = `INSERT INTO chunks (id, chatbot_id, source_id, chunk_index, text, token_count, source_kind, display_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (source_id, chunk_index) DO UPDATE
SET text = EXCLUDED.text, token_count = EXCLUDED.token_count, display_name = EXCLUDED.display_name
RETURNING id`
	qClearChunkTerms       = `DELETE FROM chunk_terms WHERE chunk_id = $1`
	qInsertChunkTerm       = `INSERT INTO chunk_terms (chunk_id, chatbot_id, term, tf) VALUES ($1, $2, $3, $4)`
	qTrimChunks            = `DELETE FROM chunks WHERE source_id = $1 AND chunk_index >= $2`
	qDeleteChunksBySource  = `DELETE FROM chunks WHERE chatbot_id = $1 AND source_id = $2`
	qDeleteChunksByChatbot = `DELETE FROM chunks WHERE chatbot_id = $1`
	qCountChunksBySource   = `SELECT COUNT(*) FROM chunks WHERE source_id = $1`
	qCorpusStats           = `SELECT COUNT(*), COALESCE(AVG(c.token_count), 0)
FROM chunks c JOIN sources s ON s.id = c.source_id
WHERE c.chatbot_id = $1 AND s.status = 'processed'`
	qPostings = `SELECT t.term, t.chunk_id, t.tf, c.token_count
FROM chunk_terms t
JOIN chunks c ON c.id = t.chunk_id
JOIN sources s ON s.id = c.source_id
WHERE t.chatbot_id = $1 AND t.term = ANY($2) AND s.status = 'processed'`
	qGetChunks = `SELECT id, chatbot_id, source_id, chunk_index, text, token_count, source_kind, display_name, created_at
FROM chunks WHERE chatbot_id = $1 AND id = ANY($2)`
)

// InsertChunks writes every chunk of a source and its postings in one
// transaction holding the source row lock. A deleted source aborts the write.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chatbotID, sourceID string, chunks []models.Chunk, terms [][]models.ChunkTerm) error {
	if len(terms) != 0 && len(terms) != len(chunks) {
		return fmt.Errorf("insert chunks: %d chunks but %d term lists", len(chunks), len(terms))
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, qLockSource, sourceID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrSourceNotFound, sourceID)
	}
	if err != nil {
		return fmt.Errorf("lock source: %w", err)
	}
	if owner != chatbotID {
		return fmt.Errorf("%w: %s does not belong to chatbot %s", core.ErrSourceNotFound, sourceID, chatbotID)
	}

	chunkStmt, err := tx.PrepareContext(ctx, qUpsertChunk)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()
	termStmt, err := tx.PrepareContext(ctx, qInsertChunkTerm)
	if err != nil {
		return err
	}
	defer termStmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var id string
		if err := chunkStmt.QueryRowContext(ctx,
			ch.ID, chatbotID, sourceID, ch.ChunkIndex, ch.Text, ch.TokenCount, ch.SourceKind, ch.DisplayName,
		).Scan(&id); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", ch.ChunkIndex, err)
		}
		ch.ID = id
		if _, err := tx.ExecContext(ctx, qClearChunkTerms, id); err != nil {
			return fmt.Errorf("clear terms: %w", err)
		}
		if len(terms) == 0 {
			continue
		}
		for _, t := range terms[i] {
			if _, err := termStmt.ExecContext(ctx, id, chatbotID, t.Term, t.TF); err != nil {
				return fmt.Errorf("insert term: %w", err)
			}
		}
	}
	// a shorter re-ingest leaves no stale tail.
	if _, err := tx.ExecContext(ctx, qTrimChunks, sourceID, len(chunks)); err != nil {
		return fmt.Errorf("trim chunks: %w", err)
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteChunksBySource(ctx context.Context, chatbotID, sourceID string) (int, error) {
	res, err := c.db.ExecContext(ctx, qDeleteChunksBySource, chatbotID, sourceID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *DatabaseClient) DeleteChunksByChatbot(ctx context.Context, chatbotID string) (int, error) {
	res, err := c.db.ExecContext(ctx, qDeleteChunksByChatbot, chatbotID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *DatabaseClient) CountChunksBySource(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, qCountChunksBySource, sourceID).Scan(&n)
	return n, err
}

func (c *DatabaseClient) CorpusStats(ctx context.Context, chatbotID string) (int, float64, error) {
	var (
		n   int
		avg float64
	)
	if err := c.db.QueryRowContext(ctx, qCorpusStats, chatbotID).Scan(&n, &avg); err != nil {
		return 0, 0, err
	}
	return n, avg, nil
}

func (c *DatabaseClient) Postings(ctx context.Context, chatbotID string, terms []string) ([]core.Posting, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, qPostings, chatbotID, terms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Posting
	for rows.Next() {
		var p core.Posting
		if err := rows.Scan(&p.Term, &p.ChunkID, &p.TF, &p.TokenCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetChunks(ctx context.Context, chatbotID string, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, qGetChunks, chatbotID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.ChatbotID, &ch.SourceID, &ch.ChunkIndex, &ch.Text, &ch.TokenCount,
			&ch.SourceKind, &ch.DisplayName, &ch.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Conversations

const (
	qUpsertConversation = `INSERT INTO conversations (id, chatbot_id, session_id, user_name, user_email, platform, status, message_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'active', 0, now(), now())
ON CONFLICT (chatbot_id, session_id) DO UPDATE
SET user_name = COALESCE(NULLIF(EXCLUDED.user_name, ''), conversations.user_name),
    user_email = COALESCE(NULLIF(EXCLUDED.user_email, ''), conversations.user_email),
    updated_at = now()
RETURNING id, chatbot_id, session_id, user_name, user_email, platform, status, message_count, created_at, updated_at`
	qGetConversation = `SELECT id, chatbot_id, session_id, user_name, user_email, platform, status, message_count, created_at, updated_at
FROM conversations WHERE id = $1`
	qInsertMessage = `INSERT INTO messages (id, conversation_id, chatbot_id, role, content, created_at)
SELECT $1, $2, $3, $4, $5, GREATEST($6::timestamptz, COALESCE(MAX(created_at) + interval '1 microsecond', $6::timestamptz))
FROM messages WHERE conversation_id = $2
RETURNING created_at`
	qBumpMessageCount = `UPDATE conversations SET message_count = message_count + 1, updated_at = now() WHERE id = $1`
	qRecentMessages   = `SELECT id, conversation_id, chatbot_id, role, content, created_at FROM (
    SELECT id, conversation_id, chatbot_id, role, content, created_at
    FROM messages WHERE conversation_id = $1 AND id <> $2
    ORDER BY created_at DESC LIMIT $3
) recent ORDER BY created_at ASC`
)

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var cv models.Conversation
	err := row.Scan(&cv.ID, &cv.ChatbotID, &cv.SessionID, &cv.UserName, &cv.UserEmail, &cv.Platform,
		&cv.Status, &cv.MessageCount, &cv.CreatedAt, &cv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// UpsertConversation returns the conversation of (chatbot_id, session_id),
// creating it on first contact.
func (c *DatabaseClient) UpsertConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv == nil {
		return nil, errors.New("nil conversation")
	}
	platform := conv.Platform
	if platform == "" {
		platform = "web"
	}
	return scanConversation(c.db.QueryRowContext(ctx, qUpsertConversation,
		conv.ID, conv.ChatbotID, conv.SessionID, conv.UserName, conv.UserEmail, platform))
}

func (c *DatabaseClient) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	cv, err := scanConversation(c.db.QueryRowContext(ctx, qGetConversation, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cv, err
}

// AppendMessage inserts the message with a timestamp strictly after the
// conversation's latest one and bumps message_count in the same transaction.
func (c *DatabaseClient) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, qBumpMessageCount, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("bump message count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrConversationNotFound, msg.ConversationID)
	}
	if err := tx.QueryRowContext(ctx, qInsertMessage,
		msg.ID, msg.ConversationID, msg.ChatbotID, msg.Role, msg.Content, msg.CreatedAt,
	).Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

func (c *DatabaseClient) RecentMessages(ctx context.Context, conversationID string, limit int, excludeID string) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, qRecentMessages, conversationID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ChatbotID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Quota

const (
	qEnsureQuota = `INSERT INTO quota_counters (owner_id, plan_id, last_reset_at) VALUES ($1, $2, now())
ON CONFLICT (owner_id) DO NOTHING`
	qGetQuota = `SELECT owner_id, plan_id, messages_this_month, chatbots_count, file_uploads_count,
       website_sources_count, text_sources_count, last_reset_at
FROM quota_counters WHERE owner_id = $1`
	qResetMonthly    = `UPDATE quota_counters SET messages_this_month = 0, last_reset_at = $2 WHERE owner_id = $1`
	qRollOverMonthly = `UPDATE quota_counters SET messages_this_month = 0, last_reset_at = $2
WHERE owner_id = $1 AND last_reset_at < $3`
	qResetAllMonthly = `UPDATE quota_counters SET messages_this_month = 0, last_reset_at = $1 WHERE last_reset_at < $2`
)

var quotaColumns = map[models.Resource]string{
	models.ResourceChatbots:       "chatbots_count",
	models.ResourceMessages:       "messages_this_month",
	models.ResourceFileUploads:    "file_uploads_count",
	models.ResourceWebsiteSources: "website_sources_count",
	models.ResourceTextSources:    "text_sources_count",
}

// addQuotaQuery floors at zero so decrements never go negative.
func addQuotaQuery(col string) string {
	return fmt.Sprintf(`UPDATE quota_counters SET %[1]s = GREATEST(%[1]s + $2, 0) WHERE owner_id = $1 RETURNING %[1]s`, col)
}

func addQuotaIfBelowQuery(col string) string {
	return fmt.Sprintf(`UPDATE quota_counters SET %[1]s = %[1]s + $2 WHERE owner_id = $1 AND %[1]s < $3 RETURNING %[1]s`, col)
}

func (c *DatabaseClient) EnsureQuota(ctx context.Context, ownerID, planID string) (*models.QuotaCounters, error) {
	if _, err := c.db.ExecContext(ctx, qEnsureQuota, ownerID, planID); err != nil {
		return nil, fmt.Errorf("ensure quota: %w", err)
	}
	return c.GetQuota(ctx, ownerID)
}

func (c *DatabaseClient) GetQuota(ctx context.Context, ownerID string) (*models.QuotaCounters, error) {
	var q models.QuotaCounters
	err := c.db.QueryRowContext(ctx, qGetQuota, ownerID).Scan(&q.OwnerID, &q.PlanID, &q.MessagesThisMonth,
		&q.ChatbotsCount, &q.FileUploadsCount, &q.WebsiteSourcesCount, &q.TextSourcesCount, &q.LastResetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *DatabaseClient) AddQuota(ctx context.Context, ownerID string, r models.Resource, delta int) (int, error) {
	col, ok := quotaColumns[r]
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", r)
	}
	var v int
	err := c.db.QueryRowContext(ctx, addQuotaQuery(col), ownerID, delta).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no quota counters for owner %s", ownerID)
	}
	return v, err
}

func (c *DatabaseClient) AddQuotaIfBelow(ctx context.Context, ownerID string, r models.Resource, delta, limit int) (int, bool, error) {
	if limit < 0 {
		v, err := c.AddQuota(ctx, ownerID, r, delta)
		return v, err == nil, err
	}
	col, ok := quotaColumns[r]
	if !ok {
		return 0, false, fmt.Errorf("unknown resource %q", r)
	}
	var v int
	err := c.db.QueryRowContext(ctx, addQuotaIfBelowQuery(col), ownerID, delta, limit).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *DatabaseClient) ResetMonthly(ctx context.Context, ownerID string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, qResetMonthly, ownerID, at)
	return err
}

func (c *DatabaseClient) RollOverMonthly(ctx context.Context, ownerID string, at time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx, qRollOverMonthly, ownerID, at, MonthStart(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetAllMonthly zeroes message counters not yet reset in at's month.
func (c *DatabaseClient) ResetAllMonthly(ctx context.Context, at time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, qResetAllMonthly, at, MonthStart(at))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MonthStart is the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
