package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/ingestion_engine"
	"github.com/markdave123-py/chatbase/internal/core/quota"
	"github.com/markdave123-py/chatbase/internal/models"
)

// textObjectName is the blob name of pasted text sources.
const textObjectName = "content.txt"

// SourceSpec describes a new source. Data carries the file bytes or the
// pasted text; URL is only read for websites.
type SourceSpec struct {
	Kind        models.SourceKind
	Name        string
	Filename    string
	ContentType string
	Data        []byte
	URL         string
}

type SourceService struct {
	db       core.DbClient
	storage  core.ObjectClient
	bucket   string
	ledger   *quota.Ledger
	ingestor ingestion_engine.Ingestor
	logger   *log.Logger
}

func NewSourceService(db core.DbClient, storage core.ObjectClient, bucket string, ledger *quota.Ledger, ing ingestion_engine.Ingestor, logger *log.Logger) *SourceService {
	if logger == nil {
		logger = log.Default()
	}
	return &SourceService{db: db, storage: storage, bucket: bucket, ledger: ledger, ingestor: ing, logger: logger}
}

// Ingest stores the payload, records the source as processing and queues
// extraction. The kind's quota counter is taken before anything is written
// and given back if a later step fails.
func (s *SourceService) Ingest(ctx context.Context, ownerID, chatbotID string, spec SourceSpec) (*models.Source, error) {
	bot, err := ownedChatbot(ctx, s.db, ownerID, chatbotID)
	if err != nil {
		return nil, err
	}
	if err := normalizeSpec(&spec); err != nil {
		return nil, err
	}

	resource := models.ResourceForKind(spec.Kind)
	if _, err := s.ledger.IncrementIfBelow(ctx, ownerID, resource, 1); err != nil {
		return nil, err
	}
	refund := func() {
		if _, err := s.ledger.Decrement(context.WithoutCancel(ctx), ownerID, resource, 1); err != nil {
			s.logger.Printf("SourceService: quota refund failed owner=%s resource=%s: %v", ownerID, resource, err)
		}
	}

	src := &models.Source{
		ID:          uuid.NewString(),
		ChatbotID:   bot.ID,
		Kind:        spec.Kind,
		DisplayName: spec.Name,
		URL:         spec.URL,
		SizeBytes:   int64(len(spec.Data)),
		Status:      models.SourceStatusProcessing,
	}
	if spec.Kind != models.SourceKindWebsite {
		src.BlobKey = s.objectKey(bot.ID, src.ID, spec.Filename)
		uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		_, err := s.storage.UploadFile(uploadCtx, s.bucket, src.BlobKey, spec.Data, spec.ContentType)
		cancel()
		if err != nil {
			refund()
			return nil, fmt.Errorf("upload payload: %w", err)
		}
	}

	if err := s.db.CreateSource(ctx, src); err != nil {
		refund()
		s.deleteBlob(ctx, src)
		return nil, fmt.Errorf("create source: %w", err)
	}

	s.ingestor.Enqueue(ingestion_engine.Job{
		SourceID:    src.ID,
		ChatbotID:   bot.ID,
		Kind:        src.Kind,
		DisplayName: src.DisplayName,
		Filename:    spec.Filename,
		URL:         src.URL,
		BlobKey:     src.BlobKey,
	})
	s.logger.Printf("SourceService: queued %s source %s for chatbot %s", src.Kind, src.ID, bot.ID)
	return src, nil
}

// List returns the sources of a chatbot owned by ownerID.
func (s *SourceService) List(ctx context.Context, ownerID, chatbotID string) ([]models.Source, error) {
	if _, err := ownedChatbot(ctx, s.db, ownerID, chatbotID); err != nil {
		return nil, err
	}
	return s.db.ListSourcesByChatbot(ctx, chatbotID)
}

// Lookup returns one source, including its status and failure message.
func (s *SourceService) Lookup(ctx context.Context, ownerID, sourceID string) (*models.Source, error) {
	src, err := s.db.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrSourceNotFound, sourceID)
	}
	if _, err := ownedChatbot(ctx, s.db, ownerID, src.ChatbotID); err != nil {
		return nil, err
	}
	return src, nil
}

// Delete aborts any running ingestion, removes the source with its chunks
// and payload, and releases its quota slot.
func (s *SourceService) Delete(ctx context.Context, ownerID, sourceID string) error {
	src, err := s.Lookup(ctx, ownerID, sourceID)
	if err != nil {
		return err
	}
	s.ingestor.Abort(src.ID)
	if err := s.db.DeleteSource(ctx, src.ID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	s.deleteBlob(ctx, src)
	if _, err := s.ledger.Decrement(ctx, ownerID, models.ResourceForKind(src.Kind), 1); err != nil {
		s.logger.Printf("SourceService: quota release failed owner=%s source=%s: %v", ownerID, src.ID, err)
	}
	return nil
}

func (s *SourceService) deleteBlob(ctx context.Context, src *models.Source) {
	if src.BlobKey == "" {
		return
	}
	if err := s.storage.DeleteFile(context.WithoutCancel(ctx), s.bucket, src.BlobKey); err != nil {
		s.logger.Printf("SourceService: payload cleanup failed key=%s: %v", src.BlobKey, err)
	}
}

// objectKey creates a consistent object key layout.
func (s *SourceService) objectKey(chatbotID, sourceID, filename string) string {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("sources", chatbotID, sourceID, filename)
}

func normalizeSpec(spec *SourceSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	switch spec.Kind {
	case models.SourceKindFile:
		spec.Filename = filepath.Base(strings.TrimSpace(spec.Filename))
		if spec.Filename == "." || spec.Filename == "/" || len(spec.Data) == 0 {
			return fmt.Errorf("%w: file upload needs a filename and content", core.ErrInvalidInput)
		}
		if spec.Name == "" {
			spec.Name = spec.Filename
		}
		if spec.ContentType == "" {
			spec.ContentType = "application/octet-stream"
		}
	case models.SourceKindText:
		if strings.TrimSpace(string(spec.Data)) == "" {
			return fmt.Errorf("%w: text source is empty", core.ErrInvalidInput)
		}
		spec.Filename = textObjectName
		spec.ContentType = "text/plain; charset=utf-8"
		if spec.Name == "" {
			spec.Name = snippetName(string(spec.Data))
		}
	case models.SourceKindWebsite:
		u, err := url.Parse(strings.TrimSpace(spec.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: website source needs an http(s) url", core.ErrInvalidInput)
		}
		spec.URL = u.String()
		spec.Data = nil
		if spec.Name == "" {
			spec.Name = u.Host + u.Path
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", core.ErrInvalidInput, spec.Kind)
	}
	return nil
}

func snippetName(text string) string {
	name := strings.Join(strings.Fields(text), " ")
	if r := []rune(name); len(r) > 40 {
		name = string(r[:40]) + "..."
	}
	return name
}

// ownedChatbot loads a chatbot and checks that ownerID owns it.
func ownedChatbot(ctx context.Context, store core.ChatbotStore, ownerID, chatbotID string) (*models.Chatbot, error) {
	bot, err := store.GetChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrChatbotNotFound, chatbotID)
	}
	if bot.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: chatbot %s", core.ErrForbidden, chatbotID)
	}
	return bot, nil
}
