package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/ingestion_engine"
	"github.com/markdave123-py/chatbase/internal/core/quota"
	"github.com/markdave123-py/chatbase/internal/models"
)

// ChunkPurger drops every chunk of a chatbot.
type ChunkPurger interface {
	DeleteByChatbot(ctx context.Context, chatbotID string) (int, error)
}

// ChatbotSpec is the owner-editable configuration of a chatbot.
type ChatbotSpec struct {
	Name               string  `json:"name"`
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	SystemInstructions string  `json:"system_instructions"`
	WelcomeMessage     string  `json:"welcome_message"`
}

type ChatbotService struct {
	db       core.DbClient
	storage  core.ObjectClient
	bucket   string
	chunks   ChunkPurger
	ledger   *quota.Ledger
	ingestor ingestion_engine.Ingestor
	logger   *log.Logger
}

func NewChatbotService(db core.DbClient, storage core.ObjectClient, bucket string, chunks ChunkPurger, ledger *quota.Ledger, ing ingestion_engine.Ingestor, logger *log.Logger) *ChatbotService {
	if logger == nil {
		logger = log.Default()
	}
	return &ChatbotService{db: db, storage: storage, bucket: bucket, chunks: chunks, ledger: ledger, ingestor: ing, logger: logger}
}

func (s *ChatbotService) Create(ctx context.Context, ownerID string, spec ChatbotSpec) (*models.Chatbot, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Model = strings.TrimSpace(spec.Model)
	if spec.Name == "" || spec.Model == "" {
		return nil, fmt.Errorf("%w: name and model are required", core.ErrInvalidInput)
	}
	if !core.ProviderKind(spec.Provider).Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownProvider, spec.Provider)
	}
	if spec.Temperature < 0 || spec.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be within [0,2]", core.ErrInvalidInput)
	}

	if _, err := s.ledger.IncrementIfBelow(ctx, ownerID, models.ResourceChatbots, 1); err != nil {
		return nil, err
	}
	bot := &models.Chatbot{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		Name:               spec.Name,
		Provider:           spec.Provider,
		Model:              spec.Model,
		Temperature:        spec.Temperature,
		SystemInstructions: spec.SystemInstructions,
		WelcomeMessage:     spec.WelcomeMessage,
	}
	if err := s.db.CreateChatbot(ctx, bot); err != nil {
		if _, derr := s.ledger.Decrement(context.WithoutCancel(ctx), ownerID, models.ResourceChatbots, 1); derr != nil {
			s.logger.Printf("ChatbotService: quota refund failed owner=%s: %v", ownerID, derr)
		}
		return nil, fmt.Errorf("create chatbot: %w", err)
	}
	return bot, nil
}

func (s *ChatbotService) Get(ctx context.Context, ownerID, id string) (*models.Chatbot, error) {
	return ownedChatbot(ctx, s.db, ownerID, id)
}

func (s *ChatbotService) List(ctx context.Context, ownerID string) ([]models.Chatbot, error) {
	return s.db.ListChatbotsByOwner(ctx, ownerID)
}

// Delete removes a chatbot with all its sources, chunks, payloads and
// conversations, and releases the quota those held.
func (s *ChatbotService) Delete(ctx context.Context, ownerID, id string) error {
	bot, err := ownedChatbot(ctx, s.db, ownerID, id)
	if err != nil {
		return err
	}
	sources, err := s.db.ListSourcesByChatbot(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		s.ingestor.Abort(src.ID)
	}
	if _, err := s.chunks.DeleteByChatbot(ctx, bot.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.db.DeleteChatbot(ctx, bot.ID); err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	released := map[models.Resource]int{models.ResourceChatbots: 1}
	for _, src := range sources {
		released[models.ResourceForKind(src.Kind)]++
		if src.BlobKey == "" {
			continue
		}
		if err := s.storage.DeleteFile(bg, s.bucket, src.BlobKey); err != nil {
			s.logger.Printf("ChatbotService: payload cleanup failed key=%s: %v", src.BlobKey, err)
		}
	}
	for r, n := range released {
		if _, err := s.ledger.Decrement(bg, ownerID, r, n); err != nil {
			s.logger.Printf("ChatbotService: quota release failed owner=%s resource=%s: %v", ownerID, r, err)
		}
	}
	s.logger.Printf("ChatbotService: deleted chatbot %s with %d sources", bot.ID, len(sources))
	return nil
}
