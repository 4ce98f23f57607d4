// Package chat runs one chat turn: quota, retrieval, prompt, model, persistence.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
	"github.com/markdave123-py/chatbase/internal/core/prompt"
	"github.com/markdave123-py/chatbase/internal/core/quota"
	"github.com/markdave123-py/chatbase/internal/core/retrieval"
	"github.com/markdave123-py/chatbase/internal/models"
)

const (
	// ApologyText is stored and returned when the model cannot answer.
	ApologyText = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."
	// LimitReachedText is returned with ErrQuotaExceeded. Channels may reword it.
	LimitReachedText = "This chatbot has reached its monthly message limit. Please try again later."

	// messagesPerTurn is billed for every answered turn: the user message and the reply.
	messagesPerTurn = 2
)

// TurnRequest is one inbound user message from any channel.
type TurnRequest struct {
	ChatbotID string `json:"chatbot_id"`
	SessionID string `json:"session_id"`
	UserText  string `json:"message"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// TurnResult is what the channel sends back.
type TurnResult struct {
	AssistantText  string            `json:"assistant_text"`
	ConversationID string            `json:"conversation_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Citations      []models.Citation `json:"citations,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, chatbotID, query string) (retrieval.Result, error)
}

type Invoker interface {
	Invoke(ctx context.Context, kind core.ProviderKind, req core.LLMRequest) (string, error)
}

// Orchestrator coordinates a chat turn across the core components.
type Orchestrator struct {
	bots      core.ChatbotStore
	convs     core.ConversationStore
	ledger    *quota.Ledger
	retriever Retriever
	assembler *prompt.Assembler
	gateway   Invoker
	locker    SessionLocker

	historyWindow    int
	retrievalTimeout time.Duration
	turnBudget       time.Duration
	gatewayCfg       config.GatewayConfig

	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Chatbots      core.ChatbotStore
	Conversations core.ConversationStore
	Ledger        *quota.Ledger
	Retriever     Retriever
	Assembler     *prompt.Assembler
	Gateway       Invoker
	Locker        SessionLocker
	Metrics       *metrics.Metrics
	Logger        *log.Logger
}

func NewOrchestrator(d Deps, cfg *config.Config) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	locker := d.Locker
	if locker == nil {
		locker = NewShardedLocker(cfg.Chat.LockShards, logger)
	}
	return &Orchestrator{
		bots:             d.Chatbots,
		convs:            d.Conversations,
		ledger:           d.Ledger,
		retriever:        d.Retriever,
		assembler:        d.Assembler,
		gateway:          d.Gateway,
		locker:           locker,
		historyWindow:    cfg.Retriever.HistoryWindow,
		retrievalTimeout: cfg.Retriever.Timeout,
		turnBudget:       cfg.Chat.TurnBudget,
		gatewayCfg:       cfg.Gateway,
		metrics:          d.Metrics,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// HandleTurn answers one user message. Only ErrChatbotNotFound, ErrQuotaExceeded
// and failures that happen before the user message is stored are returned;
// retrieval and model failures become a degraded or apology answer.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.UserText) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty message", core.ErrInvalidInput)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if o.turnBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnBudget)
		defer cancel()
	}

	bot, err := o.bots.GetChatbot(ctx, req.ChatbotID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load chatbot: %w", err)
	}
	if bot == nil {
		o.metrics.ChatTurn("chatbot_not_found")
		return TurnResult{}, fmt.Errorf("%w: %s", core.ErrChatbotNotFound, req.ChatbotID)
	}

	unlock, err := o.locker.Lock(ctx, SessionKey(bot.ID, req.SessionID))
	if err != nil {
		return TurnResult{}, fmt.Errorf("session lock: %w", err)
	}
	defer unlock()

	st, err := o.ledger.Check(ctx, bot.OwnerID, models.ResourceMessages)
	if err != nil {
		return TurnResult{}, err
	}
	if st.Reached {
		o.metrics.ChatTurn("quota_exceeded")
		o.logger.Printf("[Chat] quota reached chatbot=%s owner=%s current=%d max=%d", bot.ID, bot.OwnerID, st.Current, st.Max)
		return TurnResult{AssistantText: LimitReachedText}, fmt.Errorf("%w: messages %d/%d", core.ErrQuotaExceeded, st.Current, st.Max)
	}

	conv, err := o.convs.UpsertConversation(ctx, &models.Conversation{
		ChatbotID: bot.ID,
		SessionID: req.SessionID,
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		Platform:  req.Platform,
		Status:    "active",
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("upsert conversation: %w", err)
	}
	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ChatbotID:      bot.ID,
		Role:           models.RoleUser,
		Content:        req.UserText,
		CreatedAt:      o.now(),
	}
	if err := o.convs.AppendMessage(ctx, userMsg); err != nil {
		return TurnResult{}, fmt.Errorf("append user message: %w", err)
	}

	// From here on the turn always completes with an assistant message.
	res := o.retrieve(ctx, bot.ID, req.UserText)

	history, err := o.convs.RecentMessages(ctx, conv.ID, o.historyWindow, userMsg.ID)
	if err != nil {
		o.logger.Printf("[Chat] history unavailable conversation=%s err=%v", conv.ID, err)
		history = nil
	}

	maxTokens := o.gatewayCfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	env := o.assembler.Assemble(prompt.Input{
		Instructions:   bot.SystemInstructions,
		ContextBlock:   res.ContextBlock,
		History:        history,
		UserTurn:       req.UserText,
		ContextBudget:  o.contextBudget(bot.Provider),
		ResponseBudget: maxTokens,
	})

	outcome := "ok"
	text, err := o.gateway.Invoke(ctx, core.ProviderKind(bot.Provider), core.LLMRequest{
		Model:       bot.Model,
		Envelope:    env,
		Temperature: bot.Temperature,
		MaxTokens:   maxTokens,
	})
	var citations []models.Citation
	switch {
	case err != nil:
		o.logger.Printf("[Chat] model call failed chatbot=%s provider=%s err=%v", bot.ID, bot.Provider, err)
		text, outcome = ApologyText, "apology"
	case strings.TrimSpace(text) == "":
		o.logger.Printf("[Chat] empty model answer chatbot=%s provider=%s", bot.ID, bot.Provider)
		text, outcome = ApologyText, "apology"
	default:
		if res.HasContext {
			text += res.CitationFooter
			citations = res.Citations
		} else {
			outcome = "no_context"
		}
	}

	// The reply and the billing must land even if the caller went away.
	pctx := context.WithoutCancel(ctx)
	billed := messagesPerTurn
	if err := o.appendReply(pctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ChatbotID:      bot.ID,
		Role:           models.RoleAssistant,
		Content:        text,
		CreatedAt:      o.now(),
	}); err != nil {
		o.logger.Printf("[Chat] append assistant message failed conversation=%s err=%v", conv.ID, err)
		// Only the user message was stored.
		outcome, billed = "persist_failed", 1
	}
	if _, err := o.ledger.Increment(pctx, bot.OwnerID, models.ResourceMessages, billed); err != nil {
		o.logger.Printf("[Chat] billing failed owner=%s err=%v", bot.OwnerID, err)
	}

	o.metrics.ChatTurn(outcome)
	return TurnResult{AssistantText: text, ConversationID: conv.ID, SessionID: req.SessionID, Citations: citations}, nil
}

// appendReply stores the assistant message, retrying once.
func (o *Orchestrator) appendReply(ctx context.Context, msg *models.Message) error {
	err := o.convs.AppendMessage(ctx, msg)
	if err == nil {
		return nil
	}
	o.logger.Printf("[Chat] retrying assistant message conversation=%s err=%v", msg.ConversationID, err)
	return o.convs.AppendMessage(ctx, msg)
}

func (o *Orchestrator) retrieve(ctx context.Context, chatbotID, query string) retrieval.Result {
	if o.retrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.retrievalTimeout)
		defer cancel()
	}
	res, err := o.retriever.Retrieve(ctx, chatbotID, query)
	if err != nil {
		o.logger.Printf("[Chat] retrieval degraded chatbot=%s err=%v", chatbotID, err)
		return retrieval.Result{}
	}
	return res
}

func (o *Orchestrator) contextBudget(provider string) int {
	if p := o.gatewayCfg.Provider(provider); p.ContextBudget > 0 {
		return p.ContextBudget
	}
	return o.gatewayCfg.ContextBudget
}
