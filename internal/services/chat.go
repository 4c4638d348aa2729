package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

const (
	chatBaseInstruction = "You are Vastra-Vibes Assistant, a helpful AI fashion expert. You help users understand fashion trends, fabric choices, and manufacturing details based on the Indian market. Be concise and professional."

	chatContextTemplate = "\n\nCURRENT ANALYSIS CONTEXT:\nUser has uploaded a fashion image. Here is the generated analysis report for the product:\n%s\n\nIMPORTANT: Use this report data to answer user questions about the specific design, fabric choices, and manufacturing specs. You also have access to Google Search to find real-time pricing or additional context. Always refer to the product by its name: \"%s\"."

	welcomeMessage = "Namaste! I'm Vastra. Ready to optimize your inventory?"

	contextNoticeTemplate = "I've analyzed the **%s**. Ask me about the **%s** silhouette, **%s** costs, or current market demand!"
)

// TranscriptStore keeps chat transcripts and the instruction they were
// seeded with.
type TranscriptStore interface {
	Reset(ctx context.Context, key, instruction string, messages ...models.ChatMessage) error
	Append(ctx context.Context, key string, messages ...models.ChatMessage) error
	Messages(ctx context.Context, key string) ([]models.ChatMessage, error)
	Instruction(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ChatService runs the follow-up conversation about an analysis.
type ChatService struct {
	model  ChatModel
	store  TranscriptStore
	logger *zap.Logger
}

func NewChatService(model ChatModel, store TranscriptStore, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{model: model, store: store, logger: logger.Named("chat")}
}

// ChatInstruction builds the system instruction for a session. A nil report
// yields the base instruction.
func ChatInstruction(report *models.TrendReport) string {
	if report == nil {
		return chatBaseInstruction
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return chatBaseInstruction
	}
	return chatBaseInstruction + fmt.Sprintf(chatContextTemplate, raw, report.BestSellerConcept.ProductName)
}

// ContextNotice is the assistant message announcing a freshly seeded report.
func ContextNotice(report *models.TrendReport) string {
	return fmt.Sprintf(contextNoticeTemplate,
		report.BestSellerConcept.ProductName,
		report.WinningAttributes.Silhouette,
		report.ManufacturingSpecs.FabricPrimary,
	)
}

// Seed discards any previous conversation for key and starts a new one
// around report.
func (s *ChatService) Seed(ctx context.Context, key string, report *models.TrendReport) error {
	messages := []models.ChatMessage{models.NewLocalMessage(models.SenderAI, welcomeMessage)}
	if report != nil {
		messages = append(messages, models.NewLocalMessage(models.SenderAI, ContextNotice(report)))
	}

	if err := s.store.Reset(ctx, key, ChatInstruction(report), messages...); err != nil {
		return fmt.Errorf("failed to seed chat: %w", err)
	}
	return nil
}

// Transcript returns the conversation for key. A session that was never
// seeded shows only the welcome message.
func (s *ChatService) Transcript(ctx context.Context, key string) ([]models.ChatMessage, error) {
	messages, err := s.store.Messages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if len(messages) == 0 {
		return []models.ChatMessage{models.NewLocalMessage(models.SenderAI, welcomeMessage)}, nil
	}
	return messages, nil
}

// Send appends the user's message and the assistant's reply. Model failures
// become an assistant message carrying the error text. report is the
// analysis the chat belongs to; when the stored session has expired or was
// never seeded, it is seeded again from report before the turn.
func (s *ChatService) Send(ctx context.Context, key, text string, report *models.TrendReport) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	instruction, err := s.store.Instruction(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat context: %w", err)
	}
	if instruction == "" && report != nil {
		s.logger.Info("reseeding chat", zap.String("chat", key))
		if err := s.Seed(ctx, key, report); err != nil {
			return nil, err
		}
		instruction = ChatInstruction(report)
	}
	if instruction == "" {
		instruction = ChatInstruction(nil)
	}

	history, err := s.store.Messages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}

	userMsg := models.NewChatMessage(models.SenderUser, text)

	var reply models.ChatMessage
	answer, err := s.model.Chat(ctx, ChatRequest{
		SystemInstruction: instruction,
		History:           history,
		Message:           text,
	})
	if err != nil {
		s.logger.Warn("chat reply failed", zap.String("chat", key), zap.Error(err))
		// keep the failed turn out of the replayed history
		userMsg.Local = true
		reply = models.NewLocalMessage(models.SenderAI, DisplayMessage(err, MsgChatFallback))
	} else {
		reply = models.NewChatMessage(models.SenderAI, withSources(answer.Text, answer.Sources))
	}

	if err := s.store.Append(ctx, key, userMsg, reply); err != nil {
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}
	return &reply, nil
}

// Forget drops the conversation for key.
func (s *ChatService) Forget(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

func withSources(text string, sources []models.ShoppingItem) string {
	if len(sources) == 0 {
		return text
	}

	lines := make([]string, 0, len(sources))
	for _, src := range sources {
		lines = append(lines, fmt.Sprintf("• %s: %s", src.Title, src.URI))
	}
	return text + "\n\n**Sources:**\n" + strings.Join(lines, "\n")
}
