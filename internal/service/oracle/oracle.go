// Package oracle produces automated replies for persisted user turns.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/quilldesk/chatrelay/internal/config"
	"github.com/quilldesk/chatrelay/internal/model/chat"
)

// ErrUnavailable is returned by the disabled oracle when no model is
// configured.
var ErrUnavailable = errors.New("reply oracle is not configured")

// Oracle turns a user message plus recent history into a reply.
type Oracle interface {
	Reply(ctx context.Context, sessionID, content string, history []chat.Message, metadata map[string]string) (string, error)
}

// LLMOracle answers through a compiled eino chain over an Ark chat model.
type LLMOracle struct {
	cfg   config.AIConfig
	chain compose.Runnable[map[string]any, *schema.Message]
}

var _ Oracle = (*LLMOracle)(nil)

// NewLLMOracle builds the prompt chain and compiles it against the
// configured model.
func NewLLMOracle(ctx context.Context, cfg config.AIConfig) (*LLMOracle, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &LLMOracle{cfg: cfg, chain: runnable}, nil
}

func (o *LLMOracle) Reply(ctx context.Context, sessionID, content string, history []chat.Message, metadata map[string]string) (string, error) {
	input := map[string]any{
		"system":  o.cfg.SystemPrompt,
		"history": buildHistoryMessages(history, content),
		"query":   content,
	}

	response, err := o.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	log.Debug().
		Str("component", "oracle").
		Str("session_id", sessionID).
		Int("reply_len", len(response.Content)).
		Msg("generated reply")
	return response.Content, nil
}

// buildHistoryMessages converts stored turns to model messages. The history
// handed over by the relay already contains the just-persisted user turn; a
// trailing user message matching query is dropped so the prompt does not
// repeat it.
func buildHistoryMessages(messages []chat.Message, query string) []*schema.Message {
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		if last.Sender == chat.SenderUser && last.Content == query {
			messages = messages[:len(messages)-1]
		}
	}
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderBot:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// Disabled is the oracle used when Ark credentials are absent: every call
// fails, the relay still persists and fans out user turns.
type Disabled struct{}

var _ Oracle = Disabled{}

func (Disabled) Reply(context.Context, string, string, []chat.Message, map[string]string) (string, error) {
	return "", ErrUnavailable
}
