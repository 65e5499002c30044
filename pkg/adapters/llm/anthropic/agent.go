package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

var _ ports.StepExecutor = (*AgentExecutor)(nil)

// MessageCreator is the part of the Anthropic messages API the executor uses
type MessageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Settings holds model defaults for agent steps
type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// ConversationMessage is one prior turn passed through Agent.MessagesIn
type ConversationMessage struct {
	Role    string `mapstructure:"role"`
	Content string `mapstructure:"content"`
}

// AgentExecutor runs agent invocations against the Anthropic messages API
type AgentExecutor struct {
	messages MessageCreator
	settings Settings
	logger   *zap.Logger
}

// NewAgentExecutor creates an executor backed by a real Anthropic client
func NewAgentExecutor(apiKey string, settings Settings, logger *zap.Logger) (*AgentExecutor, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAgentExecutorWithClient(&client.Messages, settings, logger), nil
}

// NewAgentExecutorWithClient creates an executor over an existing messages client
func NewAgentExecutorWithClient(messages MessageCreator, settings Settings, logger *zap.Logger) *AgentExecutor {
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = 4096
	}
	return &AgentExecutor{
		messages: messages,
		settings: settings,
		logger:   logger,
	}
}

// Execute implements ports.StepExecutor.
//
// The prompt lists every Agent.Inputs entry as "name: value", reading the value
// from the message parameter it names. Prior turns are read from the parameter
// named by Agent.MessagesIn.
func (a *AgentExecutor) Execute(ctx context.Context, msg domain.ProcessMessage) (any, error) {
	if msg.Agent == nil {
		return nil, fmt.Errorf("message %s carries no agent invocation", msg.ID)
	}

	history, err := a.history(msg)
	if err != nil {
		return nil, err
	}
	prompt := buildPrompt(msg)

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.settings.Model),
		MaxTokens:   int64(a.settings.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(a.settings.Temperature),
	}

	a.logger.Debug("calling agent",
		zap.String("run_id", msg.RunID),
		zap.String("node_id", msg.TargetNodeID),
		zap.String("model", a.settings.Model),
		zap.Int("history", len(history)))

	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to call agent: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return map[string]any{
		"text":        text.String(),
		"stop_reason": string(resp.StopReason),
		"thread_id":   msg.ThreadID,
	}, nil
}

func (a *AgentExecutor) history(msg domain.ProcessMessage) ([]ConversationMessage, error) {
	if msg.Agent.MessagesIn == "" {
		return nil, nil
	}
	raw, ok := msg.Parameters[msg.Agent.MessagesIn]
	if !ok || raw == nil {
		return nil, nil
	}
	var history []ConversationMessage
	if err := mapstructure.Decode(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", msg.Agent.MessagesIn, err)
	}
	return history, nil
}

func buildPrompt(msg domain.ProcessMessage) string {
	names := make([]string, 0, len(msg.Agent.Inputs))
	for name := range msg.Agent.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s.%s\n", msg.TargetNodeID, msg.TargetFunctionName)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, render(msg.Parameters[msg.Agent.Inputs[name]]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
