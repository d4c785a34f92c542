// Package title generates chat titles from the conversation's first message
// using a hosted chat model.
package title

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"chatsync/internal/config"
)

const systemPrompt = "You are a conversation title generator. " +
	"Based on the first message of a conversation, generate a concise and accurate title. " +
	"The title should be within 10 words and summarize the main topic. " +
	"Output only the title; do not include any additional content."

// Generator turns message content into a short chat title.
type Generator struct {
	chatModel model.ToolCallingChatModel
}

// NewGenerator builds a generator for the configured provider.
func NewGenerator(ctx context.Context, cfg *config.Config, provider string) (*Generator, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown title provider: %s", provider)
	}

	var chatModel model.ToolCallingChatModel
	var err error
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 100,
		})
	default:
		return nil, fmt.Errorf("unknown title provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init title model: %w", err)
	}
	return &Generator{chatModel: chatModel}, nil
}

// GenerateTitle asks the model for a title summarizing content.
func (g *Generator) GenerateTitle(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}
	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: fmt.Sprintf("Please generate a clean title for this message:\n\n%s", content)},
	}
	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate title failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
