// Package anthropic provides a model wrapper for the Anthropic Messages API.
//
// Strict response schemas are enforced through a forced tool call: the schema
// becomes the input schema of a single tool and tool_choice pins the model to
// it. The tool input is returned as the response text (a JSON object).
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/chatagent/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	MaxRetries  int
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.4,
		MaxTokens:   260,
		MaxRetries:  1,
	}
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(opts.MaxRetries))

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Generate issues one Messages API call.
func (m *Model) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if system := buildSystem(req); len(system) > 0 {
		params.System = system
	}

	if req.Schema != nil {
		params.Tools = []anthropic.ToolUnionParam{buildSchemaTool(req.Schema)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name},
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder

	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			toolBlock := block.AsToolUse()
			if req.Schema == nil || toolBlock.Name != req.Schema.Name {
				continue
			}
			args, err := json.Marshal(toolBlock.Input)
			if err != nil {
				return model.Response{}, fmt.Errorf("anthropic: encode tool input: %w", err)
			}
			// The forced tool input is the structured answer.
			return model.Response{Text: string(args), FinishReason: string(resp.StopReason), Usage: usage(resp.Usage)}, nil
		case "text":
			text.WriteString(block.AsText().Text)
		}
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return model.Response{}, fmt.Errorf("anthropic: %w", model.ErrEmptyResponse)
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return model.Response{Text: out, FinishReason: finishReason, Usage: usage(resp.Usage)}, nil
}

func usage(u anthropic.Usage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     int(u.InputTokens),
		CompletionTokens: int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
	}
}

// buildSystem collects the instructions plus any system-role messages, since
// the Messages API only accepts system text out of band.
func buildSystem(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// buildMessages converts messages to Anthropic format. Consecutive turns with
// the same role are merged because the API requires strict alternation.
func buildMessages(msgs []model.Message) []anthropic.MessageParam {
	type turn struct {
		role  string
		texts []string
	}

	var turns []turn

	for _, msg := range msgs {
		if msg.Role == model.RoleSystem || msg.Content == "" {
			continue
		}
		role := model.RoleUser
		if msg.Role == model.RoleAssistant {
			role = model.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].texts = append(turns[n-1].texts, msg.Content)
			continue
		}
		turns = append(turns, turn{role: role, texts: []string{msg.Content}})
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))

	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.texts, "\n\n"))
		if t.role == model.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	return messages
}

// buildSchemaTool converts a response schema into the single forced tool.
func buildSchemaTool(s *model.ResponseSchema) anthropic.ToolUnionParam {
	inputSchema := anthropic.ToolInputSchemaParam{
		Type: constant.Object("object"),
	}

	if properties, exists := s.Schema["properties"]; exists {
		inputSchema.Properties = properties
	}

	switch required := s.Schema["required"].(type) {
	case []string:
		inputSchema.Required = required
	case []any:
		for _, r := range required {
			if name, ok := r.(string); ok {
				inputSchema.Required = append(inputSchema.Required, name)
			}
		}
	}

	tool := anthropic.ToolUnionParamOfTool(inputSchema, s.Name)
	if s.Description != "" && tool.OfTool != nil {
		tool.OfTool.Description = anthropic.String(s.Description)
	}

	return tool
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:           string(m.opts.Model),
		Provider:       "anthropic",
		SupportsSchema: true,
	}
}
