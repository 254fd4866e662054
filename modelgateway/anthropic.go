package modelgateway

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orcaforge/fleet/errs"
)

// AnthropicAdapter speaks the Anthropic Messages API, grounded on
// haasonsaas-nexus's AnthropicProvider (message/tool conversion, error
// wrapping), trimmed to the Model Gateway's single-call (non-streaming)
// contract — spec §4.5 doesn't require token-by-token delivery, only an
// authoritative final Response per call.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates an adapter against the public Anthropic API
// (or baseURL, if set, for a compatible self-hosted endpoint).
func NewAnthropicAdapter(apiKey, baseURL string) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration) (Response, error) {
	var system []anthropic.TextBlockParam
	var converted []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			converted = append(converted, anthropic.NewAssistantMessage(block))
		} else {
			converted = append(converted, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := binding.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(binding.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		toolParams, err := convertAnthropicTools(tools)
		if err != nil {
			return Response{}, errs.New("modelgateway", "anthropic_send", errs.KindConfigurationError,
				"invalid tool schema", err)
		}
		params.Tools = toolParams
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, errs.New("modelgateway", "anthropic_send", errs.KindTransportFailure,
			"request to Anthropic failed", err)
	}

	resp := Response{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(variant.Input, &args)
			resp.ToolUses = append(resp.ToolUses, ToolUseRequest{ID: variant.ID, Name: variant.Name, Arguments: args})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

func convertAnthropicTools(tools []ToolDeclaration) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, err
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, err
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}
