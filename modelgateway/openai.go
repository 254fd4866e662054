package modelgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orcaforge/fleet/errs"
)

// OpenAIAdapter speaks the OpenAI chat-completions wire format, grounded
// on the teacher's llms.OpenAIProvider request/response shape.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIAdapter creates an adapter. baseURL defaults to the public
// OpenAI API when empty, so an OpenAI-compatible self-hosted endpoint can
// be substituted.
func NewOpenAIAdapter(apiKey, baseURL string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *OpenAIAdapter) Send(ctx context.Context, binding Binding, messages []Message, tools []ToolDeclaration) (Response, error) {
	req := openAIRequest{
		Model:       binding.Model,
		Temperature: binding.Temperature,
		MaxTokens:   binding.MaxTokens,
		Messages:    toOpenAIMessages(messages),
		Tools:       toOpenAITools(tools),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindMalformedResponse,
			"failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindTransportFailure,
			"failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindTransportFailure,
			"request to OpenAI failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindTransportFailure,
			"failed to read response", err)
	}

	if httpResp.StatusCode >= 500 {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindTransportFailure,
			fmt.Sprintf("OpenAI returned %d", httpResp.StatusCode), nil)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindMalformedResponse,
			"failed to parse OpenAI response", err)
	}
	if parsed.Error != nil {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindProviderReportedErr,
			parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, errs.New("modelgateway", "openai_send", errs.KindMalformedResponse,
			"response contained no choices", nil)
	}

	choice := parsed.Choices[0]
	resp := Response{
		Content: choice.Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolUses = append(resp.ToolUses, ToolUseRequest{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	switch choice.FinishReason {
	case "tool_calls":
		resp.StopReason = StopToolUse
	case "length":
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

func toOpenAIMessages(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func toOpenAITools(tools []ToolDeclaration) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
