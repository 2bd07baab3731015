package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/zulandar/closeout/internal/ticket"
)

// OpenAIModel talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// OpenAIOpts holds parameters for creating an OpenAIModel.
type OpenAIOpts struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration // per-request HTTP timeout; 0 means none
	MaxRetries int
	// For testing: inject a client pointed at a fake endpoint.
	HTTPClient *http.Client
}

// NewOpenAIModel creates an OpenAIModel.
func NewOpenAIModel(opts OpenAIOpts) (*OpenAIModel, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("oracle: model name is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("oracle: api key is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
		option.WithHTTPClient(hc),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIModel{
		client: openai.NewClient(reqOpts...),
		model:  opts.Model,
	}, nil
}

// Complete issues one chat completion. Only the first tool call of the first
// choice is returned.
func (m *OpenAIModel) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(m.model),
		Messages:    toMessages(req.Turns),
		Temperature: openai.Float(req.Temperature),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	if len(req.Tools) > 0 && req.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(req.ToolChoice)),
		}
	}

	start := time.Now()
	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("oracle: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("oracle: chat completion returned no choices")
	}

	msg := completion.Choices[0].Message
	resp := &Response{
		Text:         msg.Content,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Latency:      time.Since(start),
	}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		resp.Call = &ticket.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return resp, nil
}

// toMessages maps transcript turns onto chat messages. Tool calls recorded on
// earlier assistant turns are sent back as text so the request never carries
// a dangling tool_call id.
func toMessages(turns []ticket.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case ticket.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case ticket.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(flattenAssistant(t)))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}

func flattenAssistant(t ticket.Turn) string {
	if t.Tool == nil {
		return t.Content
	}
	call := fmt.Sprintf("[%s] %s", t.Tool.Name, t.Tool.Arguments)
	if t.Content == "" {
		return call
	}
	return t.Content + "\n" + call
}
