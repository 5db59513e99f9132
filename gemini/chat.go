package gemini

import (
	"context"
	"fmt"

	"github.com/room4-2/OrderDesk/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// NewClient creates a Gemini API client
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// ChatModel implements llm.ChatModel with generateContent
type ChatModel struct {
	client *genai.Client
	model  string
}

// NewChatModel creates a chat model. model is used when a request names none.
func NewChatModel(client *genai.Client, model string) *ChatModel {
	return &ChatModel{client: client, model: model}
}

func (c *ChatModel) modelFor(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *ChatModel) prepare(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, system, err := toContents(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       req.Temperature,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toTools(req.Tools)
		config.ToolConfig = toToolConfig(req.ToolChoice)
	}
	return contents, config, nil
}

// Complete performs one blocking generateContent call
func (c *ChatModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.modelFor(req)
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()
	span.SetAttributes(attribute.String("gen_ai.request.model", model), attribute.Int("gen_ai.request.messages", len(req.Messages)))

	contents, config, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate content: %w", err)
	}

	out, err := fromResponse(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", out.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", out.Usage.CompletionTokens),
		attribute.Int("gen_ai.response.tool_calls", len(out.Message.ToolCalls)),
	)
	return out, nil
}

// Stream performs one streaming call. Text deltas are passed to onChunk as they
// arrive; function calls are collected and returned without execution.
func (c *ChatModel) Stream(ctx context.Context, req llm.Request, onChunk llm.StreamFunc) (*llm.Response, error) {
	model := c.modelFor(req)
	ctx, span := tracer.Start(ctx, "gemini.stream_generate_content")
	defer span.End()
	span.SetAttributes(attribute.String("gen_ai.request.model", model))

	contents, config, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	acc := newStreamAccumulator()
	for chunk, err := range c.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			err = classify(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("stream content: %w", err)
		}
		if text := acc.add(chunk); text != "" && onChunk != nil {
			onChunk(text)
		}
	}

	return acc.response()
}

// streamAccumulator merges streamed responses into one
type streamAccumulator struct {
	text     []byte
	calls    llm.ToolCallAccumulator
	nCalls   int
	usage    llm.Usage
	reason   genai.FinishReason
	sawChunk bool
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// add merges one chunk and returns its visible text delta
func (a *streamAccumulator) add(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.UsageMetadata != nil {
		a.usage = fromUsage(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	a.sawChunk = true
	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		a.reason = candidate.FinishReason
	}
	if candidate.Content == nil {
		return ""
	}

	var delta []byte
	for _, part := range candidate.Content.Parts {
		switch {
		case part == nil || part.Thought:
		case part.FunctionCall != nil:
			call, err := fromFunctionCall(part.FunctionCall)
			if err != nil {
				continue
			}
			// Gemini sends each call whole, so every call gets its own slot
			a.calls.Add(a.nCalls, call.ID, call.Name, call.Arguments)
			a.nCalls++
		case part.Text != "":
			delta = append(delta, part.Text...)
		}
	}
	a.text = append(a.text, delta...)
	return string(delta)
}

func (a *streamAccumulator) response() (*llm.Response, error) {
	if !a.sawChunk {
		return nil, llm.ErrNoChoice
	}
	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   string(a.text),
		ToolCalls: a.calls.Calls(),
	}
	return &llm.Response{
		Message:      msg,
		FinishReason: finishReason(a.reason, len(msg.ToolCalls) > 0),
		Usage:        a.usage,
	}, nil
}
