package conversation

import (
	"context"
	"fmt"

	"github.com/room4-2/OrderDesk/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxRounds bounds the number of tool rounds in one Run
const DefaultMaxRounds = 10

// Executor is the tool-execution capability. It must return one tool message
// per call.
type Executor interface {
	Execute(ctx context.Context, calls []llm.ToolCall, toolCtx llm.ToolContext) ([]llm.Message, error)
}

// Options configures one Run
type Options struct {
	Model         string
	Temperature   *float32
	MaxTokens     int
	ToolsEnabled  bool
	PromptVariant PromptVariant
	Context       llm.ToolContext
}

// Exchange is one executed tool call and its result
type Exchange struct {
	Call   llm.ToolCall
	Result llm.Message
}

// Result is the outcome of a Run
type Result struct {
	// Message is the final assistant message. It never carries tool calls.
	Message      llm.Message
	FinishReason string
	Usage        llm.Usage
	Rounds       int
	// Capped is true when the loop stopped at the round limit while the model
	// still asked for tools
	Capped bool
	// Trail lists every executed call and its result across all rounds
	Trail []Exchange
	// Messages are the messages produced by this run in order: each round's
	// assistant message and tool results, then the final assistant message
	Messages []llm.Message
}

// Loop drives request/execute/append rounds against a chat model
type Loop struct {
	model     llm.ChatModel
	executor  Executor
	tools     []llm.Tool
	maxRounds int
}

// NewLoop creates a loop. maxRounds <= 0 uses DefaultMaxRounds.
func NewLoop(model llm.ChatModel, executor Executor, tools []llm.Tool, maxRounds int) *Loop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{
		model:     model,
		executor:  executor,
		tools:     tools,
		maxRounds: maxRounds,
	}
}

// MaxRounds returns the configured round cap
func (l *Loop) MaxRounds() int {
	return l.maxRounds
}

type accumulator struct {
	messages []llm.Message
	produced []llm.Message
	usage    llm.Usage
	rounds   int
	trail    []Exchange
}

func (a *accumulator) appendRound(assistant llm.Message, results []llm.Message) {
	a.messages = append(a.messages, assistant)
	a.messages = append(a.messages, results...)
	a.produced = append(a.produced, assistant)
	a.produced = append(a.produced, results...)
	for i, call := range assistant.ToolCalls {
		a.trail = append(a.trail, Exchange{Call: call, Result: results[i]})
	}
	a.rounds++
}

// Run executes the tool-calling loop over history. history is not modified.
func (l *Loop) Run(ctx context.Context, history []llm.Message, opts Options) (*Result, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	ctx, span := tracer.Start(ctx, "conversation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("prompt.variant", string(opts.PromptVariant)),
		attribute.Bool("tools.enabled", opts.ToolsEnabled),
		attribute.Int("history.length", len(history)),
	)

	acc := &accumulator{messages: l.withSystemPrompt(history, opts.PromptVariant)}

	for {
		resp, err := l.request(ctx, acc.messages, opts, acc.rounds)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		acc.usage = acc.usage.Add(resp.Usage)

		if !resp.Message.HasToolCalls() {
			return acc.result(resp, false), nil
		}

		if acc.rounds >= l.maxRounds {
			span.AddEvent("round cap reached")
			return acc.result(resp, true), nil
		}

		results, err := l.execute(ctx, resp.Message.ToolCalls, opts.Context, acc.rounds)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		acc.appendRound(resp.Message, results)
	}
}

func (a *accumulator) result(resp *llm.Response, capped bool) *Result {
	final := resp.Message
	final.Role = llm.RoleAssistant
	final.ToolCalls = nil

	produced := append(a.produced, final)
	return &Result{
		Message:      final,
		FinishReason: resp.FinishReason,
		Usage:        a.usage,
		Rounds:       a.rounds,
		Capped:       capped,
		Trail:        a.trail,
		Messages:     produced,
	}
}

// Stream performs a single request, forwarding content deltas to onChunk.
// Tool calls in the response are returned but never executed.
func (l *Loop) Stream(ctx context.Context, history []llm.Message, opts Options, onChunk llm.StreamFunc) (*Result, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	ctx, span := tracer.Start(ctx, "conversation.stream")
	defer span.End()

	req := l.buildRequest(l.withSystemPrompt(history, opts.PromptVariant), opts)
	resp, err := l.model.Stream(ctx, req, func(chunk string) {
		if onChunk != nil && chunk != "" {
			onChunk(chunk)
		}
	})
	if err != nil {
		loopErr := newError("stream", 0, err)
		span.RecordError(loopErr)
		span.SetStatus(codes.Error, loopErr.Error())
		return nil, loopErr
	}

	msg := resp.Message
	msg.Role = llm.RoleAssistant
	return &Result{
		Message:      msg,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Messages:     []llm.Message{msg},
	}, nil
}

func (l *Loop) withSystemPrompt(history []llm.Message, variant PromptVariant) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(variant)})
	for _, msg := range history {
		if msg.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (l *Loop) buildRequest(messages []llm.Message, opts Options) llm.Request {
	req := llm.Request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.ToolsEnabled && len(l.tools) > 0 {
		req.Tools = l.tools
		// never "required": the model must be free to answer without a tool
		req.ToolChoice = llm.ToolChoiceAuto
	}
	return req
}

func (l *Loop) request(ctx context.Context, messages []llm.Message, opts Options, round int) (*llm.Response, error) {
	ctx, span := tracer.Start(ctx, "conversation.request")
	defer span.End()
	span.SetAttributes(attribute.Int("round", round))

	resp, err := l.model.Complete(ctx, l.buildRequest(messages, opts))
	if err != nil {
		return nil, newError("complete", round, err)
	}
	if resp == nil {
		return nil, newError("complete", round, llm.ErrNoChoice)
	}
	return resp, nil
}

func (l *Loop) execute(ctx context.Context, calls []llm.ToolCall, toolCtx llm.ToolContext, round int) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "conversation.execute_tools")
	defer span.End()
	span.SetAttributes(attribute.Int("round", round), attribute.Int("tool.calls", len(calls)))

	if l.executor == nil {
		return nil, newError("execute", round, fmt.Errorf("no tool executor configured"))
	}

	results, err := l.executor.Execute(ctx, calls, toolCtx)
	if err != nil {
		return nil, newError("execute", round, err)
	}
	return alignResults(calls, results), nil
}

// alignResults orders results by call and fills any unanswered call with an
// error result, so a round always satisfies one-result-per-call.
func alignResults(calls []llm.ToolCall, results []llm.Message) []llm.Message {
	byID := make(map[string]llm.Message, len(results))
	for i, result := range results {
		id := result.ToolCallID
		if id == "" && i < len(calls) {
			id = calls[i].ID
			result.ToolCallID = id
		}
		if _, seen := byID[id]; !seen {
			byID[id] = result
		}
	}

	aligned := make([]llm.Message, len(calls))
	for i, call := range calls {
		result, found := byID[call.ID]
		if !found {
			result = llm.Message{Content: `{"error":"tool produced no result"}`}
		}
		result.Role = llm.RoleTool
		result.ToolCallID = call.ID
		if result.Name == "" {
			result.Name = call.Name
		}
		aligned[i] = result
	}
	return aligned
}
