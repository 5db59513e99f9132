package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/room4-2/OrderDesk/llm"
	"google.golang.org/genai"
)

// toContents maps a provider-neutral history to genai contents. System
// messages are joined into the returned system instruction. Consecutive tool
// results are grouped into a single user content as the API requires.
func toContents(messages []llm.Message) ([]*genai.Content, *genai.Content, error) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				args, err := decodeArguments(call.Arguments)
				if err != nil {
					return nil, nil, fmt.Errorf("tool call %s: %w", call.ID, err)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case llm.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: decodeResponse(msg.Content),
			}}
			if last := lastContent(contents); last != nil && last.Role == genai.RoleUser && isFunctionResponses(last) {
				last.Parts = append(last.Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, instruction, nil
}

func lastContent(contents []*genai.Content) *genai.Content {
	if len(contents) == 0 {
		return nil
	}
	return contents[len(contents)-1]
}

func isFunctionResponses(content *genai.Content) bool {
	for _, part := range content.Parts {
		if part.FunctionResponse == nil {
			return false
		}
	}
	return len(content.Parts) > 0
}

func decodeArguments(arguments string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(arguments) == "" {
		return args, nil
	}
	if err := sonic.UnmarshalString(arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

// decodeResponse turns a tool result payload into the object the API expects.
// Non-object payloads are wrapped under "output".
func decodeResponse(content string) map[string]any {
	response := map[string]any{}
	if err := sonic.UnmarshalString(content, &response); err == nil {
		return response
	}
	return map[string]any{"output": content}
}

func toTools(tools []llm.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toToolConfig(choice llm.ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	if choice == llm.ToolChoiceNone {
		mode = genai.FunctionCallingConfigModeNone
	}
	return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
}

// fromResponse maps the first candidate to an assistant message
func fromResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, llm.ErrNoChoice
	}
	candidate := resp.Candidates[0]

	msg := llm.Message{Role: llm.RoleAssistant}
	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			switch {
			case part == nil || part.Thought:
			case part.FunctionCall != nil:
				call, err := fromFunctionCall(part.FunctionCall)
				if err != nil {
					return nil, err
				}
				msg.ToolCalls = append(msg.ToolCalls, call)
			case part.Text != "":
				text.WriteString(part.Text)
			}
		}
		msg.Content = text.String()
	}

	return &llm.Response{
		Message:      msg,
		FinishReason: finishReason(candidate.FinishReason, len(msg.ToolCalls) > 0),
		Usage:        fromUsage(resp.UsageMetadata),
	}, nil
}

func fromFunctionCall(fc *genai.FunctionCall) (llm.ToolCall, error) {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args := "{}"
	if len(fc.Args) > 0 {
		encoded, err := sonic.MarshalString(fc.Args)
		if err != nil {
			return llm.ToolCall{}, fmt.Errorf("encode arguments for %s: %w", fc.Name, err)
		}
		args = encoded
	}
	return llm.ToolCall{ID: id, Name: fc.Name, Arguments: args}, nil
}

func fromUsage(meta *genai.GenerateContentResponseUsageMetadata) llm.Usage {
	if meta == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(meta.PromptTokenCount + meta.ToolUsePromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount + meta.ThoughtsTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
	}
}

func finishReason(reason genai.FinishReason, toolCalls bool) string {
	switch {
	case toolCalls:
		return "tool_calls"
	case reason == genai.FinishReasonMaxTokens:
		return "length"
	case reason == genai.FinishReasonStop, reason == "":
		return "stop"
	default:
		return strings.ToLower(string(reason))
	}
}

// classify marks overload and server-side failures as unavailable
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
		}
	}
	return err
}
