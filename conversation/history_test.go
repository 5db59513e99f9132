package conversation

import (
	"testing"

	"github.com/room4-2/OrderDesk/llm"
)

func assistantWithCalls(ids ...string) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, id := range ids {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: id, Name: "calculate_cart", Arguments: "{}"})
	}
	return msg
}

func toolResult(id string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: id, Content: `{"ok":true}`}
}

func TestValidateHistoryKeepsCompleteRounds(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "two burgers"},
		assistantWithCalls("a", "b"),
		toolResult("b"),
		toolResult("a"),
		{Role: llm.RoleAssistant, Content: "done"},
	}

	out := ValidateHistory(msgs)
	if len(out) != 5 {
		t.Fatalf("expected all 5 messages kept, got %d", len(out))
	}
	if out[2].ToolCallID != "a" || out[3].ToolCallID != "b" {
		t.Fatalf("expected results reordered to call order, got %q, %q", out[2].ToolCallID, out[3].ToolCallID)
	}
}

func TestValidateHistoryDropsIncompleteRound(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		assistantWithCalls("a", "b"),
		toolResult("a"),
		{Role: llm.RoleUser, Content: "hello?"},
	}

	out := ValidateHistory(msgs)
	if len(out) != 2 {
		t.Fatalf("expected only the user messages, got %d messages", len(out))
	}
	for _, msg := range out {
		if msg.Role != llm.RoleUser {
			t.Fatalf("expected only user messages, got %s", msg.Role)
		}
	}
}

func TestValidateHistoryDropsOrphanResults(t *testing.T) {
	msgs := []llm.Message{
		toolResult("x"),
		{Role: llm.RoleUser, Content: "hi"},
		toolResult("y"),
		{Role: llm.RoleAssistant, Content: "hello"},
	}

	out := ValidateHistory(msgs)
	if len(out) != 2 || out[0].Role != llm.RoleUser || out[1].Role != llm.RoleAssistant {
		t.Fatalf("expected orphaned results dropped, got %+v", out)
	}
}

func TestValidateHistoryIgnoresExtraResults(t *testing.T) {
	msgs := []llm.Message{
		assistantWithCalls("a"),
		toolResult("a"),
		toolResult("zzz"),
	}

	out := ValidateHistory(msgs)
	if len(out) != 2 {
		t.Fatalf("expected unmatched result in the run to be dropped, got %d", len(out))
	}
}

func TestValidateHistoryEmpty(t *testing.T) {
	if out := ValidateHistory(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}
