package conversation

import "github.com/room4-2/OrderDesk/llm"

// ValidateHistory returns a replay-safe copy of msgs.
//
// An assistant message with tool calls is kept only together with one result
// for every call, taken from the contiguous run of tool messages that follows
// it. If any call is unanswered the assistant message and its whole run are
// dropped. Tool messages that do not follow a tool-call message are orphans and
// are dropped. Every other message passes through unchanged.
func ValidateHistory(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))

	i := 0
	for i < len(msgs) {
		msg := msgs[i]

		switch {
		case msg.HasToolCalls():
			end := i + 1
			for end < len(msgs) && msgs[end].Role == llm.RoleTool {
				end++
			}

			if results, ok := matchResults(msg.ToolCalls, msgs[i+1:end]); ok {
				out = append(out, msg)
				out = append(out, results...)
			}
			i = end

		case msg.Role == llm.RoleTool:
			// orphaned result
			i++

		default:
			out = append(out, msg)
			i++
		}
	}

	return out
}

// matchResults pairs every call with the first result carrying its id, in call
// order. ok is false when any call has no result.
func matchResults(calls []llm.ToolCall, run []llm.Message) ([]llm.Message, bool) {
	byID := make(map[string]llm.Message, len(run))
	for _, result := range run {
		if _, seen := byID[result.ToolCallID]; seen {
			continue
		}
		byID[result.ToolCallID] = result
	}

	results := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		result, found := byID[call.ID]
		if !found {
			return nil, false
		}
		results = append(results, result)
	}
	return results, true
}
