package openrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	agentcore "github.com/havenrun/agentcore"
)

// streamSSE reads an OpenAI-format SSE stream from body, forwards text
// deltas to ch, and returns the fully accumulated response. ch is always
// closed before returning, matching the tool loop's expectation that a
// stream it is reading from terminates on its own.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- agentcore.StreamEvent) (agentcore.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	var text strings.Builder
	var usage agentcore.Usage

	type partialCall struct {
		id, name string
		args     strings.Builder
	}
	var calls []partialCall

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk wireResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}
		if delta.Content != "" {
			text.WriteString(delta.Content)
			select {
			case ch <- agentcore.StreamEvent{Delta: delta.Content}:
			case <-ctx.Done():
				return agentcore.ChatResponse{}, ctx.Err()
			}
		}
		for _, tc := range delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, partialCall{})
			}
			if tc.ID != "" {
				calls[tc.Index].id = tc.ID
			}
			if tc.Function.Name != "" {
				calls[tc.Index].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[tc.Index].args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return agentcore.ChatResponse{}, err
	}

	pending := make([]agentcore.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := c.args.String()
		if !json.Valid([]byte(args)) {
			args = "{}"
		}
		pending = append(pending, agentcore.ToolCall{ID: c.id, Name: c.name, Args: args})
	}

	return agentcore.ChatResponse{Text: text.String(), PendingCalls: pending, Usage: usage}, nil
}
