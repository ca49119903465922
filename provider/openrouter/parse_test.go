package openrouter

import "testing"

func TestParseResponse_TextOnly(t *testing.T) {
	resp := parseResponse(wireResponse{
		Choices: []wireChoice{{Message: &wireChoiceMessage{Role: "assistant", Content: "Hello!"}}},
		Usage:   &wireUsage{PromptTokens: 5, CompletionTokens: 2},
	})

	if resp.Text != "Hello!" {
		t.Errorf("expected text Hello!, got %q", resp.Text)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if len(resp.PendingCalls) != 0 {
		t.Errorf("expected no pending calls, got %d", len(resp.PendingCalls))
	}
}

func TestParseResponse_ToolCalls(t *testing.T) {
	resp := parseResponse(wireResponse{
		Choices: []wireChoice{{
			Message: &wireChoiceMessage{
				Role: "assistant",
				ToolCalls: []wireToolCallReq{
					{ID: "call_abc", Function: wireFunctionCall{Name: "get_weather", Arguments: `{"city":"London"}`}},
				},
			},
		}},
	})

	if len(resp.PendingCalls) != 1 {
		t.Fatalf("expected 1 pending call, got %d", len(resp.PendingCalls))
	}
	if resp.PendingCalls[0].Name != "get_weather" {
		t.Errorf("expected get_weather, got %q", resp.PendingCalls[0].Name)
	}
	if resp.PendingCalls[0].Args != `{"city":"London"}` {
		t.Errorf("unexpected args: %q", resp.PendingCalls[0].Args)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp := parseResponse(wireResponse{})
	if resp.Text != "" || len(resp.PendingCalls) != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
}

func TestParseToolCalls_MalformedArgumentsDefaultToEmptyObject(t *testing.T) {
	calls := parseToolCalls([]wireToolCallReq{
		{ID: "call_1", Function: wireFunctionCall{Name: "search", Arguments: "not json"}},
	})
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Args != "{}" {
		t.Errorf("expected malformed args to default to {}, got %q", calls[0].Args)
	}
}
