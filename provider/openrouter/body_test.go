package openrouter

import (
	"encoding/json"
	"testing"

	agentcore "github.com/havenrun/agentcore"
)

func TestBuildBody_SystemAndUser(t *testing.T) {
	req := buildBody(agentcore.ChatRequest{
		Model: "gpt-4o",
		Messages: []agentcore.ChatMessage{
			{Role: agentcore.RoleSystem, Content: "Be helpful."},
			{Role: agentcore.RoleUser, Content: "Hello"},
		},
	})

	if req.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("expected role system, got %q", req.Messages[0].Role)
	}
	if req.Messages[1].Role != "user" {
		t.Errorf("expected role user, got %q", req.Messages[1].Role)
	}
}

func TestBuildBody_FunctionCallPair(t *testing.T) {
	req := buildBody(agentcore.ChatRequest{
		Model: "gpt-4o",
		Messages: []agentcore.ChatMessage{
			{Type: "function_call", CallID: "call_1", ToolName: "search", ToolArgs: `{"q":"cats"}`},
			{Type: "function_call_output", CallID: "call_1", ToolOutput: "10 results"},
		},
	})

	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}

	assistantMsg := req.Messages[0]
	if assistantMsg.Role != "assistant" {
		t.Errorf("expected role assistant, got %q", assistantMsg.Role)
	}
	if len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(assistantMsg.ToolCalls))
	}
	if assistantMsg.ToolCalls[0].Function.Name != "search" {
		t.Errorf("expected function name search, got %q", assistantMsg.ToolCalls[0].Function.Name)
	}
	if assistantMsg.ToolCalls[0].Function.Arguments != `{"q":"cats"}` {
		t.Errorf("unexpected arguments: %q", assistantMsg.ToolCalls[0].Function.Arguments)
	}

	toolMsg := req.Messages[1]
	if toolMsg.Role != "tool" {
		t.Errorf("expected role tool, got %q", toolMsg.Role)
	}
	if toolMsg.Content != "10 results" {
		t.Errorf("unexpected tool content: %v", toolMsg.Content)
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("expected tool_call_id call_1, got %q", toolMsg.ToolCallID)
	}
}

func TestBuildBody_ImageParts(t *testing.T) {
	req := buildBody(agentcore.ChatRequest{
		Model: "gpt-4o",
		Messages: []agentcore.ChatMessage{
			{
				Role: agentcore.RoleUser,
				Parts: []agentcore.ContentPart{
					{Type: "text", Text: "What is this?"},
					{Type: "image_url", ImageURL: "data:image/png;base64,iVBOR..."},
				},
			},
		},
	})

	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}

	blocks, ok := req.Messages[0].Content.([]contentBlock)
	if !ok {
		t.Fatalf("expected content []contentBlock, got %T", req.Messages[0].Content)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "text" || blocks[0].Text != "What is this?" {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].Type != "image_url" || blocks[1].ImageURL == nil || blocks[1].ImageURL.URL != "data:image/png;base64,iVBOR..." {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
}

func TestBuildBody_WithTools(t *testing.T) {
	req := buildBody(agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hello"}},
		Tools: []agentcore.ToolDefinition{
			{Name: "get_weather", Description: "Get the weather", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})

	if len(req.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(req.Tools))
	}
	if req.Tools[0].Function.Name != "get_weather" {
		t.Errorf("expected get_weather, got %q", req.Tools[0].Function.Name)
	}
}

func TestBuildBody_TemperatureAndMaxTokens(t *testing.T) {
	req := buildBody(agentcore.ChatRequest{
		Model:           "gpt-4o",
		Messages:        []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
		Temperature:     0.7,
		MaxOutputTokens: 2048,
	})

	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", req.Temperature)
	}
	if req.MaxTokens != 2048 {
		t.Errorf("expected max_tokens 2048, got %d", req.MaxTokens)
	}
}

func TestBuildToolDefs_EmptyParametersDefaultToObject(t *testing.T) {
	out := buildToolDefs([]agentcore.ToolDefinition{
		{Name: "calc", Description: "Calculate"},
	})
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if string(out[0].Function.Parameters) != "{}" {
		t.Errorf("expected empty parameters to default to {}, got %q", out[0].Function.Parameters)
	}
}
