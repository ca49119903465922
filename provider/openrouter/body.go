package openrouter

import (
	"encoding/json"

	agentcore "github.com/havenrun/agentcore"
)

// buildBody converts agentcore chat messages and tool schemas into an
// OpenAI-format request body. Messages of Type "function_call" and
// "function_call_output" map to assistant tool_calls and tool-role
// results respectively; the tool-execution loop is responsible for
// never splicing one half of that pair without the other.
func buildBody(req agentcore.ChatRequest) wireRequest {
	var msgs []wireMessage

	for _, m := range req.Messages {
		switch {
		case m.Type == "function_call":
			msgs = append(msgs, wireMessage{
				Role: "assistant",
				ToolCalls: []wireToolCallReq{{
					ID:   m.CallID,
					Type: "function",
					Function: wireFunctionCall{
						Name:      m.ToolName,
						Arguments: m.ToolArgs,
					},
				}},
			})

		case m.Type == "function_call_output":
			msgs = append(msgs, wireMessage{
				Role:       "tool",
				Content:    m.ToolOutput,
				ToolCallID: m.CallID,
			})

		case len(m.Parts) > 0:
			blocks := make([]contentBlock, 0, len(m.Parts))
			for _, p := range m.Parts {
				if p.Type == "image_url" {
					blocks = append(blocks, contentBlock{Type: "image_url", ImageURL: &imageURL{URL: p.ImageURL}})
				} else {
					blocks = append(blocks, contentBlock{Type: "text", Text: p.Text})
				}
			}
			msgs = append(msgs, wireMessage{Role: string(m.Role), Content: blocks})

		default:
			msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	body := wireRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.MaxOutputTokens > 0 {
		body.MaxTokens = req.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		body.Tools = buildToolDefs(req.Tools)
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: "response", Schema: req.ResponseSchema, Strict: true},
		}
	}
	return body
}

func buildToolDefs(tools []agentcore.ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil || len(params) == 0 || string(params) == "null" {
			params = json.RawMessage(`{}`)
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
