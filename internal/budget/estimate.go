// Package budget implements the Context Budgeter & Progressive Trimmer:
// token estimation against a model's declared context window, budget
// derivation, and the message-assembly algorithm that keeps a prompt
// within that window.
package budget

import (
	"math"

	agentcore "github.com/havenrun/agentcore"
)

// safetyMargin compensates for byte-count underestimation of token
// count; applied once to the final estimate of a request.
const safetyMargin = 1.3

// Estimator turns text/messages into a token count using the
// byte-count heuristic: tokens(text) = ceil(utf8_bytes(text) *
// tokens_per_char); every message adds tokens_per_message, every call
// adds tokens_per_request.
type Estimator struct {
	cfg agentcore.TokenEstimateConfig
}

// NewEstimator builds an Estimator from the resolved per-request token
// estimate configuration.
func NewEstimator(cfg agentcore.TokenEstimateConfig) Estimator {
	if cfg.TokensPerChar <= 0 {
		cfg.TokensPerChar = 0.25
	}
	return Estimator{cfg: cfg}
}

// Tokens estimates the token count of a single string, with no
// per-message/per-request overhead added.
func (e Estimator) Tokens(text string) int {
	return int(math.Ceil(float64(len(text)) * e.cfg.TokensPerChar))
}

// Message estimates one message's contribution including the
// per-message overhead.
func (e Estimator) Message(content string) int {
	return e.Tokens(content) + e.cfg.TokensPerMessage
}

// Messages sums Message over a slice of chat messages, using whichever
// of Content or the serialized tool fields is non-empty.
func (e Estimator) Messages(msgs []agentcore.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		text := m.Content
		if text == "" {
			text = m.ToolArgs + m.ToolOutput
		}
		total += e.Message(text)
	}
	return total
}

// Request estimates the full request contribution: message tokens plus
// the flat per-request overhead, times the safety margin.
func (e Estimator) Request(msgs []agentcore.ChatMessage) int {
	raw := e.Messages(msgs) + e.cfg.TokensPerRequest
	return int(math.Ceil(float64(raw) * safetyMargin))
}

// WithSafetyMargin applies the 1.3x safety margin to an already-computed
// raw token count, for callers estimating a single string outside the
// Messages/Request helpers (e.g. the system prompt builder).
func WithSafetyMargin(raw int) int {
	return int(math.Ceil(float64(raw) * safetyMargin))
}
