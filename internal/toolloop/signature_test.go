package toolloop

import (
	"testing"

	agentcore "github.com/havenrun/agentcore"
)

func TestRoundSignatureIgnoresOrder(t *testing.T) {
	a := []agentcore.ToolCall{{Name: "x", Args: `{"a":1}`}, {Name: "y", Args: `{"b":2}`}}
	b := []agentcore.ToolCall{{Name: "y", Args: `{"b":2}`}, {Name: "x", Args: `{"a":1}`}}
	if roundSignature(a) != roundSignature(b) {
		t.Fatal("expected round signature to be order-independent")
	}
}

func TestCallSignatureDistinguishesArgs(t *testing.T) {
	c1 := agentcore.ToolCall{Name: "x", Args: `{"a":1}`}
	c2 := agentcore.ToolCall{Name: "x", Args: `{"a":2}`}
	if callSignature(c1) == callSignature(c2) {
		t.Fatal("expected different arguments to produce different signatures")
	}
}
