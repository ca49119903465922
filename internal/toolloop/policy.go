package toolloop

import (
	"fmt"
	"strings"

	agentcore "github.com/havenrun/agentcore"
)

// policyState tracks per-run call counts for the max_per_run gate.
type policyState struct {
	policy agentcore.ToolPolicy
	counts map[string]int
}

func newPolicyState(policy agentcore.ToolPolicy) *policyState {
	return &policyState{policy: policy, counts: make(map[string]int)}
}

// check enforces the deny/allow lists and the per-tool/default call
// cap, lowercase-matching tool names. It returns a non-nil error
// (never invoking the executor) when the call is disallowed, and
// otherwise records the call against its budget.
func (p *policyState) check(name string) error {
	lower := strings.ToLower(name)

	for _, d := range p.policy.Deny {
		if strings.ToLower(d) == lower {
			return fmt.Errorf("tool %q is denied by policy", name)
		}
	}
	if len(p.policy.Allow) > 0 {
		allowed := false
		for _, a := range p.policy.Allow {
			if strings.ToLower(a) == lower {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("tool %q is not in the allow list", name)
		}
	}

	limit := p.policy.DefaultMaxPerRun
	if p.policy.MaxPerRun != nil {
		if v, ok := p.policy.MaxPerRun[name]; ok {
			limit = v
		}
	}
	if limit > 0 && p.counts[lower] >= limit {
		return fmt.Errorf("tool %q exceeded max_per_run (%d)", name, limit)
	}

	p.counts[lower]++
	return nil
}

// nonRetryablePatterns match tool-failure messages that should never
// be retried and count toward the non-retryable-failure breaker.
var nonRetryablePatterns = []string{
	"invalid args",
	"invalid argument",
	"malformed",
	"not allowed",
	"is denied by policy",
	"is not in the allow list",
	"exceeded max_per_run",
	"escapes workspace",
	"path traversal",
}

func isNonRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range nonRetryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// transientPatterns match tool-failure messages eligible for the
// idempotent retry path (timeout, 5xx, network).
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline",
	"connection refused",
	"connection reset",
	"no such host",
	"eof",
	"temporary failure",
	"server error",
	"bad gateway",
	"unavailable",
	"5xx",
}

func isTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
