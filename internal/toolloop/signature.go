package toolloop

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	agentcore "github.com/havenrun/agentcore"
)

// callSignature canonicalizes one call's (name, arguments) pair into a
// stable string: arguments are decoded and re-marshaled with sorted
// keys so semantically identical calls collapse to one signature
// regardless of JSON key order.
func callSignature(call agentcore.ToolCall) string {
	return call.Name + ":" + canonicalizeArgs(call.Args)
}

func canonicalizeArgs(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	canon, err := marshalSorted(v)
	if err != nil {
		return raw
	}
	return canon
}

func marshalSorted(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vs, err := marshalSorted(t[k])
			if err != nil {
				return "", err
			}
			b.WriteString(vs)
		}
		b.WriteByte('}')
		return b.String(), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			vs, err := marshalSorted(e)
			if err != nil {
				return "", err
			}
			b.WriteString(vs)
		}
		b.WriteByte(']')
		return b.String(), nil
	default:
		out, err := json.Marshal(t)
		return string(out), err
	}
}

// roundSignature is the normalized multiset of per-call signatures in
// one round: sorted so call order within the round doesn't affect
// equality.
func roundSignature(calls []agentcore.ToolCall) string {
	sigs := make([]string, len(calls))
	for i, c := range calls {
		sigs[i] = callSignature(c)
	}
	sort.Strings(sigs)
	joined := strings.Join(sigs, "\x1f")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
