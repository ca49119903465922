package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	agentcore "github.com/havenrun/agentcore"
)

// RequestFileName returns the spool filename for a request id.
func RequestFileName(dir, id string) string { return filepath.Join(dir, id+".json") }

// CancelFileName returns the cooperative-cancellation sentinel filename
// for a request id.
func CancelFileName(dir, id string) string { return filepath.Join(dir, id+".cancel") }

// ResponseFileName returns the spool filename for a response.
func ResponseFileName(dir, id string) string { return filepath.Join(dir, id+".json") }

// ReadRequest parses a request spool file. The file contains either a
// bare Request or {id, input: Request}; id, when present, overrides the
// filename-derived id.
func ReadRequest(path, filenameID string) (agentcore.Request, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agentcore.Request{}, filenameID, fmt.Errorf("protocol: read request: %w", err)
	}

	// An "input" key marks the envelope form.
	var probe struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && len(probe.Input) > 0 {
		var env agentcore.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return agentcore.Request{}, filenameID, &agentcore.ErrValidation{Message: fmt.Sprintf("malformed request JSON: %v", err)}
		}
		if env.ID == "" {
			env.ID = filenameID
		}
		return env.Input, env.ID, nil
	}

	var req agentcore.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return agentcore.Request{}, filenameID, &agentcore.ErrValidation{Message: fmt.Sprintf("malformed request JSON: %v", err)}
	}
	id := req.ID
	if id == "" {
		id = filenameID
	}
	return req, id, nil
}

// WriteResponse atomically publishes resp to dir/<id>.json.
func WriteResponse(dir, id string, resp agentcore.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("protocol: marshal response: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("protocol: ensure response dir: %w", err)
	}
	return WriteFileAtomic(ResponseFileName(dir, id), data, 0o600)
}

// ErrorResponse builds a structured error Response, used for malformed
// requests, worker crashes, and the daemon-shutdown synthetic response.
func ErrorResponse(message string) agentcore.Response {
	return agentcore.Response{Status: agentcore.StatusError, Error: message}
}
