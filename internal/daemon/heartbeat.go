package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/havenrun/agentcore/internal/protocol"
)

// statusState is the heartbeat reporter's lifecycle state, mirrored
// into daemon_status.json on every tick and every transition.
type statusState string

const (
	statusProcessing statusState = "processing"
	statusIdle       statusState = "idle"
)

// daemonStatus is the structured shape written to daemon_status.json.
type daemonStatus struct {
	State     statusState `json:"state"`
	TS        int64       `json:"ts"`
	RequestID string      `json:"request_id,omitempty"`
	StartedAt int64       `json:"started_at"`
	PID       int         `json:"pid"`
}

// heartbeatMsg is one state-transition notification sent to the
// reporter; exactly one of the three fields is meaningful per message.
type heartbeatMsg struct {
	processing bool
	requestID  string
	idle       bool
	shutdown   bool
}

// HeartbeatReporter runs in its own goroutine, writing the heartbeat
// and status files on a fixed interval and immediately on every
// state-transition message it receives.
type HeartbeatReporter struct {
	heartbeatPath string
	statusPath    string
	interval      time.Duration
	startedAt     int64

	msgs chan heartbeatMsg
	done chan struct{}
}

// newHeartbeatReporter creates a reporter writing to ipcDir/heartbeat
// and ipcDir/daemon_status.json.
func newHeartbeatReporter(ipcDir string, interval time.Duration, startedAt int64) *HeartbeatReporter {
	return &HeartbeatReporter{
		heartbeatPath: filepath.Join(ipcDir, "heartbeat"),
		statusPath:    filepath.Join(ipcDir, "daemon_status.json"),
		interval:      interval,
		startedAt:     startedAt,
		msgs:          make(chan heartbeatMsg, 8),
		done:          make(chan struct{}),
	}
}

// notifyProcessing, notifyIdle, notifyShutdown send a state-transition
// message, triggering an immediate write. Non-blocking: a full channel
// drops the message rather than stalling the caller, since the next
// timer tick will reassert the current state regardless.
func (h *HeartbeatReporter) notifyProcessing(requestID string) {
	select {
	case h.msgs <- heartbeatMsg{processing: true, requestID: requestID}:
	default:
	}
}

func (h *HeartbeatReporter) notifyIdle() {
	select {
	case h.msgs <- heartbeatMsg{idle: true}:
	default:
	}
}

func (h *HeartbeatReporter) notifyShutdown() {
	select {
	case h.msgs <- heartbeatMsg{shutdown: true}:
	default:
	}
}

// run is the reporter's main loop. It exits (closing done) after
// writing the final shutdown status, or if it panics — the caller
// supervises restarts.
func (h *HeartbeatReporter) run() {
	defer close(h.done)

	state := statusIdle
	var currentRequestID string
	h.write(state, currentRequestID)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.write(state, currentRequestID)

		case msg := <-h.msgs:
			switch {
			case msg.processing:
				state = statusProcessing
				currentRequestID = msg.requestID
				h.write(state, currentRequestID)
			case msg.idle:
				state = statusIdle
				currentRequestID = ""
				h.write(state, currentRequestID)
			case msg.shutdown:
				// Final write on shutdown must still report a valid
				// externally-observable state: idle, not a "shutdown"
				// value the schema never defines.
				h.write(statusIdle, "")
				return
			}
		}
	}
}

func (h *HeartbeatReporter) write(state statusState, requestID string) {
	now := nowMs()
	_ = protocol.WriteFileAtomic(h.heartbeatPath, []byte(fmt.Sprintf("%d", now)), 0o600)

	status := daemonStatus{
		State:     state,
		TS:        now,
		RequestID: requestID,
		StartedAt: h.startedAt,
		PID:       os.Getpid(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = protocol.WriteFileAtomic(h.statusPath, data, 0o600)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
