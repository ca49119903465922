// Package daemon implements the Request Daemon & Worker Supervisor and
// the Heartbeat Reporter: a filesystem-polling loop that claims one
// request at a time from a spool directory, runs it in an isolated
// goroutine so a crash can't take down the poll loop, and publishes
// the result atomically to a response spool.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	agentcore "github.com/havenrun/agentcore"
	"github.com/havenrun/agentcore/internal/protocol"
)

// Config tunes poll cadence, heartbeat interval, and shutdown grace.
type Config struct {
	RequestDir          string
	ResponseDir         string
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	ShutdownGrace       time.Duration
	WatchFS             bool
}

// RunFunc executes one request to completion, returning the response
// to publish. It must observe ctx cancellation promptly: the daemon
// cancels ctx when a matching <id>.cancel file appears.
type RunFunc func(ctx context.Context, id string, req agentcore.Request) agentcore.Response

// Daemon is the top-level request-processing loop.
type Daemon struct {
	cfg    Config
	run    RunFunc
	logger *slog.Logger

	heartbeat *HeartbeatReporter

	mu              sync.Mutex
	restartCount    int
	restartWindow   time.Time
	restartsBlocked bool

	shuttingDown    bool
	shutdownTimedOut bool
}

// New creates a Daemon. run is invoked once per claimed request.
func New(cfg Config, run RunFunc, logger *slog.Logger) *Daemon {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, run: run, logger: logger}
}

// RunWithSignal runs the daemon until SIGINT/SIGTERM, then shuts down
// gracefully. Returns the exit code the process should use: 0 on clean
// shutdown, 1 if shutdown timed out with a request still in flight.
func (d *Daemon) RunWithSignal() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// Run executes the poll loop until ctx is canceled, then drains any
// in-flight request within the configured shutdown grace.
func (d *Daemon) Run(ctx context.Context) int {
	if err := os.MkdirAll(d.cfg.RequestDir, 0o700); err != nil {
		d.logger.Error("daemon: ensure request dir", "error", err)
		return 1
	}
	if err := os.MkdirAll(d.cfg.ResponseDir, 0o700); err != nil {
		d.logger.Error("daemon: ensure response dir", "error", err)
		return 1
	}

	startedAt := time.Now().UnixMilli()
	d.startHeartbeat(filepath.Dir(d.cfg.RequestDir), startedAt)
	defer func() {
		d.heartbeat.notifyShutdown()
		<-d.heartbeat.done
	}()

	wake := d.watchFS()
	if wake != nil {
		defer close(wake)
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.pollOnce(ctx)
		case <-wake:
			d.pollOnce(ctx)
		}
	}
}

func (d *Daemon) startHeartbeat(ipcDir string, startedAt int64) {
	d.heartbeat = newHeartbeatReporter(ipcDir, d.cfg.HeartbeatInterval, startedAt)
	go d.superviseHeartbeat()
}

// superviseHeartbeat restarts the reporter with exponential backoff
// (1s doubling to 10s cap) on crash, up to 5 restarts per rolling 60s
// window, after which restarts are permanently disabled for this
// daemon instance.
func (d *Daemon) superviseHeartbeat() {
	backoff := time.Second
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("daemon: heartbeat reporter crashed", "panic", r)
				}
			}()
			d.heartbeat.run()
		}()

		d.mu.Lock()
		if d.shuttingDown {
			d.mu.Unlock()
			return
		}
		now := time.Now()
		if now.Sub(d.restartWindow) > 60*time.Second {
			d.restartWindow = now
			d.restartCount = 0
		}
		d.restartCount++
		if d.restartCount > 5 {
			d.restartsBlocked = true
		}
		blocked := d.restartsBlocked
		d.mu.Unlock()

		if blocked {
			d.logger.Error("daemon: heartbeat reporter restart budget exhausted, giving up")
			return
		}

		d.logger.Warn("daemon: heartbeat reporter exited, restarting", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}

		d.mu.Lock()
		ipcDir := filepath.Dir(d.heartbeat.heartbeatPath)
		interval := d.heartbeat.interval
		startedAt := d.heartbeat.startedAt
		d.mu.Unlock()
		d.heartbeat = newHeartbeatReporter(ipcDir, interval, startedAt)
	}
}

// watchFS starts an fsnotify watcher on the request directory,
// returning a channel woken on Create/Rename events as a latency
// optimization between poll ticks. Returns nil when disabled or if the
// watcher can't be created (e.g. inotify exhaustion); the poll loop
// alone remains correct either way.
func (d *Daemon) watchFS() chan struct{} {
	if !d.cfg.WatchFS {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("daemon: fsnotify unavailable, polling only", "error", err)
		return nil
	}
	if err := watcher.Add(d.cfg.RequestDir); err != nil {
		d.logger.Warn("daemon: fsnotify watch failed, polling only", "error", err)
		watcher.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake
}

// pollOnce scans the request directory in ascending filename order and
// dispatches the first undispatched request found. Only one request
// runs at a time in this configuration.
func (d *Daemon) pollOnce(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.RequestDir)
	if err != nil {
		d.logger.Error("daemon: scan request dir", "error", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return
	}
	d.dispatch(ctx, names[0])
}

func (d *Daemon) dispatch(ctx context.Context, filename string) {
	id := strings.TrimSuffix(filename, ".json")
	path := filepath.Join(d.cfg.RequestDir, filename)
	cancelPath := protocol.CancelFileName(d.cfg.RequestDir, id)

	if _, err := os.Stat(cancelPath); err == nil {
		os.Remove(path)
		os.Remove(cancelPath)
		return
	}

	req, resolvedID, err := protocol.ReadRequest(path, id)
	if err != nil {
		d.publishAndRemove(resolvedID, path, protocol.ErrorResponse(err.Error()))
		return
	}

	d.heartbeat.notifyProcessing(resolvedID)
	defer d.heartbeat.notifyIdle()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan agentcore.Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- protocol.ErrorResponse("worker panic: request failed unexpectedly")
			}
		}()
		resultCh <- d.run(runCtx, resolvedID, req)
	}()

	cancelPoll := d.cfg.PollInterval / 2
	if cancelPoll < 100*time.Millisecond {
		cancelPoll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case resp := <-resultCh:
			d.publishAndRemove(resolvedID, path, resp)
			return
		case <-ticker.C:
			if _, err := os.Stat(cancelPath); err == nil {
				cancel()
				os.Remove(cancelPath)
				<-resultCh // wait for the worker to observe cancellation and exit
				os.Remove(path)
				return
			}
		case <-ctx.Done():
			// Outer shutdown: give the in-flight request up to the
			// configured grace period before writing a synthetic
			// failure response and abandoning it.
			select {
			case resp := <-resultCh:
				d.publishAndRemove(resolvedID, path, resp)
			case <-time.After(d.cfg.ShutdownGrace):
				d.mu.Lock()
				d.shutdownTimedOut = true
				d.mu.Unlock()
				d.publishAndRemove(resolvedID, path, protocol.ErrorResponse("Daemon shutting down"))
			}
			return
		}
	}
}

func (d *Daemon) publishAndRemove(id, requestPath string, resp agentcore.Response) {
	if err := protocol.WriteResponse(d.cfg.ResponseDir, id, resp); err != nil {
		d.logger.Error("daemon: publish response", "id", id, "error", err)
		return
	}
	os.Remove(requestPath)
}

// shutdown sets shuttingDown, notifies the heartbeat reporter, and
// reports the outcome: 1 if dispatch() gave up on an in-flight request
// after ShutdownGrace, else 0. It does no waiting of its own; the
// bounded drain of in-flight work happens in dispatch().
func (d *Daemon) shutdown() int {
	d.mu.Lock()
	d.shuttingDown = true
	d.mu.Unlock()

	d.heartbeat.notifyShutdown()

	d.mu.Lock()
	timedOut := d.shutdownTimedOut
	d.mu.Unlock()
	if timedOut {
		return 1
	}
	return 0
}
