// Package agentcore implements the Agent Runtime Core: a long-lived
// in-container orchestrator that turns a single request into a bounded,
// tool-using LLM conversation with durable session memory, cooperative
// context budgeting, a fault-tolerant tool-execution loop, and a
// filesystem-backed request/response daemon.
//
// The package root holds the contracts every subsystem depends on
// (Provider, Tool, ChatMessage, Request, Response) so that internal
// packages and out-of-tree providers/tools can be wired against a single
// stable surface, the way a Provider or Tool plugs into an assistant
// host.
//
// Quick start:
//
//	cfg := config.Load("")
//	prov := openrouter.New(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL)
//	sessions, _ := session.NewStore(cfg.Daemon.SessionRoot)
//	worker := &daemon.Worker{Provider: prov, Sessions: sessions, Registry: registry,
//		Router: router.New(prov, logger), Config: cfg, Logger: logger}
//	d := daemon.New(daemon.Config{RequestDir: cfg.Daemon.RequestDir,
//		ResponseDir: cfg.Daemon.ResponseDir}, worker.Run, logger)
//	os.Exit(d.RunWithSignal())
package agentcore

import "context"

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one element of a multi-part message: parts with Type
// "text" and, for image attachments, Type "image_url". Text-only
// messages use ChatMessage.Content and carry no parts.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatMessage is one turn of conversation, either plain text or, for the
// tool-execution loop, a function_call / function_call_output item.
type ChatMessage struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`

	// Tool-call plumbing. Type distinguishes ordinary messages from the
	// two protocol item kinds the tool loop must never splice apart.
	Type       string `json:"type,omitempty"` // "", "function_call", "function_call_output"
	CallID     string `json:"call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolArgs   string `json:"tool_args,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// ToolDefinition is a schema-only tool descriptor handed to the LLM. It
// deliberately carries no executable function: the execute hook is kept
// in application code so the tool-execution loop, not the SDK, drives
// dispatch.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"` // JSON schema
}

// ToolCall is one function-call the model asked to perform.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"` // raw JSON
}

// Tool is the executable counterpart of a ToolDefinition. Concrete tools
// live outside this package (tools/fsops holds the filesystem tools);
// Tool is the narrow contract the loop dispatches against.
type Tool interface {
	Definition() ToolDefinition
	// Idempotent reports whether retrying this tool on a transient
	// failure is safe. Only idempotent tools are retried by the loop.
	Idempotent() bool
	Execute(ctx context.Context, args string) (string, error)
}

// ToolRegistry maps tool name to Tool, in registration order for schema
// listing.
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Add registers t, replacing any prior tool of the same name in place.
func (r *ToolRegistry) Add(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool named name, or nil if unregistered.
func (r *ToolRegistry) Get(name string) Tool { return r.tools[name] }

// Definitions returns schema-only descriptors in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Usage reports token accounting for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ModelCapabilities describes what the host knows about a model; it is
// supplied by the caller, never inferred. Context length and completion
// caps come from the host, not from the core's knowledge of models.
type ModelCapabilities struct {
	ContextLength int `json:"context_length"`
}

// ChatRequest is one call to a Provider.
type ChatRequest struct {
	Model           string
	Messages        []ChatMessage
	Tools           []ToolDefinition
	Temperature     float64
	MaxOutputTokens int
	ReasoningEffort string // off|low|medium|high
	ResponseSchema  any    // optional JSON schema for structured output
}

// ChatResponse is the result of one LLM call.
type ChatResponse struct {
	Text         string
	PendingCalls []ToolCall
	Usage        Usage
}

// StreamEvent is one incremental text delta from ChatStream.
type StreamEvent struct {
	Delta string
	Done  bool
}

// Provider is the contract for a remote LLM backend. The remote HTTP
// protocol itself is out of this module's scope; Provider is the
// interface the router and tool loop program against.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
}

// Attachment is an inbound request attachment (currently images only).
type Attachment struct {
	Kind     string `json:"kind"` // "image"
	DataURI  string `json:"data_uri"`
	SizeByte int    `json:"size_bytes"`
}

// ToolPolicy bounds which tools a run may call and how many times.
type ToolPolicy struct {
	Allow            []string       `json:"allow,omitempty"`
	Deny             []string       `json:"deny,omitempty"`
	MaxPerRun        map[string]int `json:"max_per_run,omitempty"`
	DefaultMaxPerRun int            `json:"default_max_per_run,omitempty"`
}

// TokenEstimateConfig tunes the byte-count heuristic in internal/budget.
type TokenEstimateConfig struct {
	TokensPerChar    float64 `json:"tokens_per_char"`
	TokensPerMessage int     `json:"tokens_per_message"`
	TokensPerRequest int     `json:"tokens_per_request"`
}

// Request is the full input envelope for one run of the core, as read
// from the request spool.
type Request struct {
	ID                   string              `json:"id"`
	Prompt               string              `json:"prompt"`
	SessionID            string              `json:"sessionId,omitempty"`
	Attachments          []Attachment        `json:"attachments,omitempty"`
	ModelOverride        string              `json:"modelOverride,omitempty"`
	ModelFallbacks       []string            `json:"modelFallbacks,omitempty"`
	ModelCapabilities    ModelCapabilities   `json:"modelCapabilities"`
	ModelMaxOutputTokens int                 `json:"modelMaxOutputTokens,omitempty"`
	ModelTemperature     *float64            `json:"modelTemperature,omitempty"`
	ReasoningEffort      string              `json:"reasoningEffort,omitempty"`
	MaxToolSteps         int                 `json:"maxToolSteps,omitempty"`
	ToolPolicy           ToolPolicy          `json:"toolPolicy"`
	MemoryRecall         []string            `json:"memoryRecall,omitempty"`
	UserProfile          string              `json:"userProfile,omitempty"`
	BehaviorConfig       map[string]string   `json:"behaviorConfig,omitempty"`
	StreamDir            string              `json:"streamDir,omitempty"`
	IsScheduledTask      bool                `json:"isScheduledTask,omitempty"`
	TaskID               string              `json:"taskId,omitempty"`
	Timezone             string              `json:"timezone,omitempty"`
	HostPlatform         string              `json:"hostPlatform,omitempty"`
	TokenEstimate        TokenEstimateConfig `json:"tokenEstimate"`

	DisableTools  bool `json:"disableTools,omitempty"`
	DisableMemory bool `json:"disableMemory,omitempty"`
	DisableStream bool `json:"disableStream,omitempty"`
}

// RequestEnvelope wraps a Request when the spool file carries an
// explicit id alongside the payload: `{id, input: Request}`.
type RequestEnvelope struct {
	ID    string  `json:"id"`
	Input Request `json:"input"`
}

// ToolCallRecord is the externally observable record of one tool
// invocation within a run.
type ToolCallRecord struct {
	Name            string `json:"name"`
	Args            string `json:"args"` // redacted
	OK              bool   `json:"ok"`
	DurationMS      int64  `json:"duration_ms"`
	Error           string `json:"error,omitempty"`
	OutputBytes     int    `json:"output_bytes,omitempty"`
	OutputTruncated bool   `json:"output_truncated,omitempty"`
}

// Timings captures per-phase latency for observability.
type Timings struct {
	PlannerMS            int64 `json:"planner_ms,omitempty"`
	ResponseValidationMS int64 `json:"response_validation_ms,omitempty"`
	MemoryExtractionMS   int64 `json:"memory_extraction_ms,omitempty"`
	ToolMS               int64 `json:"tool_ms,omitempty"`
}

// ResponseStatus is the outcome of a run.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// Response is the full output envelope for one run, as written to the
// response spool.
type Response struct {
	Status                   ResponseStatus    `json:"status"`
	Result                   *string           `json:"result"`
	Error                    string            `json:"error,omitempty"`
	NewSessionID             string            `json:"newSessionId,omitempty"`
	Model                    string            `json:"model,omitempty"`
	MemorySummary            string            `json:"memory_summary,omitempty"`
	MemoryFacts              []string          `json:"memory_facts,omitempty"`
	TokensPrompt             int               `json:"tokens_prompt"`
	TokensCompletion         int               `json:"tokens_completion"`
	ToolCalls                []ToolCallRecord  `json:"tool_calls,omitempty"`
	ToolRetryAttempts        int               `json:"tool_retry_attempts,omitempty"`
	ToolLoopBreakerTriggered bool              `json:"tool_loop_breaker_triggered,omitempty"`
	ToolLoopBreakerReason    string            `json:"tool_loop_breaker_reason,omitempty"`
	LatencyMS                int64             `json:"latency_ms"`
	ReplyToID                string            `json:"replyToId,omitempty"`
	Timings                  Timings           `json:"timings,omitempty"`
	PromptPackVersions       map[string]string `json:"prompt_pack_versions,omitempty"`
}
