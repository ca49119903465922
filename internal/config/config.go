// Package config implements declarative runtime configuration for the
// agent core: defaults, then a TOML file, then environment variables
// (env wins), mirroring the cascade the rest of this codebase's
// configuration loaders use.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	agentcore "github.com/havenrun/agentcore"
)

// Config is the single declarative object supplying every tunable named
// in the external-interfaces configuration enumeration.
type Config struct {
	Daemon        DaemonConfig        `toml:"daemon"`
	Models        ModelsConfig        `toml:"models"`
	Context       ContextConfig       `toml:"context"`
	Memory        MemoryConfig        `toml:"memory"`
	ToolLoop      ToolLoopConfig      `toml:"toolLoop"`
	ToolPolicy    ToolPolicyConfig    `toml:"toolPolicy"`
	PromptPacks   PromptPacksConfig   `toml:"promptPacks"`
	OpenRouter    OpenRouterConfig    `toml:"openrouter"`
	TokenEstimate agentcore.TokenEstimateConfig `toml:"tokenEstimate"`
	Reasoning     ReasoningConfig     `toml:"reasoning"`
	Observability ObservabilityConfig `toml:"observability"`
}

// DaemonConfig tunes the request daemon and heartbeat reporter.
type DaemonConfig struct {
	RequestDir        string `toml:"requestDir"`
	ResponseDir       string `toml:"responseDir"`
	SessionRoot       string `toml:"sessionRoot"`
	PollMs            int    `toml:"pollMs"`
	HeartbeatIntervalMs int  `toml:"heartbeatIntervalMs"`
	ShutdownGraceMs   int    `toml:"shutdownGraceMs"`
	WatchFS           bool   `toml:"watchFS"`
}

// ModelsConfig names the primary/fallback model chain and shared
// generation defaults. Per-request overrides still win.
type ModelsConfig struct {
	Primary         string   `toml:"primary"`
	Fallbacks       []string `toml:"fallbacks"`
	SummaryModel    string   `toml:"summaryModel"`
	Temperature     float64  `toml:"temperature"`
	MaxOutputTokens int      `toml:"maxOutputTokens"`
	SummaryMaxOutputTokens int `toml:"summaryMaxOutputTokens"`
	ContextLength   int      `toml:"contextLength"` // fallback when a request omits modelCapabilities
}

// ContextConfig tunes the context budgeter.
type ContextConfig struct {
	MaxContextTokens        int `toml:"maxContextTokens"`
	CompactionTriggerTokens int `toml:"compactionTriggerTokens"`
	RecentContextTokens     int `toml:"recentContextTokens"` // 0 = auto
	MaxContextMessageTokens int `toml:"maxContextMessageTokens"`
	MaxHistoryTurns         int `toml:"maxHistoryTurns"`
	ContextPruning          ContextPruningConfig `toml:"contextPruning"`
}

// ContextPruningConfig tunes soft-trim of oversized tool payloads.
type ContextPruningConfig struct {
	SoftTrimMaxChars  int `toml:"softTrimMaxChars"`
	SoftTrimHeadChars int `toml:"softTrimHeadChars"`
	SoftTrimTailChars int `toml:"softTrimTailChars"`
}

// MemoryConfig tunes session memory and the compaction pipeline.
type MemoryConfig struct {
	SummaryUpdateEveryMessages int                `toml:"summaryUpdateEveryMessages"`
	MaxResults                 int                `toml:"maxResults"`
	MaxTokens                  int                `toml:"maxTokens"`
	ArchiveSync                bool               `toml:"archiveSync"`
	ExtractScheduled           bool               `toml:"extractScheduled"`
	Extraction                 MemoryExtractionConfig `toml:"extraction"`
}

// MemoryExtractionConfig tunes fire-and-forget fact extraction.
type MemoryExtractionConfig struct {
	Enabled         bool `toml:"enabled"`
	MaxMessages     int  `toml:"maxMessages"`
	MaxOutputTokens int  `toml:"maxOutputTokens"`
}

// ToolLoopConfig tunes the tool-execution loop's livelock detection and
// retry behavior.
type ToolLoopConfig struct {
	MaxToolSteps                int  `toml:"maxToolSteps"`
	IdempotentRetryAttempts     int  `toml:"idempotentRetryAttempts"`
	IdempotentRetryBackoffMs    int  `toml:"idempotentRetryBackoffMs"`
	RepeatedSignatureThreshold  int  `toml:"repeatedSignatureThreshold"`
	RepeatedRoundThreshold      int  `toml:"repeatedRoundThreshold"`
	NonRetryableFailureThreshold int `toml:"nonRetryableFailureThreshold"`
	ForceSynthesisAfterTools    bool `toml:"forceSynthesisAfterTools"`
}

// ToolPolicyConfig is the default policy merged under any per-request
// ToolPolicy the daemon receives.
type ToolPolicyConfig struct {
	Allow            []string       `toml:"allow"`
	Deny             []string       `toml:"deny"`
	MaxPerRun        map[string]int `toml:"max_per_run"`
	DefaultMaxPerRun int            `toml:"default_max_per_run"`
}

// PromptPacksConfig tunes the system-prompt builder's optional
// prompt-pack sections.
type PromptPacksConfig struct {
	Enabled    bool    `toml:"enabled"`
	MaxChars   int     `toml:"maxChars"`
	MaxDemos   int     `toml:"maxDemos"`
	CanaryRate float64 `toml:"canaryRate"`
}

// OpenRouterConfig tunes the concrete Provider wired at startup.
type OpenRouterConfig struct {
	APIKey    string `toml:"apiKey"`
	BaseURL   string `toml:"baseUrl"`
	TimeoutMs int    `toml:"timeoutMs"`
	Retry     bool   `toml:"retry"`
}

// ReasoningConfig sets the default reasoning effort.
type ReasoningConfig struct {
	Effort string `toml:"effort"` // off|low|medium|high
}

// ObservabilityConfig tunes the OTLP exporters.
type ObservabilityConfig struct {
	Enabled        bool   `toml:"enabled"`
	OTLPEndpoint   string `toml:"otlpEndpoint"`
	ServiceName    string `toml:"serviceName"`
}

// Default returns a Config with every tunable set to the value named in
// §4.5/§6 of the runtime specification.
func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			RequestDir:          "ipc/agent_requests",
			ResponseDir:         "ipc/agent_responses",
			SessionRoot:         "sessions",
			PollMs:              500,
			HeartbeatIntervalMs: 5000,
			ShutdownGraceMs:     30000,
			WatchFS:             true,
		},
		Models: ModelsConfig{
			Primary:      "openrouter/auto",
			SummaryModel: "openrouter/auto",
			Temperature:  0.7,
			ContextLength: 128000,
		},
		Context: ContextConfig{
			MaxContextMessageTokens: 0, // derived from contextLength when 0
			MaxHistoryTurns:         40,
			ContextPruning: ContextPruningConfig{
				SoftTrimMaxChars:  4000,
				SoftTrimHeadChars: 1000,
				SoftTrimTailChars: 500,
			},
		},
		Memory: MemoryConfig{
			SummaryUpdateEveryMessages: 20,
			MaxResults:                 8,
			MaxTokens:                  2000,
			ArchiveSync:                true,
			Extraction: MemoryExtractionConfig{
				Enabled:         true,
				MaxMessages:     40,
				MaxOutputTokens: 1000,
			},
		},
		ToolLoop: ToolLoopConfig{
			MaxToolSteps:                 25,
			IdempotentRetryAttempts:      2,
			IdempotentRetryBackoffMs:     2000,
			RepeatedSignatureThreshold:   3,
			RepeatedRoundThreshold:       3,
			NonRetryableFailureThreshold: 3,
			ForceSynthesisAfterTools:     true,
		},
		ToolPolicy: ToolPolicyConfig{
			DefaultMaxPerRun: 12,
		},
		PromptPacks: PromptPacksConfig{
			Enabled:  true,
			MaxChars: 2000,
			MaxDemos: 3,
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			TimeoutMs: 60000,
			Retry:     true,
		},
		TokenEstimate: agentcore.TokenEstimateConfig{
			TokensPerChar:    0.25,
			TokensPerMessage: 4,
			TokensPerRequest: 3,
		},
		Reasoning: ReasoningConfig{Effort: "off"},
		Observability: ObservabilityConfig{
			ServiceName: "agentcore",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "agentcore.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("AGENTCORE_OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouter.APIKey = v
	}
	if v := os.Getenv("AGENTCORE_OPENROUTER_BASE_URL"); v != "" {
		cfg.OpenRouter.BaseURL = v
	}
	if v := os.Getenv("AGENTCORE_MODEL_PRIMARY"); v != "" {
		cfg.Models.Primary = v
	}
	if v := os.Getenv("AGENTCORE_SESSION_ROOT"); v != "" {
		cfg.Daemon.SessionRoot = v
	}
	if v := os.Getenv("AGENTCORE_REQUEST_DIR"); v != "" {
		cfg.Daemon.RequestDir = v
	}
	if v := os.Getenv("AGENTCORE_RESPONSE_DIR"); v != "" {
		cfg.Daemon.ResponseDir = v
	}
	if v := os.Getenv("AGENTCORE_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
		cfg.Observability.Enabled = true
	}
	if v := os.Getenv("AGENTCORE_OBSERVABILITY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observability.Enabled = b
		}
	}

	// Fallback chaining between related fields, same pattern as the
	// action-model provider/key fallback this config layer is modeled on.
	if cfg.Models.SummaryModel == "" {
		cfg.Models.SummaryModel = cfg.Models.Primary
	}
	if cfg.Context.CompactionTriggerTokens == 0 {
		cfg.Context.CompactionTriggerTokens = max(1000, cfg.Models.ContextLength-outputReserve(cfg))
	}

	return cfg
}

func outputReserve(cfg Config) int {
	if cfg.Models.MaxOutputTokens > 0 {
		return cfg.Models.MaxOutputTokens
	}
	return cfg.Models.ContextLength / 4
}
