package budget

import "math"

// Budgets are the derived token budgets for one run, computed from the
// model's declared context length and the host's overrides.
type Budgets struct {
	ContextLength           int
	OutputReserve           int
	CompactionTriggerTokens int
	MaxContextMessageTokens int
	SystemPromptShare       int // tokens, capped [1200, 6000]
	RecentContextTokens     int
}

// Config carries the per-request overrides Budgets needs beyond the
// model's declared context length.
type Config struct {
	ExplicitMaxOutput      int
	ConfiguredRecentTokens int // 0 = auto
	IsScheduledTask        bool
}

// Compute derives Budgets from a model's context length and the
// request/config overrides, per §4.5.
func Compute(contextLength int, cfg Config) Budgets {
	if contextLength <= 0 {
		contextLength = 128000
	}

	outputReserve := cfg.ExplicitMaxOutput
	if outputReserve <= 0 {
		outputReserve = int(math.Floor(float64(contextLength) * 0.25))
	}

	compactionTrigger := contextLength - outputReserve
	if compactionTrigger < 1000 {
		compactionTrigger = 1000
	}

	maxMsgTokens := int(math.Floor(float64(contextLength) * 0.03))
	if maxMsgTokens < 1000 {
		maxMsgTokens = 1000
	}

	share := 0.12
	if cfg.IsScheduledTask {
		share = 0.10
	}
	systemPromptShare := int(math.Floor(float64(contextLength) * share))
	systemPromptShare = clamp(systemPromptShare, 1200, 6000)

	recent := cfg.ConfiguredRecentTokens
	if recent <= 0 {
		recent = int(math.Floor(float64(contextLength) * 0.35))
		if recent > 24000 {
			recent = 24000
		}
	}

	return Budgets{
		ContextLength:           contextLength,
		OutputReserve:           outputReserve,
		CompactionTriggerTokens: compactionTrigger,
		MaxContextMessageTokens: maxMsgTokens,
		SystemPromptShare:       systemPromptShare,
		RecentContextTokens:     recent,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
