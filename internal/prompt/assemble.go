package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suPer8Hu/chat-stream/internal/ai"
)

// Candidate is one recalled memory block competing for prompt space.
type Candidate struct {
	Text  string
	Score float64
}

type Config struct {
	SystemBudget    int // tokens for the system instructions
	MemoryBudget    int // tokens for recalled context
	UserBudget      int // tokens for the user message
	TotalBudget     int // pre-generation ceiling across all sections
	TopK            int // max memory candidates considered
	MaxSentences    int // per-candidate sentence clip, 0 = off
	MinUsefulTokens int // smallest remainder worth truncating into
}

func DefaultConfig() Config {
	return Config{
		SystemBudget:    200,
		MemoryBudget:    1500,
		UserBudget:      2000,
		TotalBudget:     4000,
		TopK:            5,
		MaxSentences:    6,
		MinUsefulTokens: 50,
	}
}

type Section struct {
	Name   string
	Tokens int
}

// Plan is the assembled, budgeted prompt plus the trace of what was cut.
type Plan struct {
	Messages    []ai.Message
	Sections    []Section
	Reasons     []string
	TotalTokens int
}

// Snapshot renders the plan's messages for transcript auditing.
func (p Plan) Snapshot() string {
	var b strings.Builder
	for i, m := range p.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.Role, m.Content)
	}
	return b.String()
}

// Assemble merges system instructions, recalled memory, recent history and
// the user message into an ordered, budgeted message list. Memory candidates
// are ranked by score, capped to TopK, optionally sentence-clipped, and
// packed until the section budget runs out; an overflowing candidate is
// truncated in when the remaining room is still useful, excluded otherwise.
func Assemble(system string, candidates []Candidate, history []ai.Message, userMsg string, cfg Config) Plan {
	if cfg.TotalBudget <= 0 {
		cfg = DefaultConfig()
	}
	var plan Plan

	system = strings.TrimSpace(system)
	if system != "" {
		if cut, truncated := TruncateToTokens(system, cfg.SystemBudget); truncated {
			system = cut
			plan.Reasons = append(plan.Reasons, fmt.Sprintf("system truncated to %d tokens", cfg.SystemBudget))
		}
	}
	systemTokens := EstimateTokens(system)
	plan.Sections = append(plan.Sections, Section{Name: "system", Tokens: systemTokens})

	memoryBlock, memoryTokens := packMemory(candidates, cfg, &plan)
	plan.Sections = append(plan.Sections, Section{Name: "memory", Tokens: memoryTokens})

	userMsg = strings.TrimSpace(userMsg)
	if cut, truncated := TruncateToTokens(userMsg, cfg.UserBudget); truncated {
		userMsg = cut
		plan.Reasons = append(plan.Reasons, fmt.Sprintf("user message truncated to %d tokens", cfg.UserBudget))
	}
	userTokens := EstimateTokens(userMsg)

	// History fills whatever remains under the ceiling, newest first.
	remaining := cfg.TotalBudget - systemTokens - memoryTokens - userTokens
	kept, historyTokens, dropped := packHistory(history, remaining)
	if dropped > 0 {
		plan.Reasons = append(plan.Reasons, fmt.Sprintf("history dropped %d oldest message(s) over budget", dropped))
	}
	plan.Sections = append(plan.Sections,
		Section{Name: "history", Tokens: historyTokens},
		Section{Name: "user", Tokens: userTokens},
	)

	if system != "" {
		plan.Messages = append(plan.Messages, ai.Message{Role: "system", Content: system})
	}
	if memoryBlock != "" {
		plan.Messages = append(plan.Messages, ai.Message{Role: "system", Content: "Relevant memory:\n" + memoryBlock})
	}
	plan.Messages = append(plan.Messages, kept...)
	plan.Messages = append(plan.Messages, ai.Message{Role: "user", Content: userMsg})

	plan.TotalTokens = systemTokens + memoryTokens + historyTokens + userTokens
	return plan
}

func packMemory(candidates []Candidate, cfg Config, plan *Plan) (string, int) {
	if len(candidates) == 0 {
		return "", 0
	}

	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if cfg.TopK > 0 && len(ranked) > cfg.TopK {
		plan.Reasons = append(plan.Reasons, fmt.Sprintf("memory capped to top %d of %d candidates", cfg.TopK, len(ranked)))
		ranked = ranked[:cfg.TopK]
	}

	var parts []string
	used := 0
	for i, cand := range ranked {
		text := strings.TrimSpace(ClipSentences(cand.Text, cfg.MaxSentences))
		if text == "" {
			continue
		}
		need := EstimateTokens(text)
		room := cfg.MemoryBudget - used
		if need <= room {
			parts = append(parts, text)
			used += need
			continue
		}
		if room >= cfg.MinUsefulTokens {
			cut, _ := TruncateToTokens(text, room)
			if cut != "" {
				parts = append(parts, cut)
				used += EstimateTokens(cut)
				plan.Reasons = append(plan.Reasons, fmt.Sprintf("memory candidate %d truncated to fit %d remaining tokens", i, room))
			}
		} else {
			plan.Reasons = append(plan.Reasons, fmt.Sprintf("memory candidate %d excluded: %d tokens left under minimum useful size", i, room))
		}
		// budget exhausted either way
		if i+1 < len(ranked) {
			plan.Reasons = append(plan.Reasons, fmt.Sprintf("memory candidates %d..%d excluded: budget exhausted", i+1, len(ranked)-1))
		}
		break
	}
	return strings.Join(parts, "\n\n"), used
}

// packHistory walks newest to oldest, keeping messages that fit, and returns
// them back in chronological order. history arrives oldest first.
func packHistory(history []ai.Message, budget int) ([]ai.Message, int, int) {
	if budget <= 0 || len(history) == 0 {
		return nil, 0, len(history)
	}
	used := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		need := EstimateTokens(history[i].Content)
		if used+need > budget {
			break
		}
		used += need
		cut = i
	}
	kept := history[cut:]
	return kept, used, cut
}
