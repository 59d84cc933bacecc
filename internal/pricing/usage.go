package pricing

import (
	"context"
	"math"

	"github.com/suPer8Hu/chat-stream/internal/ai"
	"github.com/suPer8Hu/chat-stream/internal/prompt"
)

// UsageCalculation is a priced usage figure for one completion. Estimated
// distinguishes heuristic counts from provider-reported ones and must follow
// the number into telemetry.
type UsageCalculation struct {
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Estimated bool
}

// FromProvider prices exact, provider-reported token counts.
func (r *Registry) FromProvider(ctx context.Context, u ai.Usage, model string) UsageCalculation {
	rec := r.Rates(ctx, model)
	return UsageCalculation{
		Model:     model,
		TokensIn:  u.InputTokens,
		TokensOut: u.OutputTokens,
		CostUSD:   cost(rec, u.InputTokens, u.OutputTokens, u.CachedInputTokens),
		Estimated: !u.Reported,
	}
}

// Estimate prices heuristic token counts derived from the raw text. Used
// when the provider did not report usage.
func (r *Registry) Estimate(ctx context.Context, inputText, outputText, model string) UsageCalculation {
	rec := r.Rates(ctx, model)
	in := prompt.EstimateTokens(inputText)
	out := prompt.EstimateTokens(outputText)
	return UsageCalculation{
		Model:     model,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   cost(rec, in, out, 0),
		Estimated: true,
	}
}

// cost keeps full float precision; rounding happens only at the boundary.
func cost(rec Record, in, out, cachedIn int) float64 {
	billableIn := in - cachedIn
	if billableIn < 0 {
		billableIn = 0
	}
	return float64(billableIn)*rec.InputPerMTok/1e6 +
		float64(cachedIn)*rec.CachedInputPerMTok/1e6 +
		float64(out)*rec.OutputPerMTok/1e6
}

// RoundCost rounds to 6 decimal places for storage and display.
func RoundCost(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}
