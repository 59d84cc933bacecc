package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/ai"
)

func testRegistry() *Registry {
	// nil repo: rates come from the cache or the pattern defaults
	return NewRegistry(nil, time.Hour, "gpt-4o-mini", zap.NewNop())
}

func TestEstimate_EmptyOutputIsInputOnly(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()

	withOutput := r.Estimate(ctx, "some input text here", "an answer", "gpt-4o-mini")
	inputOnly := r.Estimate(ctx, "some input text here", "", "gpt-4o-mini")

	if inputOnly.TokensOut != 0 {
		t.Fatalf("expected zero output tokens, got %d", inputOnly.TokensOut)
	}
	if !inputOnly.Estimated {
		t.Fatalf("estimate must be flagged estimated")
	}

	rec := defaultRates("gpt-4o-mini")
	wantCost := float64(inputOnly.TokensIn) * rec.InputPerMTok / 1e6
	if math.Abs(inputOnly.CostUSD-wantCost) > 1e-12 {
		t.Fatalf("cost %v != input-only component %v", inputOnly.CostUSD, wantCost)
	}
	if withOutput.CostUSD <= inputOnly.CostUSD {
		t.Fatalf("expected output to add cost: %v vs %v", withOutput.CostUSD, inputOnly.CostUSD)
	}
}

func TestFromProvider_ReportedNotEstimated(t *testing.T) {
	r := testRegistry()
	u := ai.Usage{InputTokens: 1000, OutputTokens: 500, Reported: true}

	calc := r.FromProvider(context.Background(), u, "gpt-4o-mini")
	if calc.Estimated {
		t.Fatalf("provider-reported usage must not be flagged estimated")
	}
	if calc.TokensIn != 1000 || calc.TokensOut != 500 {
		t.Fatalf("unexpected token counts: %+v", calc)
	}

	rec := defaultRates("gpt-4o-mini")
	want := 1000*rec.InputPerMTok/1e6 + 500*rec.OutputPerMTok/1e6
	if math.Abs(calc.CostUSD-want) > 1e-12 {
		t.Fatalf("cost %v, want %v", calc.CostUSD, want)
	}
}

func TestFromProvider_CachedInputDiscounted(t *testing.T) {
	r := testRegistry()
	full := r.FromProvider(context.Background(), ai.Usage{InputTokens: 1000, OutputTokens: 0, Reported: true}, "gpt-4o-mini")
	cached := r.FromProvider(context.Background(), ai.Usage{InputTokens: 1000, CachedInputTokens: 800, OutputTokens: 0, Reported: true}, "gpt-4o-mini")

	if cached.CostUSD >= full.CostUSD {
		t.Fatalf("cached input should be cheaper: %v vs %v", cached.CostUSD, full.CostUSD)
	}
}

func TestDefaultRates_PatternMatch(t *testing.T) {
	cases := []struct {
		model string
		wantO float64
	}{
		{"openai/gpt-4o-mini", 0.60},
		{"gpt-4-turbo", 10.00},
		{"anthropic/claude-sonnet", 15.00},
		{"meta/llama-3-70b", 0.10},
		{"totally-unknown-model", 3.00},
	}
	for _, tc := range cases {
		rec := defaultRates(tc.model)
		if rec.OutputPerMTok != tc.wantO {
			t.Fatalf("model %s: output rate %v, want %v", tc.model, rec.OutputPerMTok, tc.wantO)
		}
	}
}

func TestResolve_EmptyFallsBackToDefault(t *testing.T) {
	r := testRegistry()
	model, _, fellBack := r.Resolve(context.Background(), "")
	if model != "gpt-4o-mini" || !fellBack {
		t.Fatalf("expected default fallback, got model=%s fellBack=%v", model, fellBack)
	}
}

func TestResolve_UnknownModelStillPriced(t *testing.T) {
	r := testRegistry()
	model, rec, fellBack := r.Resolve(context.Background(), "mystery-model")
	if fellBack {
		t.Fatalf("unknown models are honored, not replaced")
	}
	if model != "mystery-model" || rec.OutputPerMTok <= 0 {
		t.Fatalf("expected pattern-priced record, got model=%s rec=%+v", model, rec)
	}
}

func TestRoundCost(t *testing.T) {
	if got := RoundCost(0.1234567891); got != 0.123457 {
		t.Fatalf("got %v", got)
	}
	if got := RoundCost(0); got != 0 {
		t.Fatalf("got %v", got)
	}
}
