package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/ai"
	"github.com/suPer8Hu/chat-stream/internal/memory"
	"github.com/suPer8Hu/chat-stream/internal/pricing"
	"github.com/suPer8Hu/chat-stream/internal/prompt"
)

type EventKind string

const (
	EventToken  EventKind = "token"
	EventUsage  EventKind = "usage"
	EventMemory EventKind = "memory"
	EventDone   EventKind = "done"
	EventError  EventKind = "error"
)

type UsagePayload struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	Model     string  `json:"model"`
}

type MemoryPayload struct {
	Results  []memory.Result `json:"results"`
	Context  string          `json:"context,omitempty"`
	MemoryMs int64           `json:"memory_ms"`
}

type DonePayload struct {
	FinishReason string `json:"finish_reason"`
	TTFTMs       int64  `json:"ttft_ms"`
	ProviderMs   int64  `json:"provider_ms"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Event is one element of the response stream handed to the transport.
type Event struct {
	Kind   EventKind
	Token  string
	Usage  *UsagePayload
	Memory *MemoryPayload
	Done   *DonePayload
	Err    *ErrorPayload
}

// Service orchestrates one chat request: model resolution, memory recall,
// prompt assembly, the provider stream, and the deferred telemetry and
// persistence that follow a completed response.
type Service struct {
	repo      *Repo
	streamer  ai.Streamer
	pricing   *pricing.Registry
	resolver  *memory.Resolver
	promptCfg prompt.Config
	tasks     *TaskQueue
	recorder  *Recorder
	logger    *zap.Logger
	pastMax   int
}

func NewService(repo *Repo, streamer ai.Streamer, pr *pricing.Registry, resolver *memory.Resolver,
	promptCfg prompt.Config, tasks *TaskQueue, recorder *Recorder, pastMax int, logger *zap.Logger) *Service {
	if promptCfg.TotalBudget <= 0 {
		promptCfg = prompt.DefaultConfig()
	}
	if pastMax <= 0 {
		pastMax = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		streamer:  streamer,
		pricing:   pr,
		resolver:  resolver,
		promptCfg: promptCfg,
		tasks:     tasks,
		recorder:  recorder,
		logger:    logger,
		pastMax:   pastMax,
	}
}

// PastMax exposes the clamp for request validation.
func (s *Service) PastMax() int { return s.pastMax }

// Repo exposes the transcript store for the read endpoints.
func (s *Service) Repo() *Repo { return s.repo }

// StreamReply runs the request pipeline and pushes events on the returned
// channel, which is closed after the terminal done or error event. ctx is
// the per-request cancellation signal: it stops provider generation but has
// no effect on background work already scheduled.
func (s *Service) StreamReply(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 32)
	go s.run(ctx, req, out)
	return out
}

func (s *Service) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)
	start := time.Now()

	model, _, fellBack := s.pricing.Resolve(ctx, req.Model)
	if fellBack && req.Model != "" {
		s.logger.Info("model fell back to default",
			zap.String("requested", req.Model), zap.String("model", model))
	}

	var resolution memory.Resolution
	if req.UseMemory {
		resolution = s.resolver.Resolve(ctx, req.UserID, req.SessionID, req.Message, req.ContextMode, req.TopK)
		if req.ReturnMemory {
			out <- Event{Kind: EventMemory, Memory: &MemoryPayload{
				Results:  resolution.Results,
				Context:  resolution.Block,
				MemoryMs: resolution.Elapsed.Milliseconds(),
			}}
		}
	}

	promptCfg := s.promptCfg
	if req.TopK > 0 {
		promptCfg.TopK = req.TopK
	}
	if len(resolution.Results) == 0 {
		// A basic/summarized block arrives as one candidate; the sentence clip
		// is for ranking many search hits, the token budget alone governs here.
		promptCfg.MaxSentences = 0
	}

	history := s.loadHistory(ctx, req)
	plan := prompt.Assemble(req.SystemPrompt, candidatesFrom(resolution), history, req.Message, promptCfg)

	var events <-chan ai.StreamEvent
	if req.AssistantOutput != "" {
		events = replayStream(ctx, req.AssistantOutput)
	} else {
		events = s.streamer.Stream(ctx, model, plan.Messages)
	}

	var (
		reply     strings.Builder
		usage     *ai.Usage
		metrics   *ai.CallMetrics
		streamErr error
	)
	for ev := range events {
		switch ev.Kind {
		case ai.EventToken:
			reply.WriteString(ev.Text)
			out <- Event{Kind: EventToken, Token: ev.Text}
		case ai.EventUsage:
			usage = ev.Usage
		case ai.EventDone:
			metrics = ev.Done
		case ai.EventError:
			streamErr = ev.Err
		}
	}

	if streamErr != nil {
		out <- Event{Kind: EventError, Err: &ErrorPayload{Message: userErrorText(streamErr)}}
		if !req.TestingMode {
			s.scheduleFailure(req, model, streamErr)
		}
		return
	}
	if metrics == nil {
		metrics = &ai.CallMetrics{FinishReason: "stop", Total: time.Since(start), Attempts: 1}
	}

	inputText := joinContents(plan.Messages)
	var calc pricing.UsageCalculation
	if usage != nil && usage.Reported {
		calc = s.pricing.FromProvider(ctx, *usage, model)
	} else {
		calc = s.pricing.Estimate(ctx, inputText, reply.String(), model)
	}

	out <- Event{Kind: EventUsage, Usage: &UsagePayload{
		TokensIn:  calc.TokensIn,
		TokensOut: calc.TokensOut,
		CostUSD:   pricing.RoundCost(calc.CostUSD),
		Model:     model,
	}}
	out <- Event{Kind: EventDone, Done: &DonePayload{
		FinishReason: metrics.FinishReason,
		TTFTMs:       metrics.TTFT.Milliseconds(),
		ProviderMs:   metrics.Total.Milliseconds(),
	}}

	// Persistence is scheduled at provider completion, not at done delivery:
	// a cleanly finished generation is always recorded even if the client
	// dropped before reading the tail.
	if !req.TestingMode {
		s.scheduleFinalize(req, model, resolution, plan, reply.String(), calc, metrics, time.Since(start))
	}
}

func (s *Service) loadHistory(ctx context.Context, req Request) []ai.Message {
	if req.PastMessagesCount <= 0 {
		return nil
	}
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, req.UserID, req.SessionID, req.PastMessagesCount)
	if err != nil {
		s.logger.Warn("history load failed, continuing without history",
			zap.String("session_id", req.SessionID), zap.Error(err))
		return nil
	}
	// reverse to ASC (oldest -> newest)
	history := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		history = append(history, ai.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

func (s *Service) scheduleFinalize(req Request, model string, resolution memory.Resolution,
	plan prompt.Plan, reply string, calc pricing.UsageCalculation, metrics *ai.CallMetrics, total time.Duration) {

	s.tasks.Enqueue("finalize_turn", func(ctx context.Context) error {
		// Causal order: memory_search strictly before provider_call, then
		// persistence and memory writes.
		if req.UseMemory {
			s.recorder.Record(ctx, KindMemorySearch, req.UserID, req.SessionID, req.RequestID, map[string]any{
				"mode":       string(req.ContextMode),
				"from_cache": resolution.FromCache,
				"results":    len(resolution.Results),
				"memory_ms":  resolution.Elapsed.Milliseconds(),
			})
		}
		s.recorder.Record(ctx, KindProviderCall, req.UserID, req.SessionID, req.RequestID, map[string]any{
			"model":         model,
			"tokens_in":     calc.TokensIn,
			"tokens_out":    calc.TokensOut,
			"cost_usd":      pricing.RoundCost(calc.CostUSD),
			"estimated":     calc.Estimated,
			"finish_reason": metrics.FinishReason,
			"ttft_ms":       metrics.TTFT.Milliseconds(),
			"provider_ms":   metrics.Total.Milliseconds(),
			"retry_count":   metrics.Retries,
		})

		key := req.RequestID
		userRow := &Message{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Role:      RoleUser,
			Content:   req.Message,
		}
		if key != "" {
			k := key + ":user"
			userRow.IdempotencyKey = &k
		}
		if err := s.repo.InsertMessageIdempotent(ctx, userRow); err != nil {
			s.logger.Warn("user row insert failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		s.recorder.Record(ctx, KindMessageSent, req.UserID, req.SessionID, req.RequestID, map[string]any{
			"role": RoleUser,
		})

		if req.UseMemory && resolution.Block != "" {
			memRow := &Message{
				SessionID: req.SessionID,
				UserID:    req.UserID,
				Role:      RoleMemory,
				Content:   resolution.Block,
				MemoryMs:  resolution.Elapsed.Milliseconds(),
			}
			if key != "" {
				k := key + ":memory"
				memRow.IdempotencyKey = &k
			}
			if err := s.repo.InsertMessageIdempotent(ctx, memRow); err != nil {
				s.logger.Warn("memory row insert failed", zap.String("session_id", req.SessionID), zap.Error(err))
			}
		}

		assistantRow := &Message{
			SessionID:      req.SessionID,
			UserID:         req.UserID,
			Role:           RoleAssistant,
			Content:        reply,
			Model:          model,
			PromptSnapshot: plan.Snapshot(),
			TokensIn:       calc.TokensIn,
			TokensOut:      calc.TokensOut,
			CostUSD:        pricing.RoundCost(calc.CostUSD),
			Estimated:      calc.Estimated,
			TTFTMs:         metrics.TTFT.Milliseconds(),
			DurationMs:     total.Milliseconds(),
		}
		if key != "" {
			k := key + ":assistant"
			assistantRow.IdempotencyKey = &k
		}
		if err := s.repo.InsertMessageIdempotent(ctx, assistantRow); err != nil {
			s.logger.Warn("assistant row insert failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		s.recorder.Record(ctx, KindMessageSent, req.UserID, req.SessionID, req.RequestID, map[string]any{
			"role":  RoleAssistant,
			"model": model,
		})

		if req.UseMemory {
			if resolution.CacheMiss {
				s.resolver.CommitFresh(ctx, req.UserID, req.SessionID, req.ContextMode, resolution.Block)
				s.recorder.Record(ctx, KindMemoryUpsert, req.UserID, req.SessionID, req.RequestID, map[string]any{
					"mode": string(req.ContextMode),
				})
			}
			if err := s.resolver.Append(ctx, req.UserID, req.SessionID, req.Message, reply); err != nil {
				s.logger.Warn("memory append failed", zap.String("session_id", req.SessionID), zap.Error(err))
			}
		}
		return nil
	})
}

func (s *Service) scheduleFailure(req Request, model string, streamErr error) {
	s.tasks.Enqueue("record_failure", func(ctx context.Context) error {
		payload := map[string]any{
			"model":   model,
			"message": userErrorText(streamErr),
			"detail":  streamErr.Error(),
		}
		if pe, ok := streamErr.(*ai.ProviderError); ok {
			payload["status"] = pe.Status
			payload["attempts"] = pe.Attempts
		}
		s.recorder.Record(ctx, KindError, req.UserID, req.SessionID, req.RequestID, payload)
		return nil
	})
}

func candidatesFrom(res memory.Resolution) []prompt.Candidate {
	if len(res.Results) > 0 {
		cands := make([]prompt.Candidate, 0, len(res.Results))
		for _, hit := range res.Results {
			cands = append(cands, prompt.Candidate{Text: hit.Text, Score: hit.Score})
		}
		return cands
	}
	if res.Block != "" {
		return []prompt.Candidate{{Text: res.Block, Score: 1}}
	}
	return nil
}

func joinContents(msgs []ai.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

func userErrorText(err error) string {
	if pe, ok := err.(*ai.ProviderError); ok {
		return pe.UserMessage()
	}
	return "provider error"
}

// replayStream substitutes a deterministic token stream for the provider,
// chunking the override text on word boundaries.
func replayStream(ctx context.Context, text string) <-chan ai.StreamEvent {
	out := make(chan ai.StreamEvent, 16)
	go func() {
		defer close(out)
		start := time.Now()
		words := strings.SplitAfter(text, " ")
		first := true
		var ttft time.Duration
		for _, w := range words {
			if w == "" {
				continue
			}
			if first {
				ttft = time.Since(start)
				first = false
			}
			select {
			case out <- ai.StreamEvent{Kind: ai.EventToken, Text: w}:
			case <-ctx.Done():
				out <- ai.StreamEvent{Kind: ai.EventError, Err: &ai.ProviderError{
					Class: ai.ClassCanceled, Attempts: 1, Err: ctx.Err(),
				}}
				return
			}
		}
		out <- ai.StreamEvent{Kind: ai.EventDone, Done: &ai.CallMetrics{
			FinishReason: "stop",
			TTFT:         ttft,
			Total:        time.Since(start),
			Attempts:     1,
		}}
	}()
	return out
}
