package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ClientOptions configures the OpenAI-compatible streaming client.
type ClientOptions struct {
	BaseURL        string
	APIKey         string
	SiteURL        string
	AppName        string
	ConnectTimeout time.Duration // time allowed to reach response headers
	OverallTimeout time.Duration // wall-clock cap on the whole call, retries included
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	opts   ClientOptions
	http   *http.Client
	logger *zap.Logger

	// test seam
	sleep func(time.Duration)
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://openrouter.ai/api/v1"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 120 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts: opts,
		http: &http.Client{
			// Connect-phase guard: the request context caps the full body read,
			// this caps the time to first response headers.
			Transport: &http.Transport{ResponseHeaderTimeout: opts.ConnectTimeout},
		},
		logger: logger,
		sleep:  time.Sleep,
	}
}

type chatCompletionReq struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	Stream        bool      `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Stream implements Streamer. Token events are emitted as fragments arrive;
// a usage event follows when the provider reports exact counts; the channel
// always terminates with one done or error event and is then closed.
func (c *Client) Stream(ctx context.Context, model string, messages []Message) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go c.run(ctx, model, messages, out)
	return out
}

func (c *Client) run(ctx context.Context, model string, messages []Message, out chan<- StreamEvent) {
	defer close(out)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.OverallTimeout)
	defer cancel()

	attempts := 0
	retries := 0
	for {
		attempts++
		res, err := c.attempt(ctx, model, messages, out, start)
		if err == nil {
			if res.usage != nil {
				out <- StreamEvent{Kind: EventUsage, Usage: res.usage}
			}
			out <- StreamEvent{Kind: EventDone, Done: &CallMetrics{
				FinishReason: res.finishReason,
				TTFT:         res.ttft,
				Total:        time.Since(start),
				Attempts:     attempts,
				Retries:      retries,
			}}
			return
		}

		class := classify(err)
		// Once content has reached the caller the attempt cannot be replayed.
		if !res.streamed && shouldRetry(class, attempts, c.opts.MaxAttempts) {
			retries++
			c.logger.Warn("provider attempt failed, retrying",
				zap.Int("attempt", attempts),
				zap.Int("status", statusOf(err)),
				zap.Error(err))
			delay := backoff(c.opts.RetryBaseDelay)
			select {
			case <-ctx.Done():
				out <- StreamEvent{Kind: EventError, Err: &ProviderError{
					Class: classify(ctx.Err()), Attempts: attempts, Err: ctx.Err(),
				}}
				return
			default:
			}
			c.sleep(delay)
			continue
		}

		out <- StreamEvent{Kind: EventError, Err: &ProviderError{
			Class:    class,
			Status:   statusOf(err),
			Attempts: attempts,
			Err:      err,
		}}
		return
	}
}

type attemptResult struct {
	streamed     bool // at least one token reached the caller
	finishReason string
	ttft         time.Duration
	usage        *Usage
}

func (c *Client) attempt(ctx context.Context, model string, messages []Message, out chan<- StreamEvent, start time.Time) (attemptResult, error) {
	var res attemptResult

	reqBody := chatCompletionReq{Model: model, Messages: messages, Stream: true}
	reqBody.StreamOptions.IncludeUsage = true

	b, err := json.Marshal(reqBody)
	if err != nil {
		return res, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.opts.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	if c.opts.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.opts.SiteURL)
	}
	if c.opts.AppName != "" {
		req.Header.Set("X-Title", c.opts.AppName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return res, &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			if res.finishReason == "" {
				res.finishReason = "stop"
			}
			return res, nil
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return res, err
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			if chunk.Error.Code >= 400 {
				return res, &httpStatusError{status: chunk.Error.Code, body: chunk.Error.Message}
			}
			return res, errors.New(chunk.Error.Message)
		}

		if chunk.Usage != nil {
			u := &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				Reported:     true,
			}
			if chunk.Usage.PromptTokensDetails != nil {
				u.CachedInputTokens = chunk.Usage.PromptTokensDetails.CachedTokens
			}
			res.usage = u
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			res.finishReason = *choice.FinishReason
		}
		if choice.Delta.Content != "" {
			if !res.streamed {
				res.streamed = true
				res.ttft = time.Since(start)
			}
			select {
			case out <- StreamEvent{Kind: EventToken, Text: choice.Delta.Content}:
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}

	if err := sc.Err(); err != nil {
		return res, err
	}
	if res.finishReason == "" {
		res.finishReason = "stop"
	}
	return res, nil
}
