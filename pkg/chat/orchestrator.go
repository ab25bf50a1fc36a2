// Package chat orchestrates reply generation: prompt assembly, provider
// dispatch, bounded retry with offline fallback, and streaming delivery.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mushan/thinkspeak/pkg/metrics"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/resilience"
)

// ReplyCache is the optional cache consulted before the synchronous path.
type ReplyCache interface {
	Get(ctx context.Context, prompt string) (provider.Response, bool, error)
	Set(ctx context.Context, prompt string, resp provider.Response) error
}

// ReplyRequest is one reply-generation request.
type ReplyRequest struct {
	Persona     string
	History     string
	UserMessage string
	Provider    provider.ID
}

// Reply is the outcome of the synchronous path. Text is always non-empty:
// either the adapter's output, a cached reply, or the offline fallback.
type Reply struct {
	Text     string
	Fallback bool
	CacheHit bool
}

// Orchestrator builds prompts, selects a backend via the registry, and
// applies the retry/fallback policy. It is stateless per call.
type Orchestrator struct {
	registry *provider.Registry
	keyPools map[string]*resilience.KeyPool
	breakers map[string]*resilience.CircuitBreaker
	cache    ReplyCache
	retryCfg resilience.RetryConfig
	timeout  time.Duration
	logger   *slog.Logger
}

// Config holds the orchestrator configuration. KeyPools and Breakers are
// keyed by provider name (Provider.Name()); both are optional per provider.
type Config struct {
	Registry       *provider.Registry
	KeyPools       map[string]*resilience.KeyPool
	Breakers       map[string]*resilience.CircuitBreaker
	Cache          ReplyCache
	RetryConfig    resilience.RetryConfig
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewOrchestrator creates a reply orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		registry: cfg.Registry,
		keyPools: cfg.KeyPools,
		breakers: cfg.Breakers,
		cache:    cfg.Cache,
		retryCfg: cfg.RetryConfig,
		timeout:  cfg.RequestTimeout,
		logger:   cfg.Logger,
	}
}

// GenerateReply produces a reply on the synchronous path.
//
// The only returned error is an unresolved provider identity; every adapter
// fault is absorbed: after the retry budget is exhausted the deterministic
// fallback reply is returned instead.
func (o *Orchestrator) GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error) {
	p, err := o.registry.Resolve(req.Provider)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	prompt := BuildPrompt(req.Persona, req.History, req.UserMessage)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if o.cache != nil {
		cached, hit, err := o.cache.Get(ctx, prompt)
		if err != nil {
			o.logger.Warn("reply cache lookup failed", "error", err)
		}
		metrics.RecordCacheLookup(hit)
		if hit {
			metrics.RepliesTotal.WithLabelValues("cache_hit").Inc()
			metrics.ReplyLatency.WithLabelValues(p.Name(), "cache_hit").Observe(time.Since(start).Seconds())
			return Reply{Text: cached.Text, CacheHit: true}, nil
		}
	}

	apiKey := o.nextKey(p.Name())

	provReq := provider.Request{Prompt: prompt, APIKey: apiKey}

	var resp provider.Response
	attempt := func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.Generate(ctx, provReq)
		return callErr
	}

	if cb := o.breakers[p.Name()]; cb != nil {
		err = cb.Execute(func() error {
			return resilience.Retry(ctx, o.retryCfg, attempt)
		})
		metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(cb.State()))
	} else {
		err = resilience.Retry(ctx, o.retryCfg, attempt)
	}

	if err != nil {
		if resilience.IsRateLimited(err) {
			if kp := o.keyPools[p.Name()]; kp != nil {
				kp.MarkRateLimited(apiKey, time.Now().Add(60*time.Second))
			}
		}
		o.logger.Error("generation failed, serving offline fallback",
			"provider", p.Name(), "error", err)
		metrics.RepliesTotal.WithLabelValues("fallback").Inc()
		metrics.ReplyLatency.WithLabelValues(p.Name(), "fallback").Observe(time.Since(start).Seconds())
		return Reply{Text: FallbackReply(req.Persona, req.UserMessage), Fallback: true}, nil
	}

	metrics.RepliesTotal.WithLabelValues("generated").Inc()
	metrics.ReplyLatency.WithLabelValues(p.Name(), "generated").Observe(time.Since(start).Seconds())
	metrics.TokenUsageTotal.WithLabelValues(p.Name(), "input").Add(float64(resp.PromptTokens))
	metrics.TokenUsageTotal.WithLabelValues(p.Name(), "output").Add(float64(resp.OutputTokens))

	o.storeAsync(prompt, resp)

	return Reply{Text: resp.Text}, nil
}

// GenerateReplyStream produces a reply on the streaming path.
//
// The retry budget wraps stream initiation only: once a channel has been
// obtained, a mid-stream fault is forwarded once, terminally, and never
// retried. There is no fallback text on this path. The returned channel
// preserves adapter chunk order and carries at most one terminal chunk;
// nothing follows it.
func (o *Orchestrator) GenerateReplyStream(ctx context.Context, req ReplyRequest) (<-chan provider.StreamChunk, error) {
	p, err := o.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req.Persona, req.History, req.UserMessage)
	provReq := provider.Request{Prompt: prompt, APIKey: o.nextKey(p.Name())}

	var src <-chan provider.StreamChunk
	err = resilience.Retry(ctx, o.retryCfg, func(ctx context.Context) error {
		ch, initErr := p.GenerateStream(ctx, provReq)
		if initErr != nil {
			return initErr
		}
		src = ch
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream initiation: %w", err)
	}

	out := make(chan provider.StreamChunk, 16)
	metrics.ActiveStreams.Inc()

	go func() {
		defer close(out)
		defer metrics.ActiveStreams.Dec()

		// Every send selects on ctx so an abandoned consumer (e.g. an SSE
		// handler that hit its timeout) never strands this goroutine on a
		// full channel.
		var fullText string
		for {
			var chunk provider.StreamChunk
			var open bool
			select {
			case <-ctx.Done():
				return
			case chunk, open = <-src:
				if !open {
					return
				}
			}

			if chunk.Terminal() {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Done {
					metrics.RepliesTotal.WithLabelValues("stream").Inc()
					if fullText != "" {
						o.storeAsync(prompt, provider.Response{
							Text:         fullText,
							PromptTokens: chunk.PromptTokens,
							OutputTokens: chunk.OutputTokens,
						})
					}
				} else {
					metrics.RepliesTotal.WithLabelValues("stream_error").Inc()
				}
				// The terminal chunk ends the stream; anything a misbehaving
				// adapter emits afterwards is dropped.
				return
			}

			fullText += chunk.Text
			metrics.StreamChunksTotal.Inc()
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (o *Orchestrator) nextKey(providerName string) string {
	kp := o.keyPools[providerName]
	if kp == nil {
		return ""
	}
	key, err := kp.Next()
	if err != nil {
		o.logger.Warn("key pool empty", "provider", providerName, "error", err)
		return ""
	}
	return key
}

// storeAsync caches a successful reply without blocking the caller.
func (o *Orchestrator) storeAsync(prompt string, resp provider.Response) {
	if o.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.cache.Set(ctx, prompt, resp); err != nil {
			o.logger.Warn("reply cache store failed", "error", err)
		}
	}()
}
