// Character chat gateway — main entry point
//
// Environment variables:
//   HTTP_PORT               — gateway HTTP port (default: 8080)
//   METRICS_PORT            — Prometheus metrics HTTP port (default: 9090)
//   REDIS_ADDR              — Redis address (default: localhost:6379)
//   REDIS_PASSWORD          — Redis password (default: "")
//   REDIS_DB                — Redis database (default: 0)
//   CACHE_TTL               — Reply cache TTL (default: 1h)
//   OPENAI_API_KEYS         — Comma-separated OpenAI API keys
//   DEEPSEEK_API_KEYS       — Comma-separated DeepSeek API keys
//   GEMINI_API_KEYS         — Comma-separated Gemini API keys
//   OPENAI_MODEL            — OpenAI model (default: gpt-4o-mini)
//   DEEPSEEK_MODEL          — DeepSeek model (default: deepseek-chat)
//   GEMINI_MODEL            — Gemini model (default: gemini-2.5-flash)
//   OLLAMA_BASE_URL         — Ollama server (default: http://localhost:11434)
//   OLLAMA_MODEL            — Ollama model (default: llama3)
//   DEFAULT_PROVIDER        — Provider for sync replies (default: GEMINI)
//   DEFAULT_STREAM_PROVIDER — Provider for streaming replies (default: OLLAMA)
//   REQUEST_TIMEOUT         — Sync generation timeout (default: 30s)
//   STREAM_TIMEOUT          — SSE response timeout (default: 1s)
//   MAX_ATTEMPTS            — Generation attempt budget (default: 3)
//   RETRY_DELAY             — Fixed delay between attempts (default: 1s)
//   CB_FAILURE_THRESHOLD    — Circuit breaker failure threshold (default: 5)
//   CB_COOLDOWN             — Circuit breaker cooldown (default: 30s)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mushan/thinkspeak/pkg/audio"
	"github.com/mushan/thinkspeak/pkg/cache"
	"github.com/mushan/thinkspeak/pkg/chat"
	"github.com/mushan/thinkspeak/pkg/gateway"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/resilience"
	"github.com/mushan/thinkspeak/pkg/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("starting character chat gateway")

	// -------------------------------------------------------------------------
	// Configuration from environment
	// -------------------------------------------------------------------------
	httpPort := envOrDefault("HTTP_PORT", "8080")
	metricsPort := envOrDefault("METRICS_PORT", "9090")
	redisAddr := envOrDefault("REDIS_ADDR", "localhost:6379")
	redisPassword := envOrDefault("REDIS_PASSWORD", "")
	redisDB := envIntOrDefault("REDIS_DB", 0)
	cacheTTL := envDurationOrDefault("CACHE_TTL", 1*time.Hour)
	openaiKeys := splitKeys(os.Getenv("OPENAI_API_KEYS"))
	deepseekKeys := splitKeys(os.Getenv("DEEPSEEK_API_KEYS"))
	geminiKeys := splitKeys(os.Getenv("GEMINI_API_KEYS"))
	requestTimeout := envDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second)
	streamTimeout := envDurationOrDefault("STREAM_TIMEOUT", 1*time.Second)
	maxAttempts := envIntOrDefault("MAX_ATTEMPTS", 3)
	retryDelay := envDurationOrDefault("RETRY_DELAY", 1*time.Second)
	cbFailureThreshold := envIntOrDefault("CB_FAILURE_THRESHOLD", 5)
	cbCooldown := envDurationOrDefault("CB_COOLDOWN", 30*time.Second)

	defaultProvider, err := provider.ParseID(envOrDefault("DEFAULT_PROVIDER", "GEMINI"))
	if err != nil {
		logger.Error("invalid DEFAULT_PROVIDER", "error", err)
		os.Exit(1)
	}
	defaultStreamProvider, err := provider.ParseID(envOrDefault("DEFAULT_STREAM_PROVIDER", "OLLAMA"))
	if err != nil {
		logger.Error("invalid DEFAULT_STREAM_PROVIDER", "error", err)
		os.Exit(1)
	}

	// -------------------------------------------------------------------------
	// Providers and registry
	// -------------------------------------------------------------------------
	registry := provider.NewRegistry(map[provider.ID]provider.Provider{
		provider.OpenAI:   provider.NewOpenAIProvider(envOrDefault("OPENAI_MODEL", "gpt-4o-mini")),
		provider.DeepSeek: provider.NewDeepSeekProvider(envOrDefault("DEEPSEEK_MODEL", "deepseek-chat")),
		provider.Gemini:   provider.NewGeminiProvider(envOrDefault("GEMINI_MODEL", "gemini-2.5-flash")),
		provider.Ollama:   provider.NewOllamaProvider(envOrDefault("OLLAMA_BASE_URL", ""), envOrDefault("OLLAMA_MODEL", "")),
		provider.Mock:     provider.NewMockProvider(),
	})

	// -------------------------------------------------------------------------
	// Key pools
	// -------------------------------------------------------------------------
	keyPools := make(map[string]*resilience.KeyPool)
	for name, keys := range map[string][]string{
		"openai":   openaiKeys,
		"deepseek": deepseekKeys,
		"gemini":   geminiKeys,
	} {
		if len(keys) > 0 {
			keyPools[name] = resilience.NewKeyPool(keys)
			logger.Info("key pool configured", "provider", name, "keys", len(keys))
		}
	}

	// -------------------------------------------------------------------------
	// Circuit breakers
	// -------------------------------------------------------------------------
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cbFailureThreshold,
		Cooldown:         cbCooldown,
		FailureIf:        resilience.IsServerError,
	}
	breakers := map[string]*resilience.CircuitBreaker{
		"openai":   resilience.NewCircuitBreaker(cbCfg),
		"deepseek": resilience.NewCircuitBreaker(cbCfg),
		"gemini":   resilience.NewCircuitBreaker(cbCfg),
		"ollama":   resilience.NewCircuitBreaker(cbCfg),
	}

	// -------------------------------------------------------------------------
	// Reply cache
	// -------------------------------------------------------------------------
	var replyCache chat.ReplyCache
	redisCache := cache.NewReplyCache(redisAddr, redisPassword, redisDB, cacheTTL)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, reply cache disabled", "addr", redisAddr, "error", err)
	} else {
		replyCache = redisCache
		logger.Info("reply cache enabled", "ttl", cacheTTL)
	}
	pingCancel()

	// -------------------------------------------------------------------------
	// Orchestrator
	// -------------------------------------------------------------------------
	orchestrator := chat.NewOrchestrator(chat.Config{
		Registry: registry,
		KeyPools: keyPools,
		Breakers: breakers,
		Cache:    replyCache,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: maxAttempts,
			Delay:       retryDelay,
		},
		RequestTimeout: requestTimeout,
		Logger:         logger,
	})

	// -------------------------------------------------------------------------
	// Audio sessions
	// -------------------------------------------------------------------------
	audioManager := audio.NewManager(audio.NewEchoProcessor(), logger)
	audioHandler := &audio.Handler{Manager: audioManager, Logger: logger}

	// -------------------------------------------------------------------------
	// Gateway HTTP server
	// -------------------------------------------------------------------------
	server := &gateway.Server{
		Orchestrator:          orchestrator,
		Store:                 store.NewMemoryStore(),
		Audio:                 audioHandler,
		DefaultProvider:       defaultProvider,
		DefaultStreamProvider: defaultStreamProvider,
		StreamTimeout:         streamTimeout,
		Logger:                logger,
	}

	httpServer := &http.Server{
		Addr:        ":" + httpPort,
		Handler:     server.Routes(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "port", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server error", "error", err)
			os.Exit(1)
		}
	}()

	// -------------------------------------------------------------------------
	// Metrics server
	// -------------------------------------------------------------------------
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:         ":" + metricsPort,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", "port", metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	// -------------------------------------------------------------------------
	// Graceful shutdown
	// -------------------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", "error", err)
	}
	_ = redisCache.Close()

	logger.Info("gateway stopped")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var keys []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
