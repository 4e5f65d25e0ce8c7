// Package main is the entry point for the llmgateway proxy.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/howard-nolan/llmgateway/internal/config"
	"github.com/howard-nolan/llmgateway/internal/dialect"
	"github.com/howard-nolan/llmgateway/internal/metrics"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/ratelimit"
	"github.com/howard-nolan/llmgateway/internal/server"
	"github.com/howard-nolan/llmgateway/internal/tokenaccount"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	routerCache, err := cfg.BuildRouter()
	if err != nil {
		log.Fatalf("failed to build router from config: %v", err)
	}

	limiter, err := buildLimiter(cfg.RateLimit)
	if err != nil {
		log.Fatalf("failed to build rate limiter: %v", err)
	}

	tok, err := buildTokenizer(cfg.Tokenizer)
	if err != nil {
		log.Fatalf("failed to load tokenizer: %v", err)
	}

	reg := prometheus.NewRegistry()
	sink := metrics.New(reg)
	accountant := tokenaccount.New(tok)

	p := pipeline.New(routerCache, dialect.NewRegistry(), limiter, sink, accountant, http.DefaultClient, pipeline.Config{
		DefaultPeer:     cfg.DefaultUpstreamPeer(),
		MaxPromptTokens: cfg.RateLimit.MaxPromptTokens,
		UserHeader:      cfg.Server.UserHeader,
		RateLimitWindow: cfg.RateLimit.Window(),
	})

	srv := server.New(p)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go serveMetrics(cfg.Metrics.Port, reg)

	log.Printf("llmgateway listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildLimiter constructs the configured rate limiter backend. "redis" talks
// to a shared Redis instance for sliding-window counters that survive
// process restarts and are shared across gateway replicas; "dummy" (and
// anything else) never throttles, for local development and tests.
func buildLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	if cfg.Backend != "redis" {
		return ratelimit.DummyLimiter{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis_url: %w", err)
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedisLimiter(client), nil
}

// buildTokenizer loads the BPE tokenizer from the configured vocabulary
// file. A missing vocab_path is a startup-time configuration error, not a
// per-request one: the accountant has no fallback tokenizer of its own.
func buildTokenizer(cfg config.TokenizerConfig) (tokenaccount.Tokenizer, error) {
	if cfg.VocabPath == "" {
		return nil, fmt.Errorf("tokenizer.vocab_path is required")
	}
	return tokenaccount.NewBPETokenizer(cfg.VocabPath)
}

// serveMetrics runs the Prometheus scrape endpoint on its own port, so a
// slow or misbehaving scraper can never starve proxy traffic on the main
// listener.
func serveMetrics(port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Printf("llmgateway metrics listening on :%d", port)
	if err := srv.ListenAndServe(); err != nil {
		log.Printf("metrics server error: %v", err)
	}
}
