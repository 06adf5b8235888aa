// Package app assembles the triage pipeline from configuration. The HTTP
// server and the operator CLI share it so both run the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/triagedesk/internal/audit"
	"github.com/linnemanlabs/triagedesk/internal/cfg"
	"github.com/linnemanlabs/triagedesk/internal/kb"
	"github.com/linnemanlabs/triagedesk/internal/llm/claude"
	"github.com/linnemanlabs/triagedesk/internal/notify/slack"
	"github.com/linnemanlabs/triagedesk/internal/postgres"
	"github.com/linnemanlabs/triagedesk/internal/redact"
	"github.com/linnemanlabs/triagedesk/internal/triage"
	"github.com/linnemanlabs/triagedesk/internal/triage/filestore"
	"github.com/linnemanlabs/triagedesk/internal/triage/memstore"
	"github.com/linnemanlabs/triagedesk/internal/triage/pgstore"
	"github.com/linnemanlabs/triagedesk/internal/triage/redisstore"
	"github.com/linnemanlabs/triagedesk/internal/websearch"
)

// Store backends, in the order they are preferred.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendFile     = "file"
	BackendMemory   = "memory"
)

// App is a fully wired triage pipeline.
type App struct {
	Service *triage.Service
	Store   triage.Store
	KB      *kb.Base
	Audit   *audit.Log

	// Backend names the store in use.
	Backend string
	// Metrics is nil when no registerer was given.
	Metrics *triage.Metrics

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New builds the pipeline described by c. reg may be nil, in which case
// no metrics are registered. Close releases everything New opened, also
// when New fails halfway.
func New(ctx context.Context, c *cfg.Config, logger log.Logger, reg prometheus.Registerer) (_ *App, err error) {
	if logger == nil {
		logger = log.Nop()
	}
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// audit log first so the rest of the wiring can record into it
	if c.AuditLogPath != "" {
		al, err := audit.Open(c.AuditLogPath, c.AuditMaxBytes, c.AuditBackups, logger)
		if err != nil {
			return nil, err
		}
		a.Audit = al
		a.closers = append(a.closers, closer{"audit log", func(context.Context) error { return al.Close() }})
	} else {
		a.Audit = audit.Discard(logger)
	}
	a.Audit.WithSanitizer(redact.New(c.SanitizeMaxLen))

	a.KB = kb.Load(ctx, c.KBPath, logger)

	if err := a.openStore(ctx, c, logger); err != nil {
		return nil, err
	}
	logger.Info(ctx, "memory store ready", "backend", a.Backend)

	var hooks triage.Hooks
	if reg != nil {
		a.Metrics = triage.NewMetrics(reg)
		hooks = a.Metrics.Hooks()
	}

	var provider triage.Provider
	if c.UseLLM() {
		cl := claude.New(claude.Options{
			APIKey:     c.ClaudeAPIKey,
			Model:      c.ClaudeModel,
			MaxRetries: c.ClaudeMaxRetries,
			Timeout:    time.Duration(c.ClaudeTimeoutSeconds) * time.Second,
		})
		provider = cl
		logger.Info(ctx, "initialized LLM provider", "provider", "claude", "model", cl.Model())
	} else {
		logger.Warn(ctx, "no LLM provider configured, using rule classification and placeholder drafts",
			"offline", c.Offline)
	}

	var classifier triage.Classifier = triage.RuleClassifier{}
	if provider != nil {
		classifier = triage.NewLLMClassifier(provider, logger, hooks)
	}

	var web triage.WebSearcher
	switch mode := c.EffectiveWebSearch(); mode {
	case cfg.WebSearchDuckDuckGo:
		web = websearch.NewDuckDuckGo(c.WebSearchEndpoint, a.Audit)
	case cfg.WebSearchStub:
		web = websearch.NewKBStub(a.KB, a.Audit)
	}
	logger.Info(ctx, "web search configured", "mode", c.EffectiveWebSearch())

	var notifier triage.Notifier
	if c.SlackWebhookURL != "" && !c.Offline {
		notifier = slack.New(c.SlackWebhookURL, logger)
		logger.Info(ctx, "notifier enabled", "type", "slack")
	}

	drafter := triage.NewDrafter(provider, web, c.WebSearchMaxResults, a.Audit, logger, hooks)
	escalator := triage.NewEscalator(a.Store, notifier, a.Audit, logger)
	a.Service = triage.NewService(a.Store, classifier, a.KB, drafter, escalator, a.Audit, logger, hooks)
	return a, nil
}

// openStore picks postgres, then redis, then the JSON file, then memory.
func (a *App) openStore(ctx context.Context, c *cfg.Config, logger log.Logger) error {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		a.closers = append(a.closers, closer{"postgres pool", func(context.Context) error { pool.Close(); return nil }})
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		a.Store, a.Backend = s, BackendPostgres

	case c.RedisURL != "":
		rdb, err := redisstore.Dial(ctx, c.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closer{"redis client", func(context.Context) error { return rdb.Close() }})
		a.Store, a.Backend = redisstore.New(rdb, c.RedisPrefix), BackendRedis

	case c.MemoryFile != "":
		s, err := filestore.Open(ctx, c.MemoryFile, logger)
		if err != nil {
			return err
		}
		a.Store, a.Backend = s, BackendFile

	default:
		a.Store, a.Backend = memstore.New(), BackendMemory
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.closers[i].name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
