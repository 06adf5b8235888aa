package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Web search modes.
const (
	WebSearchDuckDuckGo = "duckduckgo"
	WebSearchStub       = "stub"
	WebSearchOff        = "off"
)

// Config adds triagedesk-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ClaudeAPIKey         string
	ClaudeModel          string
	ClaudeMaxRetries     int
	ClaudeTimeoutSeconds int

	KBPath      string
	MemoryFile  string
	DatabaseURL string
	RedisURL    string
	RedisPrefix string

	AuditLogPath   string
	AuditMaxBytes  int64
	AuditBackups   int
	SanitizeMaxLen int

	WebSearchMode       string
	WebSearchEndpoint   string
	WebSearchMaxResults int

	SlackWebhookURL string
	Offline         bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = rule classifier, no drafts)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ClaudeMaxRetries, "claude-max-retries", 2, "retries for transient Claude API failures (0..10)")
	fs.IntVar(&c.ClaudeTimeoutSeconds, "claude-timeout-seconds", 60, "per-request Claude API timeout (1..600)")

	fs.StringVar(&c.KBPath, "kb-path", "data/kb.yaml", "knowledge base file (.yaml, .yml or .json)")
	fs.StringVar(&c.MemoryFile, "memory-file", "data/memory_bank.json", "JSON memory bank file (empty = in-memory store)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (takes precedence over redis and file stores)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis connection URL (takes precedence over the file store)")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "triagedesk:", "key prefix for the redis store")

	fs.StringVar(&c.AuditLogPath, "audit-log", "logs/audit.jsonl", "audit event log file (empty = structured log only)")
	fs.Int64Var(&c.AuditMaxBytes, "audit-max-bytes", 5_000_000, "rotate the audit log past this size (> 0)")
	fs.IntVar(&c.AuditBackups, "audit-backups", 3, "rotated audit logs to keep (0..100)")
	fs.IntVar(&c.SanitizeMaxLen, "sanitize-max-len", 300, "truncate sanitized log values to this many bytes (>= 32)")

	fs.StringVar(&c.WebSearchMode, "web-search", WebSearchDuckDuckGo, "web search fallback: duckduckgo, stub or off")
	fs.StringVar(&c.WebSearchEndpoint, "web-search-endpoint", "https://api.duckduckgo.com/", "DuckDuckGo Instant Answer endpoint")
	fs.IntVar(&c.WebSearchMaxResults, "web-search-max-results", 5, "web results handed to the drafter (1..20)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.BoolVar(&c.Offline, "offline", false, "never call external services: rule classifier, KB-backed web stub, no slack")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
// A missing Claude API key is valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeMaxRetries < 0 || c.ClaudeMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_MAX_RETRIES %d (must be 0..10)", c.ClaudeMaxRetries))
	}
	if c.ClaudeTimeoutSeconds <= 0 || c.ClaudeTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_TIMEOUT_SECONDS %d (must be 1..600)", c.ClaudeTimeoutSeconds))
	}

	if c.AuditMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid AUDIT_MAX_BYTES %d (must be > 0)", c.AuditMaxBytes))
	}
	if c.AuditBackups < 0 || c.AuditBackups > 100 {
		errs = append(errs, fmt.Errorf("invalid AUDIT_BACKUPS %d (must be 0..100)", c.AuditBackups))
	}
	if c.SanitizeMaxLen < 32 {
		errs = append(errs, fmt.Errorf("invalid SANITIZE_MAX_LEN %d (must be >= 32)", c.SanitizeMaxLen))
	}

	switch c.WebSearchMode {
	case WebSearchDuckDuckGo:
		if u, err := url.Parse(c.WebSearchEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid WEB_SEARCH_ENDPOINT %q (must be an absolute URL)", c.WebSearchEndpoint))
		}
	case WebSearchStub, WebSearchOff:
	default:
		errs = append(errs, fmt.Errorf("invalid WEB_SEARCH %q (must be duckduckgo, stub or off)", c.WebSearchMode))
	}
	if c.WebSearchMaxResults <= 0 || c.WebSearchMaxResults > 20 {
		errs = append(errs, fmt.Errorf("invalid WEB_SEARCH_MAX_RESULTS %d (must be 1..20)", c.WebSearchMaxResults))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// UseLLM reports whether the generative backend should be called.
func (c *Config) UseLLM() bool {
	return !c.Offline && c.ClaudeAPIKey != ""
}

// EffectiveWebSearch is the web search mode after applying Offline.
func (c *Config) EffectiveWebSearch() string {
	if c.Offline && c.WebSearchMode == WebSearchDuckDuckGo {
		return WebSearchStub
	}
	return c.WebSearchMode
}
