// Package config holds the service's own bootstrap knobs — ports,
// timeouts, and budgets. Tenant/company profile configuration is a
// Non-goal; this is deliberately thin.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide bootstrap configuration, populated from
// the environment.
type Config struct {
	// WSAddr is the address the WebSocket hub's listener binds to.
	WSAddr string `env:"PINNOKIO_WS_ADDR" envDefault:":8080"`

	// DefaultModel is the model name used when a chat mode doesn't
	// override it.
	DefaultModel string `env:"PINNOKIO_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5-20250929"`

	// SummaryModel is used for the non-streaming summarization call.
	SummaryModel string `env:"PINNOKIO_SUMMARY_MODEL" envDefault:"claude-haiku-3-5-20241022"`

	// TokenBudget is the context-token threshold that triggers
	// summarization (spec §4.2: 80,000).
	TokenBudget int `env:"PINNOKIO_TOKEN_BUDGET" envDefault:"80000"`

	// MaxIterations bounds turns per workflow invocation (spec §4.2: 20).
	MaxIterations int `env:"PINNOKIO_MAX_ITERATIONS" envDefault:"20"`

	// ApprovalTimeout is the default wait for an approval card (spec §5: 900s).
	ApprovalTimeout time.Duration `env:"PINNOKIO_APPROVAL_TIMEOUT" envDefault:"900s"`

	// WorkerHTTPTimeout bounds calls to worker stop endpoints (spec §5: 30s).
	WorkerHTTPTimeout time.Duration `env:"PINNOKIO_WORKER_HTTP_TIMEOUT" envDefault:"30s"`

	// CallbackLoopTimeout bounds how long an RTDB callback thread blocks
	// waiting for the session's dedicated loop to accept work (spec §5: 1s).
	CallbackLoopTimeout time.Duration `env:"PINNOKIO_CALLBACK_LOOP_TIMEOUT" envDefault:"1s"`

	// WorkerBaseURL is the base URL for worker job HTTP endpoints.
	WorkerBaseURL string `env:"PINNOKIO_WORKER_BASE_URL" envDefault:"http://localhost:9000"`

	// RedisAddr is the Redis cache port's backing address.
	RedisAddr string `env:"PINNOKIO_REDIS_ADDR" envDefault:"localhost:6379"`

	// CacheTTL is the default TTL for opaque cache entries (user context
	// snapshots, buffered WS messages).
	CacheTTL time.Duration `env:"PINNOKIO_CACHE_TTL" envDefault:"1h"`
}

// Load parses configuration from the environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
