package eventstore

import (
	"time"

	"github.com/nexusid/eventstore/pkg/logging"
	"github.com/nexusid/eventstore/pkg/observability"
)

// Config holds the engine's tunables. Defaults match the configuration
// contract: instance_id "default", max_push_batch_size 100,
// push_timeout_ms 30000, enable_subscriptions true.
type Config struct {
	instanceID          string
	maxPushBatchSize    int
	pushTimeout         time.Duration
	enableSubscriptions bool
	maxRetries          int
	logger              logging.Logger
	metrics             *observability.Metrics
}

func defaultConfig() Config {
	return Config{
		instanceID:          "default",
		maxPushBatchSize:    100,
		pushTimeout:         30 * time.Second,
		enableSubscriptions: true,
		maxRetries:          3,
		logger:              logging.NoOp(),
	}
}

// Option configures the engine.
type Option func(*Config)

// WithInstanceID sets the default instance_id used by Push* calls that
// don't set one on their commands explicitly (tests and single-tenant
// callers typically rely on this rather than stamping every command).
func WithInstanceID(id string) Option {
	return func(c *Config) { c.instanceID = id }
}

// WithMaxPushBatchSize bounds the number of commands accepted by PushMany
// in one call. Kept small deliberately: it bounds lock-hold time and the
// blast radius of a retry, not just throughput.
func WithMaxPushBatchSize(n int) Option {
	return func(c *Config) { c.maxPushBatchSize = n }
}

// WithPushTimeout bounds how long a single Push* call, all retry attempts
// and backoff included, may run before its transaction is aborted.
func WithPushTimeout(d time.Duration) Option {
	return func(c *Config) { c.pushTimeout = d }
}

// WithSubscriptions toggles whether committed batches are published to
// the in-process bus after commit.
func WithSubscriptions(enabled bool) Option {
	return func(c *Config) { c.enableSubscriptions = enabled }
}

// WithMaxRetries bounds how many times Push* retries a transaction that
// failed with a retryable classification.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.maxRetries = n }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches OpenTelemetry instruments recorded by Push*. A
// nil *Metrics (the default) leaves every recording call a no-op.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Config) { c.metrics = m }
}
