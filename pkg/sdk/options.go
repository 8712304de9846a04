package sdk

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fluxsdk/pkg/retry"
	"fluxsdk/pkg/subscription"
	"fluxsdk/pkg/txbuilder"
)

// DefaultCacheTTL is how long a fetched or pushed record is served from cache.
const DefaultCacheTTL = 30 * time.Second

// StreamBuffer is the channel capacity of StreamVaultUpdates.
const StreamBuffer = 16

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for cache freshness and retry
// timing. Tests pass a clock.Mock.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithCoalescing makes concurrent reads of the same key share one in-flight
// fetch. The first caller's context and request options drive that fetch.
func WithCoalescing(enabled bool) Option {
	return func(c *Client) { c.coalesce = enabled }
}

// WithRequestDefaults sets the per-call defaults that RequestOptions override.
func WithRequestDefaults(maxRetries int, timeout time.Duration, useCache bool) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.defaults.maxRetries = maxRetries
		}
		if timeout > 0 {
			c.defaults.timeout = timeout
		}
		c.defaults.useCache = useCache
	}
}

// WithBackoff sets the backoff unit between attempts.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoff = base
		}
	}
}

// WithNotifier enables subscriptions over the given push transport.
func WithNotifier(notifier subscription.Notifier) Option {
	return func(c *Client) { c.notifier = notifier }
}

func WithProgramID(id solana.PublicKey) Option {
	return func(c *Client) { c.programID = id }
}

// WithComputeBudget sets the compute unit limit and priority fee used by
// NewTransactionBuilder.
func WithComputeBudget(units uint32, priorityFee uint64) Option {
	return func(c *Client) {
		if units > 0 {
			c.computeUnitLimit = units
		}
		if priorityFee > 0 {
			c.priorityFee = priorityFee
		}
	}
}

type requestOptions struct {
	maxRetries int
	timeout    time.Duration
	useCache   bool
}

func defaultRequestOptions() requestOptions {
	return requestOptions{
		maxRetries: retry.DefaultMaxRetries,
		timeout:    retry.DefaultTimeout,
	}
}

// RequestOption adjusts a single read.
type RequestOption func(*requestOptions)

func WithMaxRetries(n int) RequestOption {
	return func(o *requestOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithTimeout bounds each attempt, not the whole call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCache serves a fresh cached record when one exists.
func WithCache(useCache bool) RequestOption {
	return func(o *requestOptions) { o.useCache = useCache }
}

func defaultBuilderOptions(c *Client) []txbuilder.Option {
	return []txbuilder.Option{
		txbuilder.WithProgramID(c.programID),
		txbuilder.WithLogger(c.logger),
	}
}
