// Package fetch provides AssetFetcher implementations for the remote
// asset source: an S3/object-storage fetcher, an HTTP CDN fetcher, and a
// guard wrapper adding per-request timeouts, retry with backoff, and a
// circuit breaker.
package fetch

import (
	"context"
	stderr "errors"
	"time"

	"github.com/bassnotion/assetcache/internal/circuit"
	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/health"
	"github.com/bassnotion/assetcache/pkg/retry"
	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// GuardedFetcher wraps an AssetFetcher with a per-fetch timeout, retry
// with exponential backoff, and a circuit breaker. An open breaker fails
// fast without touching the origin.
type GuardedFetcher struct {
	inner   types.AssetFetcher
	retryer *retry.Retryer
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *utils.StructuredLogger
	tracker *health.Tracker
}

// originComponent is the health tracker component name for the origin.
const originComponent = "origin"

// NewGuardedFetcher builds the guard from the fetch configuration. A nil
// breaker config disables circuit breaking but keeps retry.
func NewGuardedFetcher(inner types.AssetFetcher, cfg config.FetchConfig, logger *utils.StructuredLogger) *GuardedFetcher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.BaseDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	var breaker *circuit.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuit.NewBreaker(circuit.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Timeout:          cfg.CircuitBreaker.Timeout,
			OnStateChange: func(from, to circuit.State) {
				logger.Warn("origin breaker state changed", map[string]interface{}{
					"from": from.String(),
					"to":   to.String(),
				})
			},
		})
	}

	return &GuardedFetcher{
		inner:   inner,
		retryer: retry.New(retryCfg),
		breaker: breaker,
		timeout: cfg.Timeout,
		logger:  logger.WithField("component", "guarded-fetcher"),
	}
}

// SetHealthTracker registers the origin with a health tracker and makes
// every fetch outcome feed it. Must be called before Fetch is used.
func (g *GuardedFetcher) SetHealthTracker(tracker *health.Tracker) {
	tracker.Register(originComponent)
	g.tracker = tracker
}

// Fetch implements types.AssetFetcher.
func (g *GuardedFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var payload []byte
	err := g.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempt := func(ctx context.Context) error {
			data, err := g.inner.Fetch(ctx, key)
			if err != nil {
				return err
			}
			payload = data
			return nil
		}

		if g.breaker == nil {
			return attempt(ctx)
		}

		err := g.breaker.Execute(ctx, attempt)
		if stderr.Is(err, circuit.ErrOpen) || stderr.Is(err, circuit.ErrProbeBusy) {
			// Retryable: the breaker may reach half-open during backoff
			// and let the next attempt probe the origin.
			return errors.Wrap(errors.ErrCodeOriginDegraded, "origin circuit open", err).
				WithContext("key", key)
		}
		return err
	})
	if err != nil {
		if g.tracker != nil {
			g.tracker.RecordError(originComponent, err)
		}
		return nil, err
	}
	if g.tracker != nil {
		g.tracker.RecordSuccess(originComponent)
	}
	return payload, nil
}

// Breaker exposes the underlying breaker for health reporting. Nil when
// circuit breaking is disabled.
func (g *GuardedFetcher) Breaker() *circuit.Breaker {
	return g.breaker
}

// FromConfig builds the configured fetcher chain. Source "none" returns
// nil, which disables prefetch and stale refresh in the cache.
func FromConfig(ctx context.Context, cfg config.FetchConfig, logger *utils.StructuredLogger) (types.AssetFetcher, error) {
	var inner types.AssetFetcher
	switch cfg.Source {
	case "none", "":
		return nil, nil
	case "s3":
		fetcher, err := NewS3Fetcher(ctx, cfg.S3, nil, logger)
		if err != nil {
			return nil, err
		}
		inner = fetcher
	case "http":
		fetcher, err := NewHTTPFetcher(cfg.HTTP, logger)
		if err != nil {
			return nil, err
		}
		inner = fetcher
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown fetch source: %s", cfg.Source)
	}

	return NewGuardedFetcher(inner, cfg, logger), nil
}
