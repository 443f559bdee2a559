package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/normalize"
)

// RetryConfig bounds how hard Retrying works before giving up.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RatePerSecond   float64 // 0 disables rate limiting
	Burst           int
}

// DefaultRetryConfig is three attempts, 500ms doubling to at most 5s, one
// request per second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		RatePerSecond:   1,
		Burst:           1,
	}
}

// Retrying wraps an analyzer with capped exponential backoff and a
// token-bucket rate limiter. Malformed proposals are not retried.
type Retrying struct {
	next    Analyzer
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Analyzer, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{next: next, cfg: cfg, logger: logger.With("component", "analyzer", "backend", next.Name())}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

// Name implements Analyzer.
func (r *Retrying) Name() string { return r.next.Name() }

// Analyze implements Analyzer. Failures after the last attempt wrap
// ErrAnalysisUnavailable; validation failures are returned unchanged.
func (r *Retrying) Analyze(ctx context.Context, req Request) (*contracts.CandidateVerdict, error) {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}

	attempt := 0
	op := func() (*contracts.CandidateVerdict, error) {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		v, err := r.next.Analyze(ctx, req)
		if err == nil {
			return v, nil
		}
		if !transient(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("analyzer attempt failed; retrying",
				"deal_id", req.Dispute.ID,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}),
	)
	if err == nil {
		return v, nil
	}

	var ve *normalize.ValidationError
	if errors.As(err, &ve) {
		return nil, err
	}
	r.logger.Error("analyzer unavailable", "deal_id", req.Dispute.ID, "attempts", attempt, "error", err)
	return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrAnalysisUnavailable, attempt, err)
}

// transient classifies errors worth another attempt: transport failures and
// HTTP 429/5xx. Cancellation and malformed output are final.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ve *normalize.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	return true
}
