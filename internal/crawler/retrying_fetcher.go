package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/metrics"
)

// RetryingFetcher re-issues failed requests according to a RetryPolicy.
type RetryingFetcher struct {
	next    Fetcher
	policy  RetryPolicy
	limiter *HostLimiter
	pauser  Pauser
	logger  *zap.Logger
}

// NewRetryingFetcher wraps next. limiter may be nil.
func NewRetryingFetcher(next Fetcher, policy RetryPolicy, limiter *HostLimiter, pauser Pauser, logger *zap.Logger) *RetryingFetcher {
	if pauser == nil {
		pauser = &TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{
		next:    next,
		policy:  policy,
		limiter: limiter,
		pauser:  pauser,
		logger:  logger,
	}
}

// Fetch performs the request, retrying while the policy allows it.
func (f *RetryingFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return FetchResponse{}, err
			}
		}
		resp, err := f.next.Fetch(ctx, request)
		metrics.ObserveFetch(string(request.Kind), resp.StatusCode, err, len(resp.Body))
		if err == nil {
			return resp, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}

		delay := f.policy.Backoff(attempt)
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
			delay = statusErr.RetryAfter
		}
		metrics.ObserveRetry(string(request.Kind), StatusCodeOf(err))
		f.logger.Warn("retrying request",
			zap.String("url", request.URL),
			zap.String("kind", string(request.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return FetchResponse{}, ctx.Err()
		}
	}
}
