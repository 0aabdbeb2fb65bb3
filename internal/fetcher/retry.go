package fetcher

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/byteowlz/visitdur/internal/config"
)

// RetryPolicy bounds the attempts made for one URL.
type RetryPolicy struct {
	MaxRetries      int           // extra attempts after a 403
	Backoff         time.Duration // wait attempt*Backoff after the attempt-th 403
	PreRequestDelay config.Range  // random wait before every attempt
}

// NewRetryPolicy builds the policy from the retry section of the config.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		Backoff:         cfg.Backoff,
		PreRequestDelay: cfg.PreRequestDelay,
	}
}

type RetrierOptions struct {
	Policy  RetryPolicy
	Limiter *HostLimiter
	Debug   DebugSink
	Sleep   SleepFunc
	Rand    *rand.Rand
	Logger  logrus.FieldLogger
}

// Retrier wraps a Fetcher with the 403 backoff policy.
type Retrier struct {
	fetcher Fetcher
	policy  RetryPolicy
	limiter *HostLimiter
	debug   DebugSink
	sleep   SleepFunc
	rng     *rand.Rand
	logger  logrus.FieldLogger
}

func NewRetrier(f Fetcher, opts RetrierOptions) *Retrier {
	r := &Retrier{
		fetcher: f,
		policy:  opts.Policy,
		limiter: opts.Limiter,
		debug:   opts.Debug,
		sleep:   opts.Sleep,
		rng:     opts.Rand,
		logger:  opts.Logger,
	}
	if r.policy.MaxRetries < 0 {
		r.policy.MaxRetries = 0
	}
	if r.debug == nil {
		r.debug = NopDebugSink{}
	}
	if r.sleep == nil {
		r.sleep = Sleep
	}
	if r.rng == nil {
		r.rng = NewRand()
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	return r
}

// FetchWithRetry fetches url, retrying only on HTTP 403. It returns a *BlockedError once
// MaxRetries retries have also been refused, a *StatusError for any other non-2xx status
// and a *NetworkError for transport failures. Neither of the latter two is retried.
func (r *Retrier) FetchWithRetry(ctx context.Context, url string) (*FetchResult, error) {
	maxAttempts := r.policy.MaxRetries + 1
	log := r.logger.WithField("url", url)

	for attempt := 1; ; attempt++ {
		if err := r.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}
		if err := r.wait(ctx, RandomDuration(r.rng, r.policy.PreRequestDelay.Min, r.policy.PreRequestDelay.Max)); err != nil {
			return nil, err
		}

		log.WithField("attempt", attempt).Debug("fetching")
		result, err := r.fetcher.Fetch(ctx, FetchRequest{URL: url, Attempt: attempt, MaxAttempts: maxAttempts})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr *NetworkError
			if !errors.As(err, &netErr) {
				err = &NetworkError{URL: url, Err: err}
			}
			return nil, err
		}

		if attempt == 1 && len(result.Body) > 0 {
			if err := r.debug.SaveDocument(url, result.Body); err != nil {
				log.WithError(err).Warn("could not save debug document")
			}
		}

		if result.Blocked() {
			if attempt > r.policy.MaxRetries {
				return nil, &BlockedError{URL: url, Attempts: attempt, Retries: r.policy.MaxRetries}
			}
			backoff := time.Duration(attempt) * r.policy.Backoff
			log.WithFields(logrus.Fields{
				"wait":  backoff.String(),
				"retry": attempt,
				"max":   r.policy.MaxRetries,
			}).Warn("blocked (403), backing off before retry")
			if err := r.wait(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		if !result.OK() {
			return nil, &StatusError{URL: url, Code: result.StatusCode, Status: statusText(result.StatusCode)}
		}
		return result, nil
	}
}

func (r *Retrier) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return r.sleep(ctx, d)
}

func (r *Retrier) Close() error {
	return Close(r.fetcher)
}
