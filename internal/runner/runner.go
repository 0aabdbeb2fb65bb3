package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/fetcher"
)

// Fetcher is the retrying fetch used per URL (fetcher.Retrier in production).
type Fetcher interface {
	FetchWithRetry(ctx context.Context, url string) (*fetcher.FetchResult, error)
}

type Extractor interface {
	Extract(doc extractor.Document) (extractor.Result, error)
}

// RobotsChecker is optional; a nil checker allows every URL.
type RobotsChecker interface {
	Allowed(ctx context.Context, url string) (bool, error)
}

// Run is one batch: an outcome per input URL, in input order.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []extractor.Outcome
}

func (r *Run) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

type Options struct {
	Fetcher           Fetcher
	Extractor         Extractor
	Robots            RobotsChecker
	InterRequestDelay config.Range
	Sleep             fetcher.SleepFunc
	Rand              *rand.Rand
	Logger            logrus.FieldLogger
	Now               func() time.Time
	// OnOutcome is called after each URL with its 0-based index.
	OnOutcome func(index int, outcome extractor.Outcome)
}

// Runner processes URLs one at a time: fetch, extract, record, pause.
type Runner struct {
	opts Options
}

func New(opts Options) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = fetcher.Sleep
	}
	if opts.Rand == nil {
		opts.Rand = fetcher.NewRand()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// Run processes urls in order. Failures become failed outcomes; only context
// cancellation ends the batch early, returning the outcomes gathered so far with
// ctx.Err().
func (r *Runner) Run(ctx context.Context, urls []string) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		StartedAt: r.opts.Now(),
		Outcomes:  make([]extractor.Outcome, 0, len(urls)),
	}
	log := r.opts.Logger.WithField("run", run.ID.String())
	log.WithField("urls", len(urls)).Info("starting batch")

	for i, url := range urls {
		ulog := log.WithFields(logrus.Fields{
			"index": fmt.Sprintf("%d/%d", i+1, len(urls)),
			"url":   url,
		})
		ulog.Info("processing")

		outcome, err := r.Process(ctx, url)
		if err != nil {
			run.FinishedAt = r.opts.Now()
			return run, err
		}
		run.Outcomes = append(run.Outcomes, outcome)
		if r.opts.OnOutcome != nil {
			r.opts.OnOutcome(i, outcome)
		}

		ulog.WithFields(logrus.Fields{
			"name":     outcome.Name,
			"duration": outcome.Duration,
			"success":  outcome.Success,
		}).Info("processed")

		if i < len(urls)-1 {
			wait := fetcher.RandomDuration(r.opts.Rand, r.opts.InterRequestDelay.Min, r.opts.InterRequestDelay.Max)
			if wait > 0 {
				ulog.WithField("wait", wait.Round(100*time.Millisecond).String()).Info("waiting before next request")
				if err := r.opts.Sleep(ctx, wait); err != nil {
					run.FinishedAt = r.opts.Now()
					return run, err
				}
			}
		}
	}

	run.FinishedAt = r.opts.Now()
	log.WithFields(logrus.Fields{
		"succeeded": run.Succeeded(),
		"total":     len(run.Outcomes),
	}).Info("batch complete")
	return run, nil
}

// Process fetches and extracts a single URL. The returned error is non-nil only when
// ctx is done; every other failure is folded into the outcome.
func (r *Runner) Process(ctx context.Context, url string) (extractor.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return extractor.Outcome{}, err
	}

	if r.opts.Robots != nil {
		allowed, err := r.opts.Robots.Allowed(ctx, url)
		if err != nil {
			return extractor.Outcome{}, err
		}
		if !allowed {
			return extractor.Failed(url, extractor.NameDisallowed, "Disallowed by robots.txt"), nil
		}
	}

	result, err := r.opts.Fetcher.FetchWithRetry(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extractor.Outcome{}, ctxErr
		}
		return FailedOutcome(url, err), nil
	}

	extracted, err := r.opts.Extractor.Extract(extractor.Document{
		URL:      url,
		Body:     result.Body,
		Rendered: result.Rendered,
	})
	if err != nil {
		return FailedOutcome(url, err), nil
	}
	return extracted.Outcome(url), nil
}

// FailedOutcome describes err as a failed outcome for url.
func FailedOutcome(url string, err error) extractor.Outcome {
	var (
		blocked  *fetcher.BlockedError
		status   *fetcher.StatusError
		network  *fetcher.NetworkError
		parseErr *extractor.ParseError
	)

	switch {
	case errors.As(err, &blocked):
		return extractor.Failed(url, extractor.NameRequestFailed, "HTTP Error: "+blocked.Error())
	case errors.As(err, &status):
		return extractor.Failed(url, extractor.NameRequestFailed, "HTTP Error: "+status.Error())
	case errors.As(err, &network):
		cause := network.Err
		if cause == nil {
			cause = network
		}
		return extractor.Failed(url, extractor.NameRequestFailed, "Request failed: "+cause.Error())
	case errors.As(err, &parseErr):
		return extractor.Failed(url, extractor.NameError, "Parse failed: "+parseErr.Error())
	default:
		return extractor.Failed(url, extractor.NameError, "Error: "+err.Error())
	}
}
