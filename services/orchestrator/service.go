// Package orchestrator schedules the scrape pipeline across account
// tiers. Priority accounts run on a tight cadence, everyone else on a
// slow one, and a run that keeps failing eventually restarts the whole
// process.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/serviceutil"
	"github.com/reddmonchick/VisaScraper/services/records"
	"github.com/reddmonchick/VisaScraper/services/scraper"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/orchestrator")

// ErrAlreadyRunning reports that the tier's previous run has not
// finished. It is not a failure of the pipeline itself.
var ErrAlreadyRunning = errors.New("tier run already in progress")

// Pipeline is the per-account scrape.
type Pipeline interface {
	ScrapeAccount(ctx context.Context, account scraper.Account) (scraper.Result, error)
}

// Announcer fans reconciliation outcomes out to the chat channel.
type Announcer interface {
	AnnounceBatchChanges(ctx context.Context, outcomes []records.BatchOutcome)
	AnnounceNewPermits(ctx context.Context, outcomes []records.PermitOutcome) error
	SendExpiryReminders(ctx context.Context) error
}

// Replicator lands outcomes in the tabular sink.
type Replicator interface {
	Replicate(ctx context.Context, accounts []string, batch []records.BatchOutcome, permits []records.PermitOutcome) error
}

type Options struct {
	FastInterval time.Duration `json:"fast_interval"`
	SlowInterval time.Duration `json:"slow_interval"`

	// pause before retrying a failed run
	ErrorRetryDelay time.Duration
	// pause before the restart once the error budget is spent
	RestartDelay time.Duration
	// consecutive failures tolerated before restarting
	MaxConsecutiveErrors int32

	// replaced in tests
	Restart func() error
}

func (o Options) withDefaults() Options {
	if o.FastInterval == 0 {
		o.FastInterval = time.Minute * 30
	}
	if o.SlowInterval == 0 {
		o.SlowInterval = time.Hour * 6
	}
	if o.ErrorRetryDelay == 0 {
		o.ErrorRetryDelay = time.Second * 30
	}
	if o.RestartDelay == 0 {
		o.RestartDelay = time.Second * 60
	}
	if o.MaxConsecutiveErrors == 0 {
		o.MaxConsecutiveErrors = 5
	}
	if o.Restart == nil {
		o.Restart = serviceutil.Restart
	}
	return o
}

type Service struct {
	pipeline   Pipeline
	announcer  Announcer
	replicator Replicator
	accounts   []scraper.Account
	opts       Options

	fastRunning atomic.Bool
	slowRunning atomic.Bool
	// consecutive failed runs across both tiers
	errorStreak atomic.Int32
}

func NewService(pipeline Pipeline, announcer Announcer, replicator Replicator, accounts []scraper.Account, opts Options) *Service {
	return &Service{
		pipeline:   pipeline,
		announcer:  announcer,
		replicator: replicator,
		accounts:   accounts,
		opts:       opts.withDefaults(),
	}
}

func (s *Service) tierAccounts(fast bool) []scraper.Account {
	var out []scraper.Account
	for _, account := range s.accounts {
		if account.Fast == fast {
			out = append(out, account)
		}
	}
	return out
}

// RunTier runs the whole pipeline for one tier once. At most one run
// per tier is in flight at a time; a second caller gets
// ErrAlreadyRunning instead of a duplicate scrape.
func (s *Service) RunTier(ctx context.Context, fast bool) error {
	guard := &s.slowRunning
	if fast {
		guard = &s.fastRunning
	}
	if !guard.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer guard.Store(false)

	ctx, span := tracer.Start(ctx, "RunTier")
	defer span.End()
	span.SetAttributes(attribute.Bool("fast", fast))

	var scrapeErrs []error
	var succeeded []string
	var batch []records.BatchOutcome
	var permits []records.PermitOutcome

	for _, account := range s.tierAccounts(fast) {
		result, err := s.pipeline.ScrapeAccount(ctx, account)
		if err != nil {
			// keep scraping the rest of the tier
			slog.ErrorContext(ctx, "account scrape failed", "account", account.Name, "err", err)
			scrapeErrs = append(scrapeErrs, err)
			continue
		}
		succeeded = append(succeeded, account.Name)
		batch = append(batch, result.Batch...)
		permits = append(permits, result.Permits...)
	}

	if len(succeeded) > 0 {
		s.announcer.AnnounceBatchChanges(ctx, batch)
		err := s.announcer.AnnounceNewPermits(ctx, permits)
		if err != nil {
			scrapeErrs = append(scrapeErrs, err)
		}

		// only accounts that actually produced data may supersede
		// their sink rows
		err = s.replicator.Replicate(ctx, succeeded, batch, permits)
		if err != nil {
			scrapeErrs = append(scrapeErrs, err)
		}
	}

	if !fast {
		err := s.announcer.SendExpiryReminders(ctx)
		if err != nil {
			scrapeErrs = append(scrapeErrs, err)
		}
	}

	err := errors.Join(scrapeErrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Start launches both tier loops. Each loop runs once immediately and
// then keeps its own schedule until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.loop(ctx, true, s.opts.FastInterval)
	go s.loop(ctx, false, s.opts.SlowInterval)
}

func (s *Service) loop(ctx context.Context, fast bool, interval time.Duration) {
	for {
		err := s.RunTier(ctx, fast)

		wait := interval
		switch {
		case err == nil:
			s.errorStreak.Store(0)
		case errors.Is(err, ErrAlreadyRunning):
			slog.WarnContext(ctx, "skipping tier run, previous one still in flight", "fast", fast)
		default:
			streak := s.errorStreak.Add(1)
			if streak >= s.opts.MaxConsecutiveErrors {
				slog.ErrorContext(ctx, "error budget exhausted, restarting",
					"streak", streak, "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.opts.RestartDelay):
				}
				err := s.opts.Restart()
				if err != nil {
					serviceutil.Fatal("failed to restart", err)
				}
				return
			}
			slog.WarnContext(ctx, "tier run failed, retrying",
				"fast", fast, "streak", streak, "err", err)
			wait = s.opts.ErrorRetryDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
