// Package scraper runs the per-account scrape pipeline: make sure the
// portal session is alive, pull every batch application and stay
// permit, normalize the rows, mirror their print documents, and land
// the result in the reconciliation store.
package scraper

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/services/mirror"
	"github.com/reddmonchick/VisaScraper/services/records"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/scraper")

// Account is one set of portal credentials. Fast accounts are scraped
// on the tight schedule, the rest on the slow one.
type Account struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Fast     bool   `json:"fast"`
}

type Options struct {
	// attempts per fetch before the scrape fails, default 3
	RetryAttempts int
	// pause between attempts, default 10s
	RetryDelay time.Duration
	// how long a session token is trusted without a probe, default 30m
	SessionTTL time.Duration
	// birth dates cost one detail-page request per application
	FetchBirthDates bool
}

func (o Options) withDefaults() Options {
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second * 10
	}
	if o.SessionTTL == 0 {
		o.SessionTTL = time.Minute * 30
	}
	return o
}

type Service struct {
	client   *evisa.Client
	records  records.Service
	mirror   mirror.Service
	sessions *sessionStore
	opts     Options
}

func NewService(client *evisa.Client, recordStore records.Service, artifactMirror mirror.Service, database *sql.DB, opts Options) Service {
	opts = opts.withDefaults()
	return Service{
		client:   client,
		records:  recordStore,
		mirror:   artifactMirror,
		sessions: newSessionStore(database, opts.SessionTTL),
		opts:     opts,
	}
}

// Result is what one account's scrape produced, already reconciled
// against the store.
type Result struct {
	Batch   []records.BatchOutcome
	Permits []records.PermitOutcome
	// rows dropped for lacking a usable natural key
	Skipped int
}

// ensureSession returns a live token for the account, reusing a cached
// or persisted one when it still passes the liveness probe and logging
// in from scratch otherwise.
func (s Service) ensureSession(ctx context.Context, account Account) (string, error) {
	ctx, span := tracer.Start(ctx, "ensureSession")
	defer span.End()
	span.SetAttributes(attribute.String("account", account.Name))

	token, err := s.sessions.Get(ctx, account.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if token != "" && s.client.CheckSession(ctx, token) {
		return token, nil
	}
	if token != "" {
		err := s.sessions.Drop(ctx, account.Name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	token, err = s.client.Login(ctx, account.Username, account.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	err = s.sessions.Put(ctx, account.Name, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return token, nil
}

// fetchRetry runs fetch up to RetryAttempts times. An expired session
// triggers a re-login before the next attempt instead of burning a
// retry on a token that cannot recover.
func fetchRetry[T any](ctx context.Context, s Service, account Account, token *string, fetch func(token string) ([]T, error)) ([]T, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.RetryDelay):
			}
		}

		items, err := fetch(*token)
		if err == nil {
			return items, nil
		}
		lastErr = err

		if errors.Is(err, evisa.ErrAuthExpired) {
			dropErr := s.sessions.Drop(ctx, account.Name)
			if dropErr != nil {
				return nil, dropErr
			}
			fresh, loginErr := s.ensureSession(ctx, account)
			if loginErr != nil {
				return nil, loginErr
			}
			*token = fresh
		}
	}
	return nil, lastErr
}

// ScrapeAccount runs the whole pipeline for one account.
func (s Service) ScrapeAccount(ctx context.Context, account Account) (Result, error) {
	ctx, span := tracer.Start(ctx, "ScrapeAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account", account.Name))

	token, err := s.ensureSession(ctx, account)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	var result Result

	batchItems, err := fetchRetry(ctx, s, account, &token, func(token string) ([]evisa.RawBatchItem, error) {
		return s.client.FetchAllBatch(ctx, token)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	var batchRecords []evisa.BatchRecord
	for _, item := range batchItems {
		record, err := evisa.TransformBatchItem(item, account.Name)
		if err != nil {
			result.Skipped++
			slog.WarnContext(ctx, "skipping malformed batch row", "account", account.Name, "err", err)
			continue
		}

		if s.opts.FetchBirthDates {
			birthDate, err := s.client.FetchBirthDate(ctx, token, s.client.DetailLink(item))
			if err != nil {
				slog.WarnContext(ctx, "birth date lookup failed", "register_number", record.RegisterNumber, "err", err)
			} else {
				record.BirthDate = birthDate
			}
		}

		if link := s.client.PrintLink(item); link != "" {
			url, err := s.mirror.Mirror(ctx, record.RegisterNumber, func(ctx context.Context) ([]byte, error) {
				return s.client.DownloadArtifact(ctx, token, link)
			})
			if err != nil {
				slog.WarnContext(ctx, "artifact mirror failed", "register_number", record.RegisterNumber, "err", err)
			} else {
				record.ArtifactLink = url
			}
		}

		batchRecords = append(batchRecords, record)
	}

	result.Batch, err = s.records.UpsertBatch(ctx, batchRecords)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	permitItems, err := fetchRetry(ctx, s, account, &token, func(token string) ([]evisa.RawStayPermitItem, error) {
		return s.client.FetchAllStayPermits(ctx, token)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	var permitRecords []evisa.PermitRecord
	for _, item := range permitItems {
		record, err := evisa.TransformStayPermitItem(item, account.Name)
		if err != nil {
			result.Skipped++
			slog.WarnContext(ctx, "skipping malformed stay permit row", "account", account.Name, "err", err)
			continue
		}

		if link := s.client.PermitPrintLink(item); link != "" {
			url, err := s.mirror.Mirror(ctx, record.RegisterNumber, func(ctx context.Context) ([]byte, error) {
				return s.client.DownloadArtifact(ctx, token, link)
			})
			if err != nil {
				slog.WarnContext(ctx, "artifact mirror failed", "register_number", record.RegisterNumber, "err", err)
			} else {
				record.ArtifactLink = url
			}
		}

		permitRecords = append(permitRecords, record)
	}

	result.Permits, err = s.records.UpsertPermits(ctx, permitRecords)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	return result, nil
}
