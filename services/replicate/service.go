// Package replicate pushes reconciled records into the shared
// spreadsheet. Each run replaces the rows belonging to the accounts it
// scraped and leaves everyone else's rows alone, and when the active
// spreadsheet runs out of cell capacity a fresh one is rotated in
// through the archive index.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/sheets"
	"github.com/reddmonchick/VisaScraper/lib/timezone"
	"github.com/reddmonchick/VisaScraper/services/records"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/replicate")

// ErrSinkWrite wraps a write that failed even after retries. The
// store stays authoritative, the sink catches up on the next run.
var ErrSinkWrite = errors.New("failed to write to sink")

// Sink is the slice of the spreadsheet client the replicator uses.
type Sink interface {
	ReadAll(ctx context.Context, spreadsheetId, worksheet string) ([][]string, error)
	Clear(ctx context.Context, spreadsheetId, worksheet string) error
	AppendRows(ctx context.Context, spreadsheetId, worksheet string, rows [][]string) error
	UpdateCell(ctx context.Context, spreadsheetId, worksheet, cell, value string) error
	TotalCells(ctx context.Context, spreadsheetId string) (int64, error)
	CreateSpreadsheet(ctx context.Context, title string, worksheets []sheets.WorksheetSpec) (string, error)
}

type Options struct {
	// spreadsheet holding the archive index worksheet
	IndexSpreadsheetId string `json:"index_spreadsheet_id"`
	IndexWorksheet     string `json:"index_worksheet"`
	// rotate once the active spreadsheet crosses this many cells
	CapacityLimit int64  `json:"capacity_limit"`
	TitlePrefix   string `json:"title_prefix"`

	ChunkSize      int
	ChunkDelay     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.IndexWorksheet == "" {
		o.IndexWorksheet = "Archive"
	}
	if o.CapacityLimit == 0 {
		o.CapacityLimit = 9_000_000
	}
	if o.TitlePrefix == "" {
		o.TitlePrefix = "Visa"
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 500
	}
	if o.ChunkDelay == 0 {
		o.ChunkDelay = time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = time.Second * 5
	}
	return o
}

type Service struct {
	sink Sink
	opts Options
}

func NewService(sink Sink, opts Options) Service {
	return Service{sink: sink, opts: opts.withDefaults()}
}

// index worksheet columns
const (
	indexColId      = 0
	indexColTitle   = 1
	indexColCreated = 2
	indexColActive  = 3
)

var indexHeader = []string{"Spreadsheet ID", "Title", "Created At", "Active"}

// ActiveSpreadsheet resolves the single active spreadsheet out of the
// archive index, bootstrapping a first one when the index is empty.
func (s Service) ActiveSpreadsheet(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "ActiveSpreadsheet")
	defer span.End()

	rows, err := s.sink.ReadAll(ctx, s.opts.IndexSpreadsheetId, s.opts.IndexWorksheet)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	for _, row := range rows {
		if len(row) > indexColActive && row[indexColActive] == "TRUE" {
			return row[indexColId], nil
		}
	}

	return s.rotate(ctx, rows)
}

// rotate creates a fresh spreadsheet, registers it as the active one,
// and deactivates every previously active index row so the
// single-active invariant holds.
func (s Service) rotate(ctx context.Context, indexRows [][]string) (string, error) {
	ctx, span := tracer.Start(ctx, "rotate")
	defer span.End()

	now := timezone.Now()
	title := fmt.Sprintf("%s %s", s.opts.TitlePrefix, now.Format("2006-01-02 15:04"))

	id, err := s.sink.CreateSpreadsheet(ctx, title, []sheets.WorksheetSpec{
		{Title: WorksheetBatch, Header: batchHeader},
		{Title: WorksheetManager, Header: managerHeader},
		{Title: WorksheetPermits, Header: permitHeader},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if len(indexRows) == 0 {
		err := s.sink.AppendRows(ctx, s.opts.IndexSpreadsheetId, s.opts.IndexWorksheet, [][]string{indexHeader})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}
	for i, row := range indexRows {
		if len(row) > indexColActive && row[indexColActive] == "TRUE" {
			// rows are 1-based in A1 notation
			cell := fmt.Sprintf("D%d", i+1)
			err := s.sink.UpdateCell(ctx, s.opts.IndexSpreadsheetId, s.opts.IndexWorksheet, cell, "FALSE")
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", err
			}
		}
	}

	err = s.sink.AppendRows(ctx, s.opts.IndexSpreadsheetId, s.opts.IndexWorksheet, [][]string{{
		id, title, strconv.FormatInt(now.Unix(), 10), "TRUE",
	}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("spreadsheet_id", id))
	return id, nil
}

// ensureCapacity returns the spreadsheet subsequent writes should
// target, rotating first when the active one crossed the cell limit.
func (s Service) ensureCapacity(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "ensureCapacity")
	defer span.End()

	id, err := s.ActiveSpreadsheet(ctx)
	if err != nil {
		return "", err
	}

	total, err := s.sink.TotalCells(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if total < s.opts.CapacityLimit {
		return id, nil
	}

	span.SetAttributes(attribute.Int64("total_cells", total))
	rows, err := s.sink.ReadAll(ctx, s.opts.IndexSpreadsheetId, s.opts.IndexWorksheet)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return s.rotate(ctx, rows)
}

// Replicate writes one tier's scrape into the sink. Rows owned by
// accounts outside the tier survive untouched; the tier's own rows are
// replaced wholesale.
func (s Service) Replicate(ctx context.Context, accounts []string, batch []records.BatchOutcome, permits []records.PermitOutcome) error {
	ctx, span := tracer.Start(ctx, "Replicate")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("accounts", accounts))

	spreadsheetId, err := s.ensureCapacity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	batchRows := make([][]string, 0, len(batch))
	managerRows := make([][]string, 0, len(batch))
	for _, outcome := range batch {
		batchRows = append(batchRows, batchRow(outcome))
		managerRows = append(managerRows, managerRow(outcome))
	}
	permitRows := make([][]string, 0, len(permits))
	for _, outcome := range permits {
		permitRows = append(permitRows, permitRow(outcome))
	}

	type worksheet struct {
		name    string
		header  []string
		fresh   [][]string
		dateCol int
	}
	worksheets := []worksheet{
		{WorksheetBatch, batchHeader, batchRows, 5},
		{WorksheetManager, managerHeader, managerRows, 6},
		{WorksheetPermits, permitHeader, permitRows, 6},
	}

	tier := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		tier[account] = true
	}

	for _, ws := range worksheets {
		existing, err := s.sink.ReadAll(ctx, spreadsheetId, ws.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}

		accountCol := len(ws.header) - 1
		rows := append([][]string(nil), ws.fresh...)
		for i, row := range existing {
			if i == 0 {
				// header
				continue
			}
			if len(row) > accountCol && tier[row[accountCol]] {
				continue
			}
			rows = append(rows, row)
		}

		sortByDateDesc(rows, ws.dateCol)

		err = s.writeWorksheet(ctx, spreadsheetId, ws.name, ws.header, rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (s Service) writeWorksheet(ctx context.Context, spreadsheetId, worksheet string, header []string, rows [][]string) error {
	ctx, span := tracer.Start(ctx, "writeWorksheet")
	defer span.End()
	span.SetAttributes(
		attribute.String("worksheet", worksheet),
		attribute.Int("rows", len(rows)),
	)

	err := s.withRetry(ctx, func() error {
		return s.sink.Clear(ctx, spreadsheetId, worksheet)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	err = s.withRetry(ctx, func() error {
		return s.sink.AppendRows(ctx, spreadsheetId, worksheet, [][]string{header})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}

	for start := 0; start < len(rows); start += s.opts.ChunkSize {
		end := min(start+s.opts.ChunkSize, len(rows))

		err := s.withRetry(ctx, func() error {
			return s.sink.AppendRows(ctx, spreadsheetId, worksheet, rows[start:end])
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}

		if end < len(rows) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.ChunkDelay):
			}
		}
	}
	return nil
}

// withRetry runs op up to RetryAttempts times with exponential
// backoff.
func (s Service) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.opts.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
