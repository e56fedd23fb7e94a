package replicate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/lib/sheets"
	"github.com/reddmonchick/VisaScraper/lib/telemetry"
	"github.com/reddmonchick/VisaScraper/services/records"

	"github.com/stretchr/testify/require"
)

// fakeSink keeps whole spreadsheets in memory, addressed as
// spreadsheetId -> worksheet -> rows.
type fakeSink struct {
	data    map[string]map[string][][]string
	created int
	appends int
	// fail this many appends before succeeding
	failAppends int
}

func newFakeSink() *fakeSink {
	return &fakeSink{data: map[string]map[string][][]string{}}
}

func (f *fakeSink) sheet(spreadsheetId, worksheet string) [][]string {
	if f.data[spreadsheetId] == nil {
		return nil
	}
	return f.data[spreadsheetId][worksheet]
}

func (f *fakeSink) ReadAll(ctx context.Context, spreadsheetId, worksheet string) ([][]string, error) {
	return f.sheet(spreadsheetId, worksheet), nil
}

func (f *fakeSink) Clear(ctx context.Context, spreadsheetId, worksheet string) error {
	if f.data[spreadsheetId] != nil {
		f.data[spreadsheetId][worksheet] = nil
	}
	return nil
}

func (f *fakeSink) AppendRows(ctx context.Context, spreadsheetId, worksheet string, rows [][]string) error {
	if f.failAppends > 0 {
		f.failAppends--
		return fmt.Errorf("append rejected")
	}
	f.appends++
	if f.data[spreadsheetId] == nil {
		f.data[spreadsheetId] = map[string][][]string{}
	}
	f.data[spreadsheetId][worksheet] = append(f.data[spreadsheetId][worksheet], rows...)
	return nil
}

func (f *fakeSink) UpdateCell(ctx context.Context, spreadsheetId, worksheet, cell, value string) error {
	var row, col int
	_, err := fmt.Sscanf(cell, "D%d", &row)
	if err != nil {
		return err
	}
	col = 3
	f.data[spreadsheetId][worksheet][row-1][col] = value
	return nil
}

func (f *fakeSink) TotalCells(ctx context.Context, spreadsheetId string) (int64, error) {
	var total int64
	for _, rows := range f.data[spreadsheetId] {
		for _, row := range rows {
			total += int64(len(row))
		}
	}
	return total, nil
}

func (f *fakeSink) CreateSpreadsheet(ctx context.Context, title string, worksheets []sheets.WorksheetSpec) (string, error) {
	f.created++
	id := fmt.Sprintf("spreadsheet-%d", f.created)
	f.data[id] = map[string][][]string{}
	for _, ws := range worksheets {
		f.data[id][ws.Title] = [][]string{ws.Header}
	}
	return id, nil
}

func (f *fakeSink) activeRows(opts Options) []string {
	var active []string
	for _, row := range f.sheet(opts.IndexSpreadsheetId, opts.IndexWorksheet) {
		if len(row) > indexColActive && row[indexColActive] == "TRUE" {
			active = append(active, row[indexColId])
		}
	}
	return active
}

func testOptions() Options {
	return Options{
		IndexSpreadsheetId: "index",
		IndexWorksheet:     "Archive",
		ChunkDelay:         time.Millisecond,
		RetryBaseDelay:     time.Millisecond,
	}
}

func batchOutcome(register, account, paymentDate, status string) records.BatchOutcome {
	return records.BatchOutcome{
		Outcome: records.OutcomeInserted,
		Record: evisa.BatchRecord{
			RegisterNumber: register,
			Account:        account,
			PaymentDate:    paymentDate,
			Status:         status,
		},
	}
}

func TestReplicateBootstrapsAndSupersedes(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/replicate")
	defer cleanup()

	sink := newFakeSink()
	service := NewService(sink, testOptions())
	ctx := context.Background()

	err := service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Pending"),
	}, nil)
	require.NoError(t, err)

	// bootstrap created the first spreadsheet and marked it active
	require.Equal(t, 1, sink.created)
	require.Equal(t, []string{"spreadsheet-1"}, sink.activeRows(testOptions()))

	rows := sink.sheet("spreadsheet-1", WorksheetBatch)
	require.Len(t, rows, 2)
	require.Equal(t, batchHeader, rows[0])
	require.Equal(t, "REG-1", rows[1][1])

	// another tier's write keeps acc1's rows
	err = service.Replicate(ctx, []string{"acc2"}, []records.BatchOutcome{
		batchOutcome("REG-2", "acc2", "2024-07-01", "Approved"),
	}, nil)
	require.NoError(t, err)

	rows = sink.sheet("spreadsheet-1", WorksheetBatch)
	require.Len(t, rows, 3)
	// newest payment date first
	require.Equal(t, "REG-2", rows[1][1])
	require.Equal(t, "REG-1", rows[2][1])

	// re-running acc1 replaces its row instead of duplicating it
	err = service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Approved"),
	}, nil)
	require.NoError(t, err)

	rows = sink.sheet("spreadsheet-1", WorksheetBatch)
	require.Len(t, rows, 3)
	require.Equal(t, "Approved", rows[2][7])
}

func TestReplicateSortsUnparsableDatesLast(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/replicate")
	defer cleanup()

	sink := newFakeSink()
	service := NewService(sink, testOptions())

	err := service.Replicate(context.Background(), []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-NODATE", "acc1", "-", "Pending"),
		batchOutcome("REG-OLD", "acc1", "2023-01-15", "Approved"),
		batchOutcome("REG-NEW", "acc1", "2024-05-20", "Pending"),
	}, nil)
	require.NoError(t, err)

	rows := sink.sheet("spreadsheet-1", WorksheetBatch)
	require.Equal(t, "REG-NEW", rows[1][1])
	require.Equal(t, "REG-OLD", rows[2][1])
	require.Equal(t, "REG-NODATE", rows[3][1])
}

func TestRotationOnCapacity(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/replicate")
	defer cleanup()

	sink := newFakeSink()
	opts := testOptions()
	// anything beyond bare headers exceeds the ceiling
	opts.CapacityLimit = 40
	service := NewService(sink, opts)
	ctx := context.Background()

	err := service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Pending"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sink.created)

	// the first spreadsheet now holds data, so the next run rotates
	err = service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-2", "acc1", "2024-07-01", "Pending"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, sink.created)

	// exactly one active spreadsheet, the new one
	require.Equal(t, []string{"spreadsheet-2"}, sink.activeRows(opts))

	rows := sink.sheet("spreadsheet-2", WorksheetBatch)
	require.Len(t, rows, 2)
	require.Equal(t, "REG-2", rows[1][1])
}

func TestReplicateChunksLargeWrites(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/replicate")
	defer cleanup()

	sink := newFakeSink()
	opts := testOptions()
	opts.ChunkSize = 10
	service := NewService(sink, opts)

	var outcomes []records.BatchOutcome
	for i := 0; i < 25; i++ {
		outcomes = append(outcomes, batchOutcome(fmt.Sprintf("REG-%d", i), "acc1", "2024-06-01", "Pending"))
	}

	before := sink.appends
	err := service.Replicate(context.Background(), []string{"acc1"}, outcomes, nil)
	require.NoError(t, err)

	rows := sink.sheet("spreadsheet-1", WorksheetBatch)
	require.Len(t, rows, 26)
	// 3 chunks + header for the batch worksheet alone
	require.GreaterOrEqual(t, sink.appends-before, 4)
}

func TestReplicateRetriesThenFails(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/replicate")
	defer cleanup()

	sink := newFakeSink()
	service := NewService(sink, testOptions())
	ctx := context.Background()

	// bootstrap a healthy sink first
	err := service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Pending"),
	}, nil)
	require.NoError(t, err)

	// two rejected appends still succeed within the retry budget
	sink.failAppends = 2
	err = service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Approved"),
	}, nil)
	require.NoError(t, err)

	// a dead sink exhausts the budget
	sink.failAppends = 100
	err = service.Replicate(ctx, []string{"acc1"}, []records.BatchOutcome{
		batchOutcome("REG-1", "acc1", "2024-06-01", "Approved"),
	}, nil)
	require.ErrorIs(t, err, ErrSinkWrite)
}
