package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/lib/testutil"
	"github.com/reddmonchick/VisaScraper/lib/timezone"
	"github.com/reddmonchick/VisaScraper/services/records"
	recordsdb "github.com/reddmonchick/VisaScraper/services/records/db"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	// rate limit the first N sends
	rateLimit int
}

func (r *recordingSender) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rateLimit > 0 {
		r.rateLimit--
		return RateLimitedError{RetryAfter: time.Millisecond}
	}
	r.messages = append(r.messages, text)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func setupNotify(t *testing.T, sender Sender) (Service, records.Service, func()) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/notify",
		DbSchema: recordsdb.Schema,
	})
	recordStore := records.NewService(setup.DB)
	return NewService(sender, recordStore, time.Millisecond), recordStore, cleanup
}

func TestAnnounceBatchChanges(t *testing.T) {
	sender := &recordingSender{}
	service, _, cleanup := setupNotify(t, sender)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	service.AnnounceBatchChanges(ctx, []records.BatchOutcome{
		{
			Outcome:    records.OutcomeStatusChanged,
			LastStatus: "Pending",
			Record: evisa.BatchRecord{
				RegisterNumber: "REG-1",
				FullName:       "IVAN PETROV",
				Status:         "Approved",
				ArtifactLink:   "https://share.example/doc.pdf",
			},
		},
		// still pending, no message
		{
			Outcome: records.OutcomeStatusChanged,
			Record:  evisa.BatchRecord{RegisterNumber: "REG-2", Status: "Pending"},
		},
		// approved but unchanged, no message
		{
			Outcome: records.OutcomeUnchanged,
			Record:  evisa.BatchRecord{RegisterNumber: "REG-3", Status: "Approved"},
		},
	})

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, time.Second*5, time.Millisecond*10)

	messages := sender.sent()
	require.Contains(t, messages[0], "IVAN PETROV")
	require.Contains(t, messages[0], "REG-1")
	require.Contains(t, messages[0], "https://share.example/doc.pdf")
}

func TestAnnounceNewPermitsAtMostOnce(t *testing.T) {
	sender := &recordingSender{}
	service, recordStore, cleanup := setupNotify(t, sender)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	permit := evisa.PermitRecord{
		RegisterNumber: "PERMIT-1",
		FullName:       "MARIA LOPEZ",
		Status:         "ITAS Issued",
	}
	outcomes, err := recordStore.UpsertPermits(ctx, []evisa.PermitRecord{permit})
	require.NoError(t, err)

	require.NoError(t, service.AnnounceNewPermits(ctx, outcomes))

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, time.Second*5, time.Millisecond*10)

	// the next scrape sees the permit again, already marked
	outcomes, err = recordStore.UpsertPermits(ctx, []evisa.PermitRecord{permit})
	require.NoError(t, err)
	require.True(t, outcomes[0].NotifiedAsNew)
	require.NoError(t, service.AnnounceNewPermits(ctx, outcomes))

	time.Sleep(time.Millisecond * 50)
	require.Len(t, sender.sent(), 1)
}

func TestQueueRetriesRateLimitOnce(t *testing.T) {
	sender := &recordingSender{rateLimit: 1}

	queue := NewQueue(sender, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Id: "ev-1", Text: "hello"})

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, time.Second*5, time.Millisecond*10)
}

func TestSendExpiryReminders(t *testing.T) {
	sender := &recordingSender{}
	service, recordStore, cleanup := setupNotify(t, sender)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	format := func(daysFromNow int) string {
		return timezone.Now().AddDate(0, 0, daysFromNow).Format("2006-01-02")
	}
	_, err := recordStore.UpsertPermits(ctx, []evisa.PermitRecord{
		{RegisterNumber: "P-40", FullName: "FORTY DAYS", ExpiredDate: format(40)},
		{RegisterNumber: "P-5", FullName: "FIVE DAYS", ExpiredDate: format(5)},
		{RegisterNumber: "P-10", FullName: "TEN DAYS", ExpiredDate: format(10)},
		{RegisterNumber: "P-BAD", FullName: "NO DATE", ExpiredDate: "-"},
	})
	require.NoError(t, err)

	require.NoError(t, service.SendExpiryReminders(ctx))

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 2
	}, time.Second*5, time.Millisecond*10)

	all := fmt.Sprint(sender.sent())
	require.Contains(t, all, "FORTY DAYS")
	require.Contains(t, all, "FIVE DAYS")
	require.NotContains(t, all, "TEN DAYS")
}
