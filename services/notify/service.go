// Package notify turns reconciliation outcomes into chat messages:
// approvals, newly issued stay permits, and upcoming permit expiries.
// Deliveries go through a single serialized queue.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/textutil"
	"github.com/reddmonchick/VisaScraper/lib/timezone"
	"github.com/reddmonchick/VisaScraper/services/records"

	"github.com/google/uuid"
)

// reminders go out this many days before a permit expires
var reminderDays = []int{40, 5}

type Service struct {
	queue   *Queue
	records records.Service
}

func NewService(sender Sender, recordStore records.Service, delay time.Duration) Service {
	return Service{
		queue:   NewQueue(sender, delay),
		records: recordStore,
	}
}

// Start launches the delivery queue.
func (s Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// AnnounceBatchChanges enqueues a message for every application whose
// status just flipped to approved.
func (s Service) AnnounceBatchChanges(ctx context.Context, outcomes []records.BatchOutcome) {
	for _, outcome := range outcomes {
		if outcome.Outcome != records.OutcomeStatusChanged {
			continue
		}
		if !strings.EqualFold(outcome.Record.Status, "Approved") {
			continue
		}

		text := fmt.Sprintf(
			"✅ <b>Visa approved</b>\n%s\nRegister: %s\nBatch: %s",
			outcome.Record.FullName,
			outcome.Record.RegisterNumber,
			outcome.Record.BatchNo,
		)
		if outcome.Record.ArtifactLink != "" {
			text += fmt.Sprintf("\n<a href=%q>Document</a>", outcome.Record.ArtifactLink)
		}
		s.queue.Enqueue(Event{Id: uuid.NewString(), Text: text})
	}
}

// AnnounceNewPermits enqueues a message for every permit that has
// never been announced. The store marker is set before the message is
// queued, so a crash between the two loses the announcement instead of
// ever duplicating it.
func (s Service) AnnounceNewPermits(ctx context.Context, outcomes []records.PermitOutcome) error {
	for _, outcome := range outcomes {
		if outcome.NotifiedAsNew {
			continue
		}

		err := s.records.MarkPermitNotified(ctx, outcome.Record.RegisterNumber)
		if err != nil {
			return err
		}

		text := fmt.Sprintf(
			"🆕 <b>New stay permit</b>\n%s\nRegister: %s\nExpires: %s",
			outcome.Record.FullName,
			outcome.Record.RegisterNumber,
			outcome.Record.ExpiredDate,
		)
		if outcome.Record.ArtifactLink != "" {
			text += fmt.Sprintf("\n<a href=%q>Document</a>", outcome.Record.ArtifactLink)
		}
		s.queue.Enqueue(Event{Id: uuid.NewString(), Text: text})
	}
	return nil
}

// SendExpiryReminders walks every stored permit and enqueues a
// reminder for each one expiring in exactly one of the reminder
// windows. Running it once a day gives each permit one message per
// window.
func (s Service) SendExpiryReminders(ctx context.Context) error {
	permits, err := s.records.ListPermits(ctx)
	if err != nil {
		return err
	}

	now := timezone.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, timezone.Location)

	for _, permit := range permits {
		expiry, ok := textutil.ParseDate(permit.Record.ExpiredDate)
		if !ok {
			if permit.Record.ExpiredDate != "" {
				slog.WarnContext(ctx, "unparsable permit expiry date",
					"register_number", permit.Record.RegisterNumber,
					"expired_date", permit.Record.ExpiredDate)
			}
			continue
		}

		daysLeft := int(expiry.Sub(today).Hours() / 24)
		for _, window := range reminderDays {
			if daysLeft != window {
				continue
			}
			s.queue.Enqueue(Event{
				Id: uuid.NewString(),
				Text: fmt.Sprintf(
					"⏳ <b>Stay permit expires in %d days</b>\n%s\nRegister: %s\nExpires: %s",
					daysLeft,
					permit.Record.FullName,
					permit.Record.RegisterNumber,
					permit.Record.ExpiredDate,
				),
			})
		}
	}
	return nil
}
