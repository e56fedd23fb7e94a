package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("services/notify")

// Event is one outbound message. Id exists so a delivery can be traced
// through the logs.
type Event struct {
	Id   string
	Text string
}

// RateLimitedError is returned by a Sender when the chat service told
// us to back off for a while.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Sender delivers one message to the chat channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Queue serializes deliveries: scrapes for multiple accounts enqueue
// concurrently, a single consumer drains with a fixed pause between
// messages so the chat service's flood limits stay untouched. A rate
// limited delivery is retried once after the told-off interval and
// then dropped.
type Queue struct {
	sender Sender
	delay  time.Duration
	events chan Event
}

func NewQueue(sender Sender, delay time.Duration) *Queue {
	return &Queue{
		sender: sender,
		delay:  delay,
		events: make(chan Event, 256),
	}
}

// Start launches the consumer. It stops when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-q.events:
				q.deliver(ctx, event)

				select {
				case <-ctx.Done():
					return
				case <-time.After(q.delay):
				}
			}
		}
	}()
}

// Enqueue hands a message to the consumer. It blocks only when the
// buffer is full.
func (q *Queue) Enqueue(event Event) {
	q.events <- event
}

func (q *Queue) deliver(ctx context.Context, event Event) {
	ctx, span := tracer.Start(ctx, "deliver")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", event.Id))

	err := q.sender.Send(ctx, event.Text)
	if err == nil {
		return
	}

	var rateLimited RateLimitedError
	if errors.As(err, &rateLimited) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(rateLimited.RetryAfter):
		}
		err = q.sender.Send(ctx, event.Text)
		if err == nil {
			return
		}
	}

	span.RecordError(err)
	slog.WarnContext(ctx, "dropping undeliverable notification", "event_id", event.Id, "err", err)
}
