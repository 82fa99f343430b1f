package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketchat/pkg/metrics"
)

var ErrQueueFull = errors.New("notification queue full")

const deliveryTimeout = 10 * time.Second

type job struct {
	userID string
	n      Notification
}

// Dispatcher queues notifications and delivers them from a fixed set of
// workers so callers never wait on the delivery backend.
type Dispatcher struct {
	next    Notifier
	queue   chan job
	workers int
	log     zerolog.Logger
}

func NewDispatcher(next Notifier, workers, queueSize int, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		next:    next,
		queue:   make(chan job, queueSize),
		workers: workers,
		log:     log,
	}
}

// Notify enqueues n and returns immediately.
func (d *Dispatcher) Notify(_ context.Context, userID string, n Notification) error {
	select {
	case d.queue <- job{userID: userID, n: n}:
		return nil
	default:
		metrics.RecordNotification("dropped")
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := d.next.Notify(ctx, j.userID, j.n); err != nil {
		metrics.RecordNotification("failed")
		d.log.Warn().Err(err).Str("user_id", j.userID).Str("room_id", j.n.RoomID).Msg("notification delivery failed")
		return
	}
	metrics.RecordNotification("delivered")
}
