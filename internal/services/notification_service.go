package services

import (
	"context"
	"sync"

	"spinsettle/internal/models"
	"spinsettle/internal/util"

	"github.com/sirupsen/logrus"
)

// Notifier accepts admin events without blocking the caller.
type Notifier interface {
	Notify(event models.AdminEvent) bool
}

// Sink delivers one event to one admin channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.AdminEvent) error
}

// Dispatcher fans admin events out to its sinks from a bounded queue.
// Delivery is best effort: a full queue drops the event and a sink that
// keeps failing is given up on after the retry policy runs out.
type Dispatcher struct {
	sinks  []Sink
	queue  chan models.AdminEvent
	policy util.RetryPolicy

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(policy util.RetryPolicy, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan models.AdminEvent, queueSize),
		policy: policy,
	}
}

func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) Notify(event models.AdminEvent) bool {
	select {
	case d.queue <- event:
		return true
	default:
		log.WithFields(logrus.Fields{"kind": event.Kind, "intent": event.IntentId}).Warn("Notification queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}

	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-d.queue:
					d.dispatch(ctx, ev)
				}
			}
		}()
	}
}

// Stop halts the workers and waits for in-flight deliveries to give up.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev models.AdminEvent) {
	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, s := range sinks {
		err := d.policy.Do(ctx, nil, func(ctx context.Context) error {
			return s.Deliver(ctx, ev)
		})
		if err != nil {
			log.WithFields(logrus.Fields{
				"sink":   s.Name(),
				"kind":   ev.Kind,
				"intent": ev.IntentId,
			}).Error("Admin notification dropped: ", err)
		}
	}
}

// LogSink writes events to the application log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev models.AdminEvent) error {
	log.WithFields(logrus.Fields{
		"kind":    ev.Kind,
		"user":    ev.UserId,
		"intent":  ev.IntentId,
		"package": ev.PackageId,
		"amount":  ev.Amount,
		"unit":    ev.Unit,
	}).Info("Admin event: ", ev.Detail)
	return nil
}
