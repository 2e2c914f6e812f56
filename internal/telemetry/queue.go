package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/metrics"
	"agents/sentinel-sensor/internal/storage"
)

// Queue is the durable FIFO of alerts awaiting delivery. The whole queue is
// rewritten through the store on every change, so the persisted copy is
// always a complete, ordered JSON array.
//
// The monitor loop is the only writer. The mutex exists for the status
// server, which reads Len from its own goroutine.
type Queue struct {
	store   storage.Store
	name    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	events []AlertEvent
	unread bool
}

// OpenQueue loads the persisted queue. A missing blob is an empty queue; an
// unparseable one is copied aside to "<name>.corrupt" and replaced by an
// empty queue on the next write. If the blob exists but cannot be read, the
// queue holds new alerts in memory and does not write until a later read
// succeeds, so the persisted alerts are never overwritten.
func OpenQueue(store storage.Store, name string, m *metrics.Metrics, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.Discard()
	}
	q := &Queue{
		store:   store,
		name:    name,
		logger:  logger.With("component", "queue"),
		metrics: m,
	}

	events, err := q.load()
	if err != nil {
		q.unread = true
		q.logger.Warn("offline queue unreadable, holding new alerts in memory", "error", err)
	} else {
		q.events = events
	}

	if len(q.events) > 0 {
		q.logger.Info("loaded offline queue", "events", len(q.events))
	}
	q.metrics.SetQueueDepth(len(q.events))
	return q
}

func (q *Queue) load() ([]AlertEvent, error) {
	data, err := q.store.Load(q.name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var events []AlertEvent
	if err := json.Unmarshal(data, &events); err != nil {
		q.logger.Error("offline queue corrupt, starting empty", "error", err)
		if err := q.store.Save(q.name+".corrupt", data); err != nil {
			return nil, fmt.Errorf("preserve corrupt queue: %w", err)
		}
		return nil, nil
	}
	return events, nil
}

// Append adds ev at the tail and persists the queue before returning. If the
// write fails the event is still held in memory and the error is returned.
func (q *Queue) Append(ev AlertEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	return q.persistLocked()
}

// Replace swaps the queue contents for events, in the given order, with a
// single write.
func (q *Queue) Replace(events []AlertEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append([]AlertEvent(nil), events...)
	return q.persistLocked()
}

// Events returns a copy of the queued alerts, oldest first.
func (q *Queue) Events() []AlertEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]AlertEvent(nil), q.events...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) persistLocked() error {
	if q.unread {
		persisted, err := q.load()
		if err != nil {
			q.metrics.SetQueueDepth(len(q.events))
			return fmt.Errorf("offline queue still unreadable, %d alerts held in memory: %w", len(q.events), err)
		}
		// persisted alerts are older than anything queued since
		q.events = append(persisted, q.events...)
		q.unread = false
		q.logger.Info("offline queue readable again", "recovered", len(persisted))
	}
	q.metrics.SetQueueDepth(len(q.events))

	events := q.events
	if events == nil {
		events = []AlertEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return q.store.Save(q.name, data)
}
