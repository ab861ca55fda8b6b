package storage

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ScheduleEvent is the queue message emitted for every committed
// scheduling decision. Downstream ERP consumers read these to keep
// procurement and shipping in step with the board.
type ScheduleEvent struct {
	Site      string `json:"site"`
	OrderID   string `json:"orderId"`
	OrderType string `json:"orderType"`
	Date      string `json:"scheduledDate,omitempty"`
	Resource  string `json:"scheduledResourceId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher fans schedule events out to the azure queue from a fixed pool
// of workers. Publish never blocks the caller beyond a short handoff
// window; events that cannot be handed off or enqueued are logged and
// dropped, the table row remains the source of truth.
type Publisher struct {
	queue          queueClient
	jobs           chan ScheduleEvent
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	wg             sync.WaitGroup
	logger         *log.Logger
}

// NewPublisher starts the worker pool. Pool sizing and timeouts come from
// EVENT_WORKERS, EVENT_BUFFER, EVENT_TIMEOUT and EVENT_HANDOFF_TIMEOUT.
func NewPublisher(queue queueClient, logger *log.Logger) *Publisher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	p := &Publisher{
		queue:          queue,
		jobs:           make(chan ScheduleEvent, envInt("EVENT_BUFFER", 4096)),
		enqueueTimeout: envDur("EVENT_TIMEOUT", 60*time.Second),
		handoffTimeout: envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		logger:         logger,
	}
	workers := envInt("EVENT_WORKERS", 16)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		workers, cap(p.jobs), p.enqueueTimeout, p.handoffTimeout)
	return p
}

// Publish hands the event to the pool. It reports whether the event was
// accepted; a full pool past the handoff window drops the event.
func (p *Publisher) Publish(ev ScheduleEvent) bool {
	select {
	case p.jobs <- ev:
		return true
	default:
	}
	if p.handoffTimeout <= 0 {
		p.logger.Warnf("event dropped, pool full, order: %s, site: %s", ev.OrderID, ev.Site)
		return false
	}
	timer := time.NewTimer(p.handoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		p.logger.Warnf("event dropped, pool full, order: %s, site: %s", ev.OrderID, ev.Site)
		return false
	}
}

// Close stops the workers after draining accepted events.
func (p *Publisher) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.Errorf("event marshal failed, err: %v, order: %s", err, ev.OrderID)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.enqueueTimeout)
		_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
		cancel()
		if err != nil {
			p.logger.Errorf("event enqueue failed, err: %v, order: %s, site: %s, worker: %d", err, ev.OrderID, ev.Site, id)
		}
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
