package alert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/metrics"
)

// DefaultQueueSize bounds the dispatcher queue when no size is given.
const DefaultQueueSize = 256

// Dispatcher fans attack notifications out to the configured sinks.
//
// Publish never blocks: notifications land in a bounded queue drained by
// a single delivery goroutine, and when the queue is full the oldest
// entry is evicted so the freshest alert always gets through. The
// Dispatcher satisfies the engine's NotificationPublisher interface.
type Dispatcher struct {
	sinks []Sink
	queue chan detect.AttackNotification
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool

	enqueued  uint64
	delivered uint64
	dropped   uint64

	metrics *metrics.Metrics
}

// DispatchStats is a point-in-time snapshot of dispatcher activity.
type DispatchStats struct {
	Enqueued  uint64   `json:"enqueued"`
	Delivered uint64   `json:"delivered"`
	Dropped   uint64   `json:"dropped"`
	QueueLen  int      `json:"queueLen"`
	Sinks     []string `json:"sinks"`
}

// NewDispatcher creates a dispatcher over the given sinks. A queueSize
// of zero or less falls back to DefaultQueueSize.
func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan detect.AttackNotification, queueSize),
		done:    make(chan struct{}),
		metrics: metrics.GetMetrics(),
	}
}

// Start brings up every sink and launches the delivery loop. A sink that
// fails to start is logged and dropped from the fan-out; Start returns an
// error only when sinks were configured and none of them came up.
func (d *Dispatcher) Start(ctx context.Context) error {
	var active []Sink
	for _, s := range d.sinks {
		if err := s.Start(ctx); err != nil {
			log.Printf("[WARN] sink %s failed to start: %v", s.Name(), err)
			d.metrics.RecordSinkError(s.Name(), "start")
			continue
		}
		log.Printf("[STARTUP] notification sink %s ready", s.Name())
		active = append(active, s)
	}
	if len(d.sinks) > 0 && len(active) == 0 {
		return fmt.Errorf("no notification sink started (%d configured)", len(d.sinks))
	}
	d.sinks = active

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.deliverLoop()
	return nil
}

// Publish enqueues a notification for delivery. When the queue is full
// the oldest pending notification is evicted to make room.
func (d *Dispatcher) Publish(n detect.AttackNotification) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		atomic.AddUint64(&d.dropped, 1)
		return
	}

	atomic.AddUint64(&d.enqueued, 1)
	select {
	case d.queue <- n:
	default:
		select {
		case <-d.queue:
			if dropped := atomic.AddUint64(&d.dropped, 1); dropped%100 == 1 {
				log.Printf("[WARN] notification queue full, %d dropped so far", dropped)
			}
		default:
		}
		select {
		case d.queue <- n:
		default:
			atomic.AddUint64(&d.dropped, 1)
		}
	}
	d.metrics.SetQueueDepth("dispatch", float64(len(d.queue)))
}

func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n detect.AttackNotification) {
	for _, s := range d.sinks {
		if err := s.Enqueue(n); err != nil {
			log.Printf("[WARN] sink %s rejected notification %s: %v", s.Name(), n.ID, err)
			d.metrics.RecordSinkError(s.Name(), "enqueue")
			continue
		}
		d.metrics.RecordSinkDelivery(s.Name())
	}
	atomic.AddUint64(&d.delivered, 1)
	d.metrics.SetQueueDepth("dispatch", float64(len(d.queue)))
}

// Stats reports dispatcher counters and the active sink names.
func (d *Dispatcher) Stats() DispatchStats {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return DispatchStats{
		Enqueued:  atomic.LoadUint64(&d.enqueued),
		Delivered: atomic.LoadUint64(&d.delivered),
		Dropped:   atomic.LoadUint64(&d.dropped),
		QueueLen:  len(d.queue),
		Sinks:     names,
	}
}

// Close stops the delivery loop, flushes the queue, and closes every
// sink. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()

	var firstErr error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			log.Printf("[WARN] sink %s close: %v", s.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
