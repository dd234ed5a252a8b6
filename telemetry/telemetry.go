// Package telemetry buffers authentication outcome events and ships
// them to the telemetry endpoint in the background.
//
// Recording never blocks the request path: events go into a bounded
// channel and are dropped when it is full. A background task flushes the
// accumulated batch whenever it reaches the size threshold or the timer
// fires, whichever happens first.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded authentication outcome.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	InstanceType string    `json:"instance_type,omitempty"`
}

const (
	defaultBufferSize    = 1000
	defaultFlushSize     = 20
	defaultFlushInterval = 5 * time.Second
	defaultEndpoint      = "https://telemetry.clerk.com/v1/events"
)

// Collector buffers events and flushes them asynchronously.
type Collector struct {
	endpoint      string
	httpClient    *http.Client
	flushSize     int
	flushInterval time.Duration

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Option configures the Collector.
type Option func(*Collector)

// WithEndpoint overrides the telemetry endpoint.
func WithEndpoint(u string) Option {
	return func(c *Collector) { c.endpoint = u }
}

// WithHTTPClient sets a custom HTTP client for flushes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Collector) { c.httpClient = hc }
}

// WithFlushSize sets the batch size that triggers an immediate flush.
func WithFlushSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.flushSize = n
		}
	}
}

// WithFlushInterval sets the timer-driven flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// New creates a collector and starts its background flush task.
func New(opts ...Option) *Collector {
	c := &Collector{
		endpoint:      defaultEndpoint,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		flushSize:     defaultFlushSize,
		flushInterval: defaultFlushInterval,
		queue:         make(chan Event, defaultBufferSize),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	c.wg.Add(1)
	go c.run()
	return c
}

// Record enqueues an event. Never blocks; events are dropped when the
// buffer is full or the collector is shutting down.
func (c *Collector) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.queue <- event:
	default:
	}
}

func (c *Collector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	var batch []Event
	for {
		select {
		case event := <-c.queue:
			batch = append(batch, event)
			if len(batch) >= c.flushSize {
				c.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(batch)
				batch = nil
			}
		case <-c.done:
			// Drain whatever is left, then send the final batch.
			for {
				select {
				case event := <-c.queue:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						c.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush ships one batch. Failures are ignored: telemetry must never
// affect request handling.
func (c *Collector) flush(batch []Event) {
	body, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// Close flushes pending events and stops the background task.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}
