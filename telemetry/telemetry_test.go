package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func collectBatches(t *testing.T) (*httptest.Server, chan []Event) {
	t.Helper()
	batches := make(chan []Event, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode telemetry payload: %v", err)
		}
		batches <- payload.Events
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv, batches
}

func waitForBatch(t *testing.T, batches chan []Event) []Event {
	t.Helper()
	select {
	case batch := <-batches:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no telemetry batch arrived")
		return nil
	}
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	srv, batches := collectBatches(t)
	c := New(
		WithEndpoint(srv.URL),
		WithFlushSize(2),
		WithFlushInterval(time.Hour),
	)
	defer func() { _ = c.Close() }()

	c.Record(Event{Status: "signed-in", TokenType: "session"})
	c.Record(Event{Status: "signed-out", Reason: "session-token-and-uat-missing"})

	batch := waitForBatch(t, batches)
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	for i, event := range batch {
		if event.ID == "" {
			t.Errorf("event %d has no generated id", i)
		}
		if event.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
	}
	if batch[0].Status != "signed-in" || batch[1].Reason != "session-token-and-uat-missing" {
		t.Errorf("batch = %+v", batch)
	}
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	srv, batches := collectBatches(t)
	c := New(
		WithEndpoint(srv.URL),
		WithFlushSize(100),
		WithFlushInterval(20*time.Millisecond),
	)
	defer func() { _ = c.Close() }()

	c.Record(Event{Status: "handshake", Reason: "dev-browser-missing"})

	batch := waitForBatch(t, batches)
	if len(batch) != 1 || batch[0].Status != "handshake" {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestCollectorFlushesOnClose(t *testing.T) {
	srv, batches := collectBatches(t)
	c := New(
		WithEndpoint(srv.URL),
		WithFlushSize(100),
		WithFlushInterval(time.Hour),
	)

	c.Record(Event{Status: "signed-in"})
	c.Record(Event{Status: "signed-in"})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	batch := waitForBatch(t, batches)
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	// No server behind the endpoint: flushes fail silently and recording
	// keeps dropping into the buffer without ever blocking the caller.
	c := New(
		WithEndpoint("http://127.0.0.1:0"),
		WithFlushSize(10),
		WithFlushInterval(time.Hour),
	)
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBufferSize*2; i++ {
			c.Record(Event{Status: "signed-out"})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}

func TestEventPresetFieldsAreKept(t *testing.T) {
	srv, batches := collectBatches(t)
	c := New(WithEndpoint(srv.URL), WithFlushSize(1), WithFlushInterval(time.Hour))
	defer func() { _ = c.Close() }()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c.Record(Event{ID: "evt_1", Timestamp: at, Status: "signed-in"})

	batch := waitForBatch(t, batches)
	if batch[0].ID != "evt_1" {
		t.Errorf("ID = %q, want the preset one", batch[0].ID)
	}
	if !batch[0].Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", batch[0].Timestamp, at)
	}
}
