package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pastukhov/yaic/internal/config"
	"github.com/pastukhov/yaic/internal/emitter"
	"github.com/pastukhov/yaic/internal/types"
)

type pubCall struct {
	kind     string
	sourceID string
	status   string
	result   types.ClassificationResult
}

type fakePub struct {
	mu    sync.Mutex
	calls []pubCall
}

func (f *fakePub) record(c pubCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakePub) FanOut(sourceID, device string, result types.ClassificationResult, image []byte, imageChanged bool) {
	f.record(pubCall{kind: "fanout", sourceID: sourceID, result: result})
}

func (f *fakePub) PublishOperation(sourceID, status string) error {
	f.record(pubCall{kind: "operation", sourceID: sourceID, status: status})
	return nil
}

func (f *fakePub) PublishStatus(sourceID, status string) error {
	f.record(pubCall{kind: "status", sourceID: sourceID, status: status})
	return nil
}

func (f *fakePub) PublishDiscovery(swVersion, sourceID string) {
	f.record(pubCall{kind: "discovery", sourceID: sourceID})
}

func (f *fakePub) snapshot() []pubCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pubCall(nil), f.calls...)
}

func (f *fakePub) waitCalls(t *testing.T, n int) []pubCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := f.snapshot()
		if len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d publisher calls, got %d", n, len(f.snapshot()))
	return nil
}

type fakeClassifier struct {
	raw map[string]any
	err error
}

func (f *fakeClassifier) Classify(context.Context, []byte) (map[string]any, error) {
	return f.raw, f.err
}

func (f *fakeClassifier) ClassifyDetailed(context.Context, []byte) (map[string]any, error) {
	return f.raw, f.err
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testService(t *testing.T, cls *fakeClassifier) (*Yaic, *fakePub) {
	t.Helper()

	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() { prometheus.DefaultRegisterer = orig })

	cfg := &config.Config{
		InstanceID: "test",
		Language:   "en",
	}
	cfg.MQTT.Broker = "localhost:1883"
	cfg.Classifier.Endpoint = "http://localhost/v1/chat/completions"
	cfg.Classifier.APIKey = "key"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config invalid: %v", err)
	}

	pub := &fakePub{}
	return newService(cfg, "test", pub, cls), pub
}

func TestProcessEventPublishesResult(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{raw: map[string]any{"label": "cat", "confidence": 0.9}})

	y.processEvent(context.Background(), types.Event{SourceID: "cam-1", Image: []byte("img")}, true)

	calls := pub.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 publisher calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].kind != "operation" || calls[0].status != emitter.OpProcessing {
		t.Errorf("first call must be the processing status, got %+v", calls[0])
	}
	if calls[1].kind != "fanout" || calls[1].result.Label != "cat" {
		t.Errorf("second call must be the fan-out, got %+v", calls[1])
	}

	if got := testutil.ToFloat64(y.metrics.Classifications.WithLabelValues("success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
}

func TestProcessEventFailurePublishesErrorStatus(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{err: errors.New("endpoint down")})

	y.processEvent(context.Background(), types.Event{SourceID: "cam-1", Image: []byte("img")}, true)

	calls := pub.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 publisher calls, got %d: %+v", len(calls), calls)
	}
	if calls[1].kind != "operation" || calls[1].status != emitter.OpError {
		t.Errorf("failure must end with the error status, got %+v", calls[1])
	}
	for _, c := range calls {
		if c.kind == "fanout" {
			t.Error("no result may be published on failure")
		}
	}

	if got := testutil.ToFloat64(y.metrics.Classifications.WithLabelValues("failure")); got != 1 {
		t.Errorf("failure counter = %v, want 1", got)
	}
}

func TestPausedDiscardsEvents(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{raw: map[string]any{"label": "cat"}})

	if err := y.pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	y.processEvent(context.Background(), types.Event{SourceID: "cam-1", Image: []byte("img")}, true)

	if calls := pub.snapshot(); len(calls) != 0 {
		t.Errorf("paused service must publish nothing, got %+v", calls)
	}

	if err := y.resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	y.processEvent(context.Background(), types.Event{SourceID: "cam-1", Image: []byte("img")}, true)
	if calls := pub.snapshot(); len(calls) == 0 {
		t.Error("resumed service must process events again")
	}
}

func TestRegisterSourceOnce(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{})

	y.registerSource("cam-1")
	y.registerSource("cam-1")

	var discovery, online int
	for _, c := range pub.snapshot() {
		switch {
		case c.kind == "discovery" && c.sourceID == "cam-1":
			discovery++
		case c.kind == "status" && c.status == emitter.StatusOnline:
			online++
		}
	}
	if discovery != 1 || online != 1 {
		t.Errorf("registration must happen once: discovery=%d online=%d", discovery, online)
	}
}

func TestHandleInputDispatches(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{raw: map[string]any{"label": "dog", "confidence": 0.8}})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	y.router.Start(ctx)
	t.Cleanup(y.router.Close)

	y.handleInput(nil, &fakeMessage{
		topic:   "yaic/input/cam-1/image",
		payload: []byte{0x89, 0x50, 0x4E, 0x47, 0x01, 0x02},
	})

	// Registration (discovery + online), then the async processing
	// outcome (processing + fan-out).
	calls := pub.waitCalls(t, 4)
	last := calls[len(calls)-1]
	if last.kind != "fanout" || last.result.Label != "dog" {
		t.Errorf("expected fan-out of the classified result, got %+v", last)
	}

	if got := testutil.ToFloat64(y.metrics.EventsTotal); got != 1 {
		t.Errorf("events counter = %v, want 1", got)
	}
}

func TestHandleInputMalformedPayload(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	y.router.Start(ctx)
	t.Cleanup(y.router.Close)

	y.handleInput(nil, &fakeMessage{
		topic:   "yaic/input/cam-1/image",
		payload: []byte(`{"device":"porch"}`),
	})

	if calls := pub.snapshot(); len(calls) != 0 {
		t.Errorf("malformed payload must publish nothing, got %+v", calls)
	}
	if y.router.Known("cam-1") {
		t.Error("malformed payload must not create a session")
	}
	if got := testutil.ToFloat64(y.metrics.EventsDropped); got != 1 {
		t.Errorf("dropped counter = %v, want 1", got)
	}
}

func TestHandleInputUnexpectedTopic(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{})

	y.handleInput(nil, &fakeMessage{topic: "yaic/input/image", payload: []byte("img")})

	if calls := pub.snapshot(); len(calls) != 0 {
		t.Errorf("unmatched topic must publish nothing, got %+v", calls)
	}
}

func TestHandleStatusRepublishesDiscovery(t *testing.T) {
	y, pub := testService(t, &fakeClassifier{})

	y.handleStatus(nil, &fakeMessage{topic: "yaic/status/cam-2", payload: []byte("online")})
	y.handleStatus(nil, &fakeMessage{topic: "yaic/status/cam-2", payload: []byte("online")})

	calls := pub.snapshot()
	if len(calls) != 1 || calls[0].kind != "discovery" {
		t.Fatalf("expected a single discovery republish, got %+v", calls)
	}

	// The per-source operation channel lives below the status level and
	// must not register anything.
	y.handleStatus(nil, &fakeMessage{topic: "yaic/status/cam-3/operation", payload: []byte(`{}`)})
	if len(pub.snapshot()) != 1 {
		t.Error("operation topic must not trigger registration")
	}
}

func TestStatusData(t *testing.T) {
	y, _ := testService(t, &fakeClassifier{})

	data := y.statusData()
	if data["version"] != "test" {
		t.Errorf("version = %v", data["version"])
	}
	if data["paused"] != false {
		t.Errorf("paused = %v", data["paused"])
	}
	if _, ok := data["sources"]; !ok {
		t.Error("sources missing from status data")
	}
}
