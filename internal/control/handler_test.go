package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct{}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return nil }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu        sync.Mutex
	published map[string][][]byte
	notify    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		published: make(map[string][][]byte),
		notify:    make(chan struct{}, 16),
	}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	body, _ := payload.([]byte)
	f.published[topic] = append(f.published[topic], append([]byte(nil), body...))
	f.mu.Unlock()
	f.notify <- struct{}{}
	return &fakeToken{}
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Connect() mqtt.Token    { return &fakeToken{} }
func (f *fakeClient) Disconnect(uint)        {}
func (f *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (f *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (f *fakeClient) Unsubscribe(...string) mqtt.Token       { return &fakeToken{} }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)   {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "yaic/control/test" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func lastResponse(t *testing.T, client *fakeClient) Response {
	t.Helper()

	select {
	case <-client.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for control response")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	bodies := client.published["yaic/control/test/response"]
	if len(bodies) == 0 {
		t.Fatal("no response published")
	}

	var resp Response
	if err := json.Unmarshal(bodies[len(bodies)-1], &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return resp
}

func startHandler(t *testing.T, client *fakeClient, callbacks Callbacks) *Handler {
	t.Helper()

	h := NewHandler("yaic/control/test", 1, client, callbacks)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return h
}

func TestGetStatus(t *testing.T) {
	client := newFakeClient()
	h := startHandler(t, client, Callbacks{
		OnGetStatus: func() map[string]any {
			return map[string]any{"sources": 2.0}
		},
	})

	h.messageHandler(client, &fakeMessage{payload: []byte(`{"command":"get_status"}`)})

	resp := lastResponse(t, client)
	if resp.CommandAck != "get_status" || resp.Status != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Data["sources"] != 2.0 {
		t.Errorf("status data missing: %+v", resp.Data)
	}
}

func TestPauseAndResume(t *testing.T) {
	var paused bool
	client := newFakeClient()
	h := startHandler(t, client, Callbacks{
		OnPause:  func() error { paused = true; return nil },
		OnResume: func() error { paused = false; return nil },
	})

	h.messageHandler(client, &fakeMessage{payload: []byte(`{"command":"pause"}`)})
	if resp := lastResponse(t, client); resp.Status != "ok" {
		t.Errorf("pause response: %+v", resp)
	}
	if !paused {
		t.Error("pause callback not invoked")
	}

	h.messageHandler(client, &fakeMessage{payload: []byte(`{"command":"resume"}`)})
	if resp := lastResponse(t, client); resp.Status != "ok" {
		t.Errorf("resume response: %+v", resp)
	}
	if paused {
		t.Error("resume callback not invoked")
	}
}

func TestUnknownCommand(t *testing.T) {
	client := newFakeClient()
	h := startHandler(t, client, Callbacks{})

	h.messageHandler(client, &fakeMessage{payload: []byte(`{"command":"reboot"}`)})

	resp := lastResponse(t, client)
	if resp.Status != "error" || resp.Error == "" {
		t.Errorf("expected error response, got %+v", resp)
	}
}

func TestMalformedCommandIgnored(t *testing.T) {
	client := newFakeClient()
	h := startHandler(t, client, Callbacks{})

	h.messageHandler(client, &fakeMessage{payload: []byte(`not json`)})
	h.messageHandler(client, &fakeMessage{payload: []byte(`{}`)})

	select {
	case <-client.notify:
		t.Error("malformed command must not produce a response")
	case <-time.After(100 * time.Millisecond):
	}
}
