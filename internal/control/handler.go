// Package control handles the MQTT control plane: runtime commands
// addressed to one service instance.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command represents a control plane command.
type Command struct {
	Command string `json:"command"`
}

// Response represents a command response.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks contains the service hooks behind each command.
type Callbacks struct {
	OnGetStatus func() map[string]any
	OnPause     func() error
	OnResume    func() error
	OnShutdown  func() error
}

// Handler subscribes to the control topic and executes commands.
type Handler struct {
	topic     string
	qos       byte
	client    mqtt.Client
	commands  chan Command
	callbacks Callbacks
}

// NewHandler creates a control plane handler.
func NewHandler(topic string, qos byte, client mqtt.Client, callbacks Callbacks) *Handler {
	return &Handler{
		topic:     topic,
		qos:       qos,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes and begins processing commands until ctx ends.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.topic, "qos", h.qos)

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes from the control topic.
func (h *Handler) Stop() {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.topic)
		token.Wait()
	}
	slog.Info("control plane handler stopped")
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Warn("invalid control message", "error", err)
		return
	}
	if cmd.Command == "" {
		slog.Warn("control message missing command field")
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control command queue full, dropping", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.execute(cmd)
		}
	}
}

func (h *Handler) execute(cmd Command) {
	slog.Info("executing control command", "command", cmd.Command)

	resp := Response{
		CommandAck: cmd.Command,
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Data = h.callbacks.OnGetStatus()
		}
	case "pause":
		h.ack(&resp, h.callbacks.OnPause)
	case "resume":
		h.ack(&resp, h.callbacks.OnResume)
	case "shutdown":
		h.ack(&resp, h.callbacks.OnShutdown)
	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command %q", cmd.Command)
	}

	h.respond(resp)
}

func (h *Handler) ack(resp *Response, callback func() error) {
	if callback == nil {
		resp.Status = "error"
		resp.Error = "command not supported"
		return
	}
	if err := callback(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
	}
}

func (h *Handler) respond(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to encode control response", "error", err)
		return
	}

	token := h.client.Publish(h.topic+"/response", h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("control response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("control response publish failed", "error", err)
	}
}
