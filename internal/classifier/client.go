// Package classifier talks to an OpenAI-compatible multimodal endpoint
// and returns the model's raw JSON document. It distinguishes "got a
// response" from "could not get a response"; semantic validation of
// the document belongs to the normalizer.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// DefaultModel is used when the configuration does not override it.
const DefaultModel = "qwen-vl-plus"

// Config contains classifier endpoint and retry settings.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Language    string        // ISO 639 code for free-text fields
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client is a retrying classifier client. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a classifier client, applying defaults for zero-valued
// retry settings.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// Classify sends one logical classification request for the image and
// returns the model's raw document.
func (c *Client) Classify(ctx context.Context, image []byte) (map[string]any, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return c.do(ctx, image, c.defaultPrompt())
}

// ClassifyDetailed re-queries with an explicit people-analytics prompt.
// Used at most once per event, when the first response carried a person
// label but no analytics.
func (c *Client) ClassifyDetailed(ctx context.Context, image []byte) (map[string]any, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return c.do(ctx, image, c.detailPrompt())
}

// do runs the bounded retry loop. Transient failures back off
// exponentially with jitter; non-transient failures propagate
// immediately.
func (c *Client) do(ctx context.Context, image []byte, prompt string) (map[string]any, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		raw, err := c.attempt(ctx, image, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		slog.Warn("classifier request failed, retrying",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("classifier retries exhausted after %d attempts: %w",
		c.cfg.MaxAttempts, lastErr)
}

// backoff computes the delay before the next attempt: exponential from
// the base, capped, with up to 50% added jitter.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BackoffBase << (attempt - 1)
	if delay > c.cfg.BackoffMax || delay <= 0 {
		delay = c.cfg.BackoffMax
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/2+1))
}

// attempt performs a single request with its own timeout. A 400 while
// response_format was set is retried once without it inside the same
// attempt, since some OpenAI-compatible gateways reject the field.
func (c *Client) attempt(ctx context.Context, image []byte, prompt string) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, status, err := c.post(attemptCtx, image, prompt, true)
	if err == nil && status == http.StatusBadRequest {
		slog.Info("classifier rejected response_format, retrying without it")
		body, status, err = c.post(attemptCtx, image, prompt, false)
	}
	if err != nil {
		return nil, &RequestError{Transient: true, Err: err}
	}

	if status != http.StatusOK {
		return nil, &RequestError{
			Status:    status,
			Transient: status == http.StatusTooManyRequests || status >= 500,
			Err:       fmt.Errorf("classifier returned status %d", status),
		}
	}

	raw, err := extractDocument(body)
	if err != nil {
		return nil, &RequestError{Status: status, Transient: false, Err: err}
	}
	return raw, nil
}

// post sends one HTTP request and returns the response body and status.
func (c *Client) post(ctx context.Context, image []byte, prompt string, structured bool) ([]byte, int, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL(image)}},
				{Type: "text", Text: prompt},
			},
		}},
	}
	if structured {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	c.logRequest(structured)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	c.logResponse(resp.StatusCode, body)

	return body, resp.StatusCode, nil
}

func (c *Client) logRequest(structured bool) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("classifier request",
		"endpoint", c.cfg.Endpoint,
		"model", c.cfg.Model,
		"api_key", maskKey(c.cfg.APIKey),
		"structured", structured,
	)
}

func (c *Client) logResponse(status int, body []byte) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	const limit = 2000
	text := string(body)
	if len(text) > limit {
		text = text[:limit] + "...[truncated]"
	}
	slog.Debug("classifier response", "status", status, "body", text)
}

func (c *Client) defaultPrompt() string {
	return "Return a JSON object with fields: label, confidence, and person analytics " +
		"(count, description, details[age_group, gender, appearance, role], " +
		"age_summary, gender_summary, role_summary). Return ONLY JSON, no markdown, " +
		"no code fences, no extra text. " +
		"Language: " + c.cfg.Language + "."
}

func (c *Client) detailPrompt() string {
	return "Return a JSON object with label, confidence, and person analytics fields " +
		"including count, description, details (age_group, gender, appearance, role), " +
		"age_summary, gender_summary, role_summary. Use ISO 639 language " +
		"'" + c.cfg.Language + "' for free-text fields."
}

// dataURL wraps the image in a data URL, sniffing PNG vs JPEG from the
// magic bytes (JPEG assumed otherwise).
func dataURL(image []byte) string {
	mime := "image/jpeg"
	if bytes.HasPrefix(image, []byte("\x89PNG\r\n\x1a\n")) {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// maskKey hides the middle of an API key for debug logs.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
