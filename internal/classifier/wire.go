package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// chatRequest is an OpenAI-compatible chat-completion request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse covers the slice of the completion response we read.
// Content is either a plain string or a list of typed parts depending
// on the gateway, so it stays raw until extraction.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extractDocument digs the model's JSON document out of a completion
// response body: choices[0].message.content, tolerating list-shaped
// content, markdown code fences and prose around the JSON object.
func extractDocument(body []byte) (map[string]any, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	text, err := contentText(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	text = stripFence(text)
	text = sliceObject(text)

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("content is not a JSON object: %w", err)
	}
	return doc, nil
}

func contentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("response content missing")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 {
		return parts[0].Text, nil
	}

	return "", fmt.Errorf("response content has unexpected shape")
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= 2 {
		return trimmed
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

// sliceObject cuts the outermost {...} out of surrounding prose.
func sliceObject(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return trimmed
	}
	return trimmed[start : end+1]
}
