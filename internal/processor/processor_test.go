package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pastukhov/yaic/internal/types"
)

type fakeClassifier struct {
	classifyRaw map[string]any
	classifyErr error
	detailRaw   map[string]any
	detailErr   error

	classifyCalls int
	detailCalls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, image []byte) (map[string]any, error) {
	f.classifyCalls++
	return f.classifyRaw, f.classifyErr
}

func (f *fakeClassifier) ClassifyDetailed(ctx context.Context, image []byte) (map[string]any, error) {
	f.detailCalls++
	return f.detailRaw, f.detailErr
}

func raw(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestExtractImageRawBytes(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}

	image, device, err := ExtractImage(payload)
	if err != nil {
		t.Fatalf("ExtractImage failed: %v", err)
	}
	if device != "" {
		t.Errorf("device: got %q, want empty", device)
	}
	if len(image) != len(payload) {
		t.Errorf("image bytes altered")
	}
}

func TestExtractImageJSONEnvelope(t *testing.T) {
	img := []byte{0x89, 0x50, 0x4e, 0x47}
	payload, _ := json.Marshal(map[string]string{
		"image_b64": base64.StdEncoding.EncodeToString(img),
		"device":    "cam-1",
	})

	image, device, err := ExtractImage(payload)
	if err != nil {
		t.Fatalf("ExtractImage failed: %v", err)
	}
	if device != "cam-1" {
		t.Errorf("device: got %q", device)
	}
	if string(image) != string(img) {
		t.Errorf("decoded image mismatch")
	}
}

func TestExtractImageErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"json array", []byte(`[1,2,3]`)},
		{"missing image_b64", []byte(`{"device":"cam-1"}`)},
		{"invalid base64", []byte(`{"image_b64":"!!not-base64!!"}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ExtractImage(tc.payload); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProcessNonPersonNoFollowUp(t *testing.T) {
	fake := &fakeClassifier{
		classifyRaw: raw(t, `{"label":"dog","confidence":0.8}`),
	}
	p := New(fake)

	result, err := p.Process(context.Background(), types.Event{SourceID: "cam-1", Image: []byte{1}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Label != "dog" || result.Person.Count != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if fake.detailCalls != 0 {
		t.Errorf("non-person label must not trigger follow-up, got %d calls", fake.detailCalls)
	}
}

func TestProcessPersonWithDetailsNoFollowUp(t *testing.T) {
	fake := &fakeClassifier{
		classifyRaw: raw(t, `{
			"label": "person", "confidence": 0.93,
			"person": {"count": 1, "details": [{"age_group": "adult", "gender": "male"}]}
		}`),
	}
	p := New(fake)

	result, err := p.Process(context.Background(), types.Event{SourceID: "cam-1", Image: []byte{1}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if fake.detailCalls != 0 {
		t.Errorf("response with details must not trigger follow-up")
	}
	d := result.Person.Details[0]
	if d.Appearance != types.Unknown || d.Role != types.Unknown {
		t.Errorf("missing detail fields must default to unknown: %+v", d)
	}
	if result.Person.AgeSummary != "1 adult" {
		t.Errorf("age summary: got %q", result.Person.AgeSummary)
	}
	if result.Person.Description != "one person" {
		t.Errorf("description: got %q", result.Person.Description)
	}
}

func TestProcessPersonWithoutDetailsTriggersOneFollowUp(t *testing.T) {
	fake := &fakeClassifier{
		classifyRaw: raw(t, `{"label":"person","confidence":0.9}`),
		detailRaw: raw(t, `{
			"label": "person", "confidence": 0.95,
			"person": {"count": 2, "details": [{"gender":"male"},{"gender":"female"}]}
		}`),
	}
	p := New(fake)

	result, err := p.Process(context.Background(), types.Event{SourceID: "cam-1", Image: []byte{1}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if fake.detailCalls != 1 {
		t.Fatalf("expected exactly 1 follow-up, got %d", fake.detailCalls)
	}
	if result.Person.Count != 2 || result.Confidence != 0.95 {
		t.Errorf("richer response not merged: %+v", result)
	}
	if result.Person.GenderSummary != "1 male, 1 female" {
		t.Errorf("gender summary: got %q", result.Person.GenderSummary)
	}
}

func TestProcessFollowUpFailureKeepsFirstResponse(t *testing.T) {
	fake := &fakeClassifier{
		classifyRaw: raw(t, `{"label":"person","confidence":0.9}`),
		detailErr:   errors.New("boom"),
	}
	p := New(fake)

	result, err := p.Process(context.Background(), types.Event{SourceID: "cam-1", Image: []byte{1}})
	if err != nil {
		t.Fatalf("follow-up failure must not fail the event: %v", err)
	}

	if result.Label != types.LabelPerson || result.Person.Count != 1 {
		t.Errorf("expected degraded single-person result, got %+v", result)
	}
}

func TestProcessClassifierFailureIsTerminal(t *testing.T) {
	fake := &fakeClassifier{classifyErr: errors.New("unreachable")}
	p := New(fake)

	if _, err := p.Process(context.Background(), types.Event{Image: []byte{1}}); err == nil {
		t.Fatal("expected terminal failure")
	}
}

func TestProcessEmptyResponseDegrades(t *testing.T) {
	fake := &fakeClassifier{classifyRaw: map[string]any{}}
	p := New(fake)

	result, err := p.Process(context.Background(), types.Event{Image: []byte{1}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Label != types.Unknown || result.Confidence != 0.0 || result.Person.Count != 0 {
		t.Errorf("empty response must degrade fully: %+v", result)
	}
}
