package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
	"loom/internal/suppliers"
	"loom/internal/suppliers/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return llm.NewClient(config.LLM{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
}

func completionBody(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestCompleteJSONReturnsContent(t *testing.T) {
	var gotAuth, gotRequestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		fmt.Fprint(w, completionBody(`{"ok":true}`))
	})

	ctx := services.WithRequestID(context.Background(), "req-42")
	content, err := client.CompleteJSON(ctx, "planning", "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("unexpected content: %q", content)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotRequestID != "req-42" {
		t.Fatalf("request id not propagated, got %q", gotRequestID)
	}
}

func TestCompleteJSONGeneratesRequestID(t *testing.T) {
	var gotRequestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		fmt.Fprint(w, completionBody(`{}`))
	})

	if _, err := client.CompleteJSON(context.Background(), "planning", "system", "user"); err != nil {
		t.Fatal(err)
	}
	if gotRequestID == "" {
		t.Fatal("expected generated request id header")
	}
}

func TestCompleteJSONClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{name: "throttled", status: http.StatusTooManyRequests, marker: services.ErrThrottled},
		{name: "server error", status: http.StatusInternalServerError, marker: services.ErrUnavailable},
		{name: "request timeout", status: http.StatusRequestTimeout, marker: services.ErrTimeout},
		{name: "bad request", status: http.StatusBadRequest, marker: services.ErrFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := client.CompleteJSON(context.Background(), "generating", "system", "user")
			if !errors.Is(err, tc.marker) {
				t.Fatalf("status %d classified as %v, want marker %v", tc.status, err, tc.marker)
			}
			if tc.marker == services.ErrFatal && services.IsRetryable(err) {
				t.Fatal("fatal status must not be retryable")
			}
		})
	}
}

func TestCompleteJSONMissingKey(t *testing.T) {
	client := llm.NewClient(config.LLM{Model: "test-model"})
	_, err := client.CompleteJSON(context.Background(), "planning", "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteJSONEmptyContentIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(""))
	})
	_, err := client.CompleteJSON(context.Background(), "generating", "system", "user")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDecodeJSONHandlesFencesAndProse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "plain", payload: `{"value":7}`},
		{name: "fenced", payload: "```json\n{\"value\":7}\n```"},
		{name: "prose wrapped", payload: "Here you go:\n{\"value\":7}\nHope that helps."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var parsed struct {
				Value int `json:"value"`
			}
			if err := llm.DecodeJSON(tc.payload, &parsed); err != nil {
				t.Fatalf("DecodeJSON returned error: %v", err)
			}
			if parsed.Value != 7 {
				t.Fatalf("parsed value = %d", parsed.Value)
			}
		})
	}
}

func TestSupplierPlanRejectsShortAllocation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"allocations":[{"category":"networking","difficulty":"easy","type":"multiple_choice","count":3}]}`))
	})
	sup := llm.NewSupplier(client, logging.NewNop())

	target := suppliers.Target{BatchNumber: 1, Items: 5}
	_, err := sup.Plan(context.Background(), &suppliers.Analysis{}, target)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient plan mismatch, got %v", err)
	}
}

func TestSupplierGenerateParsesItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"items":[{"category":"networking","difficulty":"easy","type":"multiple_choice","prompt":"p","options":["a","b","c","d"],"answer":"a","explanation":"e"}]}`))
	})
	sup := llm.NewSupplier(client, logging.NewNop())

	plan := &suppliers.Plan{BatchNumber: 1, Allocations: []suppliers.Allocation{
		{Category: "networking", Difficulty: "easy", Type: "multiple_choice", Count: 1},
	}}
	items, err := sup.Generate(context.Background(), plan, &suppliers.Research{Notes: map[string]string{"networking": "n"}})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	want := store.Item{
		Category: "networking", Difficulty: "easy", Type: "multiple_choice",
		Prompt: "p", Options: []string{"a", "b", "c", "d"}, Answer: "a", Explanation: "e",
	}
	got := items[0]
	if got.Category != want.Category || got.Prompt != want.Prompt || got.Answer != want.Answer {
		t.Fatalf("unexpected item: %+v", got)
	}
}

func TestSupplierAssessMergesStructuralIssues(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"quality_score":0.9,"issues":["vague distractors"]}`))
	})
	sup := llm.NewSupplier(client, logging.NewNop())

	items := []store.Item{{
		Category: "networking", Difficulty: "easy", Type: "multiple_choice",
		Prompt: "", Options: []string{"a", "b"}, Answer: "a",
	}}
	target := suppliers.Target{Items: 1, Categories: []string{"networking"}, Difficulties: []string{"easy"}, Types: []string{"multiple_choice"}}

	assessment, err := sup.Assess(context.Background(), items, target)
	if err != nil {
		t.Fatal(err)
	}
	// Structural score (0 clean items) must win over the model's 0.9.
	if assessment.QualityScore != 0 {
		t.Fatalf("quality = %v, want structural floor 0", assessment.QualityScore)
	}
	foundStructural, foundModel := false, false
	for _, issue := range assessment.Issues {
		switch {
		case issue == "vague distractors":
			foundModel = true
		case issue == "item 1: empty prompt":
			foundStructural = true
		}
	}
	if !foundStructural || !foundModel {
		t.Fatalf("expected merged issues, got %v", assessment.Issues)
	}
}
