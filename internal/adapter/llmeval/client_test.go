package llmeval_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tracefact/evidenced/internal/adapter/llmeval"
)

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Model != "openai/gpt-4o-mini" {
			t.Fatalf("unexpected model: %q", body.Model)
		}
		if body.Temperature != 0 {
			t.Fatalf("unexpected temperature: %v", body.Temperature)
		}
		if len(body.Messages) != 2 || body.Messages[1].Content != "reuters.com" {
			t.Fatalf("unexpected messages: %+v", body.Messages)
		}

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant",
			"content":"{\"score\":0.95,\"confidence\":0.9}"}}]}`))
	}))
	defer srv.Close()

	client := llmeval.NewClient("judge-a", srv.URL, "test-key", "openai/gpt-4o-mini", time.Second)
	eval, err := client.Evaluate(context.Background(), "reuters.com")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.Score != 0.95 || eval.Confidence != 0.9 {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestEvaluateCodeFencedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reply := "```json\n{\"score\": 0.4, \"confidence\": 0.85}\n```"
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := llmeval.NewClient("judge-a", srv.URL, "k", "m", time.Second)
	eval, err := client.Evaluate(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.Score != 0.4 || eval.Confidence != 0.85 {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestEvaluateRejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant",
			"content":"{\"score\":1.5,\"confidence\":0.9}"}}]}`))
	}))
	defer srv.Close()

	client := llmeval.NewClient("judge-a", srv.URL, "k", "m", time.Second)
	if _, err := client.Evaluate(context.Background(), "example.com"); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestEvaluateRejectsProseReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant",
			"content":"I cannot rate this source."}}]}`))
	}))
	defer srv.Close()

	client := llmeval.NewClient("judge-a", srv.URL, "k", "m", time.Second)
	if _, err := client.Evaluate(context.Background(), "example.com"); err == nil {
		t.Fatal("expected parse error")
	}
}
