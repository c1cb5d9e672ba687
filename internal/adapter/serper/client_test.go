package serper_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tracefact/evidenced/internal/adapter/serper"
	"github.com/tracefact/evidenced/internal/domain/search"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if key := r.Header.Get("X-API-KEY"); key != "test-key" {
			t.Fatalf("unexpected api key: %q", key)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["q"] != "solar output 2025" {
			t.Fatalf("unexpected query: %v", body["q"])
		}
		if body["tbs"] != "qdr:m" {
			t.Fatalf("unexpected tbs: %v", body["tbs"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Report","link":"https://example.com/r","snippet":"stats"},
			{"title":"Study","link":"https://example.org/s","snippet":"data"}
		]}`))
	}))
	defer srv.Close()

	client := serper.NewClient("serper", srv.URL, "test-key", time.Second)
	results, err := client.Search(context.Background(), "solar output 2025", search.Params{
		MaxResults:   10,
		DateRestrict: "m",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://example.com/r" {
		t.Fatalf("unexpected url: %q", results[0].URL)
	}
}

func TestSearchDomainFilters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuery, _ = body["q"].(string)
		_, _ = w.Write([]byte(`{"organic":[]}`))
	}))
	defer srv.Close()

	client := serper.NewClient("serper", srv.URL, "k", time.Second)
	_, err := client.Search(context.Background(), "vaccine efficacy", search.Params{
		AllowDomains: []string{"nih.gov", "who.int"},
		DenyDomains:  []string{"pinterest.com"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	for _, want := range []string{"site:nih.gov", "site:who.int", "-site:pinterest.com"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestSearchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	client := serper.NewClient("serper", srv.URL, "k", time.Second)
	if _, err := client.Search(context.Background(), "q", search.Params{}); err == nil {
		t.Fatal("expected error on 429")
	}
}
