// Package serper provides a search provider backed by the Serper.dev
// Google Search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tracefact/evidenced/internal/domain/search"
)

// Client talks to the Serper search API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Serper search client. name is the provider name used
// for health tracking and cache provenance.
func NewClient(name, baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
	TBS   string `json:"tbs,omitempty"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs a web search and maps organic results onto the domain type.
func (c *Client) Search(ctx context.Context, query string, params search.Params) ([]search.Result, error) {
	body, err := json.Marshal(searchRequest{
		Query: applyDomainFilters(query, params),
		Num:   params.MaxResults,
		TBS:   dateRestrictTBS(params.DateRestrict),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("serper API error %d: %s", resp.StatusCode, string(data))
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	results := make([]search.Result, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		results = append(results, search.Result{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}
	if params.MaxResults > 0 && len(results) > params.MaxResults {
		results = results[:params.MaxResults]
	}
	return results, nil
}

// applyDomainFilters expresses allow/deny lists as site: operators, which
// both Google-backed and Brave-style engines understand.
func applyDomainFilters(query string, params search.Params) string {
	var b strings.Builder
	b.WriteString(query)
	if len(params.AllowDomains) > 0 {
		terms := make([]string, len(params.AllowDomains))
		for i, d := range params.AllowDomains {
			terms[i] = "site:" + d
		}
		b.WriteString(" (" + strings.Join(terms, " OR ") + ")")
	}
	for _, d := range params.DenyDomains {
		b.WriteString(" -site:" + d)
	}
	return b.String()
}

func dateRestrictTBS(restrict string) string {
	switch restrict {
	case "d", "w", "m", "y":
		return "qdr:" + restrict
	default:
		return ""
	}
}
