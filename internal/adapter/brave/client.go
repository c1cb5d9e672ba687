// Package brave provides a search provider backed by the Brave Search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tracefact/evidenced/internal/domain/search"
)

// Client talks to the Brave web search API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Brave search client.
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

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs a web search and maps results onto the domain type.
func (c *Client) Search(ctx context.Context, query string, params search.Params) ([]search.Result, error) {
	q := url.Values{}
	q.Set("q", applyDomainFilters(query, params))
	if params.MaxResults > 0 {
		q.Set("count", strconv.Itoa(params.MaxResults))
	}
	if f := freshness(params.DateRestrict); f != "" {
		q.Set("freshness", f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/res/v1/web/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

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
		return nil, fmt.Errorf("brave API error %d: %s", resp.StatusCode, string(data))
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	results := make([]search.Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, search.Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	if params.MaxResults > 0 && len(results) > params.MaxResults {
		results = results[:params.MaxResults]
	}
	return results, nil
}

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

func freshness(restrict string) string {
	switch restrict {
	case "d", "w", "m", "y":
		return "p" + restrict
	default:
		return ""
	}
}
