package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"miku/model"
)

const (
	tavilyEndpoint     = "https://api.tavily.com/search"
	tavilyMaxBodyBytes = 2 << 20
)

// Client searches through Tavily.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewClient returns a Tavily client. endpoint may be empty for the public API.
func NewClient(apiKey, endpoint string, hc *http.Client) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing web search api key")
	}
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiKey: apiKey, endpoint: endpoint, http: hc}, nil
}

type tavilyRequest struct {
	Query                    string   `json:"query"`
	SearchDepth              string   `json:"search_depth"`
	MaxResults               int      `json:"max_results"`
	IncludeImages            bool     `json:"include_images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions"`
	IncludeDomains           []string `json:"include_domains"`
	ExcludeDomains           []string `json:"exclude_domains"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
	Images []tavilyImage `json:"images"`
}

// tavilyImage is either a bare URL or an object with a description.
type tavilyImage struct {
	URL         string
	Description string
}

func (t *tavilyImage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.URL = s
		return nil
	}
	var obj struct {
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	t.URL, t.Description = obj.URL, obj.Description
	return nil
}

// Search runs an advanced-depth query including images.
func (c *Client) Search(ctx context.Context, req Request) (Response, error) {
	req = req.Normalize()
	if req.Query == "" {
		return Response{}, errors.New("missing query")
	}

	body, err := json.Marshal(tavilyRequest{
		Query:                    req.Query,
		SearchDepth:              "advanced",
		MaxResults:               req.MaxResults,
		IncludeImages:            true,
		IncludeImageDescriptions: true,
		IncludeDomains:           req.IncludeDomains,
		ExcludeDomains:           req.ExcludeDomains,
	})
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, &model.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, tavilyMaxBodyBytes))
	if err != nil {
		return Response{}, &model.NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("tavily search failed (status %d)", resp.StatusCode)
		}
		return Response{}, &model.NetworkError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, errors.New("invalid tavily search response")
	}

	out := Response{Provider: ProviderTavily, Query: req.Query}
	for _, r := range decoded.Results {
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = u
		}
		out.Results = append(out.Results, model.SearchResult{Title: title, URL: u, Content: strings.TrimSpace(r.Content)})
	}
	for _, img := range decoded.Images {
		if u := strings.TrimSpace(img.URL); u != "" {
			out.Images = append(out.Images, model.SearchImage{URL: u, Description: strings.TrimSpace(img.Description)})
		}
	}
	return out, nil
}
