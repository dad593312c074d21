// Package websearch queries a web search API on behalf of the relay.
package websearch

import (
	"strings"

	"miku/model"
)

const (
	ProviderTavily = "tavily"

	defaultMaxResults = 6
	maxMaxResults     = 20
)

// Request is one search query with optional domain filters.
type Request struct {
	Query          string
	MaxResults     int
	IncludeDomains []string
	ExcludeDomains []string
}

// Normalize trims the query, bounds MaxResults and drops blank domains.
func (r Request) Normalize() Request {
	out := r
	out.Query = strings.TrimSpace(out.Query)
	if out.MaxResults <= 0 {
		out.MaxResults = defaultMaxResults
	}
	if out.MaxResults > maxMaxResults {
		out.MaxResults = maxMaxResults
	}
	out.IncludeDomains = cleanDomains(r.IncludeDomains)
	out.ExcludeDomains = cleanDomains(r.ExcludeDomains)
	return out
}

func cleanDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Response carries citations and images in the chat model's shapes.
type Response struct {
	Provider string               `json:"provider"`
	Query    string               `json:"query"`
	Results  []model.SearchResult `json:"results"`
	Images   []model.SearchImage  `json:"images"`
}
