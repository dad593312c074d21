package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miku/model"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "golang generics", req.Query)
		assert.Equal(t, "advanced", req.SearchDepth)
		assert.Equal(t, 6, req.MaxResults)
		assert.True(t, req.IncludeImages)
		assert.Equal(t, []string{"go.dev"}, req.IncludeDomains)
		assert.Equal(t, []string{}, req.ExcludeDomains)

		_, _ = w.Write([]byte(`{
			"results": [
				{"title": "Generics", "url": "https://go.dev/doc/tutorial/generics", "content": "Tutorial", "score": 0.9},
				{"title": "", "url": "https://go.dev/blog/intro-generics", "content": "Blog", "score": 0.8},
				{"title": "skip", "url": "", "content": "", "score": 0.1}
			],
			"images": ["https://go.dev/a.png", {"url": "https://go.dev/b.png", "description": "gopher"}]
		}`))
	}))
	defer srv.Close()

	c, err := NewClient("key", srv.URL, srv.Client())
	require.NoError(t, err)

	resp, err := c.Search(context.Background(), Request{Query: "  golang generics ", IncludeDomains: []string{"go.dev", " "}})
	require.NoError(t, err)
	assert.Equal(t, []model.SearchResult{
		{Title: "Generics", URL: "https://go.dev/doc/tutorial/generics", Content: "Tutorial"},
		{Title: "https://go.dev/blog/intro-generics", URL: "https://go.dev/blog/intro-generics", Content: "Blog"},
	}, resp.Results)
	assert.Equal(t, []model.SearchImage{
		{URL: "https://go.dev/a.png"},
		{URL: "https://go.dev/b.png", Description: "gopher"},
	}, resp.Images)
}

func TestSearchErrors(t *testing.T) {
	_, err := NewClient(" ", "", nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient("key", srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Request{Query: ""})
	assert.Error(t, err)

	_, err = c.Search(context.Background(), Request{Query: "x"})
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusTooManyRequests, netErr.StatusCode)
}

func TestNormalize(t *testing.T) {
	r := Request{Query: " q ", MaxResults: 100}.Normalize()
	assert.Equal(t, "q", r.Query)
	assert.Equal(t, maxMaxResults, r.MaxResults)
	assert.Equal(t, defaultMaxResults, Request{}.Normalize().MaxResults)
}
