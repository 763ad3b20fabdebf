package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Pricing</title><style>body { color: red; }</style></head>
<body>
<nav>Home | Pricing | About</nav>
<h1>Our Pricing</h1>
<p>The starter plan costs $29 per month.</p>
<script>console.log("tracking");</script>
<p>The business plan costs $99 per month.</p>
<footer>Copyright 2025</footer>
</body>
</html>`

func TestExtractHTMLText(t *testing.T) {
	text, err := extractHTMLText(strings.NewReader(samplePage))
	require.NoError(t, err)

	assert.Contains(t, text, "Our Pricing")
	assert.Contains(t, text, "The starter plan costs $29 per month.")
	assert.Contains(t, text, "The business plan costs $99 per month.")

	// 脚本、样式、导航、页脚不进入正文
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Home | Pricing")
	assert.NotContains(t, text, "Copyright")
}

func TestPageFetcherFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	text, err := newPageFetcher().FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "The starter plan costs $29 per month.")
}

func TestPageFetcherRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newPageFetcher().FetchText(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPageFetcherRejectsEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><script>only()</script></body></html>"))
	}))
	defer srv.Close()

	_, err := newPageFetcher().FetchText(context.Background(), srv.URL)
	require.Error(t, err)
}
