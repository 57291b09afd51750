package webcontext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brandPage = `<!DOCTYPE html>
<html>
<head><title>Acme Coffee</title></head>
<body>
<nav><a href="/shop">Shop</a><a href="/about">About</a></nav>
<article>
<h1>Acme Coffee</h1>
<p>Acme Coffee roasts single-origin beans in small batches. Our brand colors
are deep brown and cream, and our voice is warm and unhurried. Every bag
carries the bean's farm of origin and roast date, because we believe
transparency tastes better. The roastery sits in a converted warehouse where
visitors can watch every batch come off the drum.</p>
<p>Founded in 2012, the roastery now ships to forty countries and still
hand-checks every order. We sponsor local farmers markets and print our
packaging on recycled stock. Our seasonal blends follow the harvest calendar
rather than the marketing calendar, which keeps the lineup honest.</p>
</article>
<footer>Copyright Acme</footer>
</body>
</html>`

func TestFetchExtractsReadableMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(brandPage))
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	digest, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Contains(t, digest, "Acme Coffee")
	assert.Contains(t, digest, "single-origin beans")
	assert.NotContains(t, digest, "<p>", "output is markdown, not HTML")
}

func TestFetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(brandPage))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, WithMaxChars(80))
	digest, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(digest)), 82)
	assert.True(t, strings.HasSuffix(digest, "…"))
}

func TestFetchRejectsBadInputs(t *testing.T) {
	f := NewFetcher(time.Second)

	_, err := f.Fetch(context.Background(), "ftp://example.com")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
