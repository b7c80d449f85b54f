package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.pdf":
			assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
			w.Write([]byte("%PDF-1.4 body"))
		case "/big.pdf":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f, err := NewFetcher(WithMaxBytes(32))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		body, err := f.Fetch(ctx, server.URL+"/doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 body", string(body))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(ctx, server.URL+"/missing.pdf")
		assert.ErrorIs(t, err, core.ErrSource)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := f.Fetch(ctx, server.URL+"/big.pdf")
		assert.ErrorIs(t, err, core.ErrSource)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := f.Fetch(ctx, "http://127.0.0.1:1/doc.pdf")
		assert.ErrorIs(t, err, core.ErrSource)
	})
}

func TestFetcher_Canceled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f, err := NewFetcher()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.KindCanceled, core.KindOf(err))
}

func TestFetcher_Proxy(t *testing.T) {
	var proxied bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = true
		assert.Equal(t, "http://docs.internal/report.pdf", r.URL.String())
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	f, err := NewFetcher(WithProxy(proxy.URL))
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), "http://docs.internal/report.pdf")
	require.NoError(t, err)
	assert.True(t, proxied)
	assert.Equal(t, "via proxy", string(body))
}

func TestNewFetcher_InvalidOptions(t *testing.T) {
	_, err := NewFetcher(WithTimeout(0))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewFetcher(WithMaxBytes(-1))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewFetcher(WithProxy("::bad"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
