package unpaywall

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
)

const oaResponseJSON = `{
	"doi": "10.1038/s41586-020-2649-2",
	"is_oa": true,
	"oa_status": "green",
	"best_oa_location": {
		"url": "https://europepmc.org/articles/pmc7759461",
		"url_for_pdf": "https://europepmc.org/articles/pmc7759461?pdf=render",
		"host_type": "repository"
	},
	"oa_locations": [
		{
			"url": "https://europepmc.org/articles/pmc7759461",
			"url_for_pdf": "https://europepmc.org/articles/pmc7759461?pdf=render"
		},
		{
			"url": "https://www.nature.com/articles/s41586-020-2649-2",
			"url_for_pdf": null
		}
	]
}`

func newTestClient(baseURL string) *Client {
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:   5 * time.Second,
		RateLimit: 100,
	})
	return NewWithHTTPClient(Config{BaseURL: baseURL, Email: "team@example.org"}, httpClient)
}

func TestClient_Lookup(t *testing.T) {
	t.Run("decodes an open-access record", func(t *testing.T) {
		var gotPath, gotEmail string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotEmail = r.URL.Query().Get("email")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(oaResponseJSON))
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL).Lookup(context.Background(), "https://doi.org/10.1038/s41586-020-2649-2")
		require.NoError(t, err)

		assert.Equal(t, "/10.1038/s41586-020-2649-2", gotPath)
		assert.Equal(t, "team@example.org", gotEmail)
		assert.True(t, resp.IsOA)
		require.NotNil(t, resp.BestOALocation)
		assert.Equal(t, "repository", resp.BestOALocation.HostType)
		assert.Len(t, resp.OALocations, 2)
	})

	t.Run("unknown doi", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lookup(context.Background(), "10.1/missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrLookupService)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.ReasonLookupService, domain.ReasonFor(err))
	})

	t.Run("unexpected status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"email required"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lookup(context.Background(), "10.1/x")
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	})

	t.Run("malformed json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"is_oa":`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lookup(context.Background(), "10.1/x")
		assert.ErrorIs(t, err, domain.ErrLookupService)
	})

	t.Run("empty doi makes no request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lookup(context.Background(), "  ")
		assert.ErrorIs(t, err, domain.ErrNoDOI)
		assert.Zero(t, calls.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := newTestClient(server.URL).Lookup(ctx, "10.1/slow")
		assert.ErrorIs(t, err, domain.ErrLookupService)
		assert.ErrorIs(t, err, domain.ErrNetworkTimeout)
	})
}

func TestExtractPDFURLs(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want []string
	}{
		{
			name: "nil response",
			resp: nil,
			want: nil,
		},
		{
			name: "no locations",
			resp: &Response{IsOA: false},
			want: nil,
		},
		{
			name: "pdf before landing page, best location first",
			resp: &Response{
				BestOALocation: &Location{URL: "https://a.org/landing", URLForPDF: "https://a.org/paper.pdf"},
				OALocations: []Location{
					{URL: "https://a.org/landing", URLForPDF: "https://a.org/paper.pdf"},
					{URL: "https://b.org/landing"},
				},
			},
			want: []string{"https://a.org/paper.pdf", "https://a.org/landing", "https://b.org/landing"},
		},
		{
			name: "comma separated values are split and trimmed",
			resp: &Response{
				OALocations: []Location{
					{URLForPDF: " https://x.org/1.pdf , https://x.org/2.pdf,,", URL: "https://x.org/1.pdf"},
				},
			},
			want: []string{"https://x.org/1.pdf", "https://x.org/2.pdf"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPDFURLs(tt.resp))
		})
	}
}

type countingLookuper struct {
	calls atomic.Int32
	err   error
}

func (c *countingLookuper) Lookup(_ context.Context, doi string) (*Response, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &Response{DOI: doi, IsOA: true}, nil
}

func TestCachedLookup(t *testing.T) {
	t.Run("reuses fresh entries", func(t *testing.T) {
		next := &countingLookuper{}
		cache := NewCachedLookup(next, time.Minute)

		_, err := cache.Lookup(context.Background(), "10.1/A")
		require.NoError(t, err)
		_, err = cache.Lookup(context.Background(), "https://doi.org/10.1/a")
		require.NoError(t, err)

		assert.Equal(t, int32(1), next.calls.Load())
	})

	t.Run("expires entries after ttl", func(t *testing.T) {
		next := &countingLookuper{}
		cache := NewCachedLookup(next, time.Minute)
		now := time.Now()
		cache.now = func() time.Time { return now }

		_, _ = cache.Lookup(context.Background(), "10.1/a")
		now = now.Add(2 * time.Minute)
		_, _ = cache.Lookup(context.Background(), "10.1/a")

		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("expired entries are evicted", func(t *testing.T) {
		next := &countingLookuper{}
		cache := NewCachedLookup(next, time.Minute)
		now := time.Now()
		cache.now = func() time.Time { return now }

		for _, doi := range []string{"10.1/a", "10.1/b", "10.1/c"} {
			_, err := cache.Lookup(context.Background(), doi)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, cache.size())

		now = now.Add(2 * time.Minute)
		_, err := cache.Lookup(context.Background(), "10.1/d")
		require.NoError(t, err)
		assert.Equal(t, 1, cache.size(), "stale entries are swept on insert")

		now = now.Add(2 * time.Minute)
		_, err = cache.Lookup(context.Background(), "10.1/d")
		require.NoError(t, err)
		assert.Equal(t, 1, cache.size(), "expired hit is replaced, not duplicated")
		assert.Equal(t, int32(5), next.calls.Load())
	})

	t.Run("zero ttl disables caching", func(t *testing.T) {
		next := &countingLookuper{}
		cache := NewCachedLookup(next, 0)

		_, _ = cache.Lookup(context.Background(), "10.1/a")
		_, _ = cache.Lookup(context.Background(), "10.1/a")

		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		next := &countingLookuper{err: domain.ErrLookupService}
		cache := NewCachedLookup(next, time.Minute)

		_, err := cache.Lookup(context.Background(), "10.1/a")
		assert.Error(t, err)
		_, err = cache.Lookup(context.Background(), "10.1/a")
		assert.Error(t, err)

		assert.Equal(t, int32(2), next.calls.Load())
	})
}
