package cntd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, UserAgent: "reconciler-test", Timeout: 2 * time.Second}, nil, nil)
	require.NoError(t, err)
	return client, srv
}

func TestFetchPageParsesIdentifiers(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("category"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "registration_date:desc", r.URL.Query().Get("order_by"))
		assert.Equal(t, "reconciler-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":101},{"id":"102"},{"id":null},{"name":"x"},{"id":1234567890123}]}`))
	})

	ids, err := client.FetchPage(context.Background(), "3", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102", "1234567890123"}, ids)
}

func TestFetchPageWithoutDataIsEmpty(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total":0}`))
	})

	ids, err := client.FetchPage(context.Background(), "3", 99)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFetchPageMalformedBody(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.FetchPage(context.Background(), "3", 1)
	require.Error(t, err)
	assert.Equal(t, corpus.KindMalformedResponse, corpus.KindOf(err))
}

func TestListingURLIncludesDate(t *testing.T) {
	t.Parallel()

	client, err := New(Config{BaseURL: "https://docs.example.test/", Date: "2025"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"https://docs.example.test/api/search?category=7&date=2025&order_by=registration_date%3Adesc&page=4",
		client.ListingURL("7", 4))
	assert.Equal(t, "https://docs.example.test/document/55", client.DocumentURL("55"))
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		kind   corpus.Kind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, kind: corpus.KindRateLimited},
		{name: "request timeout", status: http.StatusRequestTimeout, kind: corpus.KindTransientNetwork},
		{name: "server error", status: http.StatusBadGateway, kind: corpus.KindTransientNetwork},
		{name: "not found", status: http.StatusNotFound, kind: corpus.KindMalformedResponse},
		{name: "forbidden", status: http.StatusForbidden, kind: corpus.KindMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tc.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "2")
				}
				w.WriteHeader(tc.status)
			})

			_, err := client.FetchMetadata(context.Background(), "101")
			require.Error(t, err)
			assert.Equal(t, tc.kind, corpus.KindOf(err))

			var kerr *corpus.Error
			require.True(t, errors.As(err, &kerr))
			assert.Equal(t, "101", kerr.ID)
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, 2*time.Second, corpus.RetryAfter(err))
			}
		})
	}
}

func TestClientTimeoutIsClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	_, err = client.FetchPage(context.Background(), "3", 1)
	require.Error(t, err)
	assert.Equal(t, corpus.KindTimeout, corpus.KindOf(err))
}

func TestCanceledContextIsNotClassified(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, "3", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url"}, nil, nil)
	require.Error(t, err)
}
