package tfl

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string, cache *DiskCache) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:           baseURL,
		Token:             "test-token",
		MaxAttempts:       3,
		SequenceDeadline:  2 * time.Second,
		TimetableDeadline: 2 * time.Second,
		JourneyDeadline:   2 * time.Second,
		SequenceRPS:       1000,
		TimetableRPS:      1000,
		JourneyRPS:        1000,
	}
	return NewClient(cfg, cache, slog.Default())
}

func TestJourneyDuration(t *testing.T) {
	t.Run("returns the fastest duration", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"journeys": [{"duration": 31}, {"duration": 25}, {"duration": 40}]}`))
		}))
		defer srv.Close()

		d, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		require.NoError(t, err)
		assert.Equal(t, 25, d)
	})

	t.Run("empty journey list is NoJourney", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"journeys": []}`))
		}))
		defer srv.Close()

		_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		assert.ErrorIs(t, err, ErrNoJourney)
	})

	t.Run("404 is NoJourney", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "walking")
		assert.ErrorIs(t, err, ErrNoJourney)
	})

	t.Run("date is pinned only for heavy rail", func(t *testing.T) {
		var lastQuery atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastQuery.Store(r.URL.Query())
			w.Write([]byte(`{"journeys": [{"duration": 10}]}`))
		}))
		defer srv.Close()
		client := testClient(t, srv.URL, nil)

		_, err := client.JourneyDuration(context.Background(), "A", "B", "walking")
		require.NoError(t, err)
		assert.Empty(t, lastQuery.Load().(url.Values).Get("date"))

		_, err = client.JourneyDuration(context.Background(), "A", "B", "overground")
		require.NoError(t, err)
		assert.NotEmpty(t, lastQuery.Load().(url.Values).Get("date"))
	})
}

func TestRetryBehaviour(t *testing.T) {
	t.Run("5xx retries until success", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"journeys": [{"duration": 12}]}`))
		}))
		defer srv.Close()

		d, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		require.NoError(t, err)
		assert.Equal(t, 12, d)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted retries surface as transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("auth failure is terminal", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		assert.ErrorIs(t, err, ErrAuth)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("malformed body is terminal", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"journeys": "nope"}`))
		}))
		defer srv.Close()

		_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestLineRouteSequenceCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"lineId": "district", "stopPointSequences": [{"branchId": 0, "stopPoint": [{"id": "S1", "name": "One", "lat": 51.5, "lon": -0.1}]}]}`))
	}))
	defer srv.Close()

	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	client := testClient(t, srv.URL, cache)

	seq, err := client.LineRouteSequence(context.Background(), "district", "inbound")
	require.NoError(t, err)
	assert.Equal(t, "district", seq.LineID)
	assert.Equal(t, "inbound", seq.Direction)
	require.Len(t, seq.StopPointSequences, 1)

	// Second call is served from the cache without touching the server
	_, err = client.LineRouteSequence(context.Background(), "district", "inbound")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopsNear(t *testing.T) {
	t.Run("envelope form", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "NaptanMetroStation,NaptanRailStation", r.URL.Query().Get("stopTypes"))
			w.Write([]byte(`{"stopPoints": [{"id": "S1", "name": "One", "lat": 51.5, "lon": -0.1}]}`))
		}))
		defer srv.Close()

		stops, err := testClient(t, srv.URL, nil).StopsNear(context.Background(), 51.5, -0.1, 250)
		require.NoError(t, err)
		require.Len(t, stops, 1)
		assert.Equal(t, "S1", stops[0].ID)
	})

	t.Run("bare array form", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"id": "S2", "name": "Two", "lat": 51.5, "lon": -0.1}]`))
		}))
		defer srv.Close()

		stops, err := testClient(t, srv.URL, nil).StopsNear(context.Background(), 51.5, -0.1, 250)
		require.NoError(t, err)
		require.Len(t, stops, 1)
		assert.Equal(t, "S2", stops[0].ID)
	})
}

func TestTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.URL.Query().Get("app_key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{"journeys": [{"duration": 5}]}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, nil).JourneyDuration(context.Background(), "A", "B", "")
	require.NoError(t, err)
}

func TestNextWeekdayMorning(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Weekday
	}{
		{"friday rolls to monday", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), time.Monday},
		{"monday rolls to tuesday", time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC), time.Tuesday},
		{"saturday rolls to monday", time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), time.Monday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextWeekdayMorning(tt.now).Weekday())
		})
	}
}
