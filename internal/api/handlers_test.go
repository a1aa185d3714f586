package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/query"
)

type fakePlanner struct {
	durations map[string]int
}

func (f *fakePlanner) JourneyDuration(_ context.Context, fromID, toID, _ string) (int, error) {
	if d, ok := f.durations[fromID+"|"+toID]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("no journey")
}

func testApp(t *testing.T) *fiber.App {
	t.Helper()

	g := graph.New()
	add := func(id, name string, lat, lon float64) {
		g.UpsertHub(id, name, lat, lon, nil, models.ModeTube, "L1",
			models.Station{Name: name, NaptanID: id})
	}
	add("A", "Alpha", 51.50, -0.10)
	add("B", "Beta", 51.50, -0.08)
	add("C", "Middle", 51.500, -0.090)

	w := func(v float64) *float64 { return &v }
	g.AddEdge(&models.Edge{Source: "A", Target: "C", Key: "L1", Line: "L1", Mode: "tube", Weight: w(5)})
	g.AddEdge(&models.Edge{Source: "B", Target: "C", Key: "L1", Line: "L1", Mode: "tube", Weight: w(5)})

	cfg := &config.Query{
		ChangePenaltyMinutes:   5,
		EllipseExpansionFactor: 1.2,
		HullBufferFraction:     0.005,
		CoverageFraction:       0.70,
		TopKRefined:            10,
		AlternativesReturned:   5,
		ConcurrencyJourney:     2,
	}
	planner := &fakePlanner{durations: map[string]int{
		"A|C": 8, "B|C": 8,
	}}
	engine := query.NewEngine(g, planner, cfg, slog.Default())
	handlers := NewHandlers(engine, time.Minute, 5*time.Second, slog.Default())

	app := fiber.New()
	app.Get("/health", handlers.Health)
	app.Get("/v2/hubs/search", handlers.HubsSearch)
	app.Post("/v2/meetup", handlers.Meetup)
	return app
}

func TestMeetupHandler(t *testing.T) {
	app := testApp(t)

	t.Run("returns the best candidate", func(t *testing.T) {
		body := `{"users": [{"hub": "Alpha", "walk_minutes": 4}, {"hub": "Beta", "walk_minutes": 4}]}`
		req := httptest.NewRequest("POST", "/v2/meetup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var result models.MeetupResult
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Equal(t, "C", result.Best.HubID)
		assert.Equal(t, 24.0, result.Best.TotalMinutes)
	})

	t.Run("rejects a single user", func(t *testing.T) {
		body := `{"users": [{"hub": "Alpha", "walk_minutes": 4}]}`
		req := httptest.NewRequest("POST", "/v2/meetup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects an unknown hub", func(t *testing.T) {
		body := `{"users": [{"hub": "Nowhere", "walk_minutes": 4}, {"hub": "Beta", "walk_minutes": 4}]}`
		req := httptest.NewRequest("POST", "/v2/meetup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects negative walk minutes", func(t *testing.T) {
		body := `{"users": [{"hub": "Alpha", "walk_minutes": -1}, {"hub": "Beta", "walk_minutes": 4}]}`
		req := httptest.NewRequest("POST", "/v2/meetup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestHubsSearchHandler(t *testing.T) {
	app := testApp(t)

	t.Run("prefix match", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v2/hubs/search?q=Al", nil)
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var payload struct {
			Hubs []struct {
				Name string `json:"name"`
			} `json:"hubs"`
		}
		data, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(data, &payload))
		require.Len(t, payload.Hubs, 1)
		assert.Equal(t, "Alpha", payload.Hubs[0].Name)
	})

	t.Run("missing query is rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v2/hubs/search", nil)
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}
