package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leatham22/Friend-convenient-meetup/internal/cache"
	"github.com/leatham22/Friend-convenient-meetup/internal/db"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/query"
)

// Handlers serves the meetup query API over a loaded graph
type Handlers struct {
	engine   *query.Engine
	cacheTTL time.Duration
	mutexTTL time.Duration
	log      *slog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(engine *query.Engine, cacheTTL, mutexTTL time.Duration, log *slog.Logger) *Handlers {
	return &Handlers{engine: engine, cacheTTL: cacheTTL, mutexTTL: mutexTTL, log: log}
}

// meetupRequest is the POST /v2/meetup body
type meetupRequest struct {
	Users []meetupUserEntry `json:"users"`
}

type meetupUserEntry struct {
	Hub         string `json:"hub"`
	WalkMinutes int    `json:"walk_minutes"`
	StationID   string `json:"station_id"`
}

// Meetup handles POST /v2/meetup: resolve hub names, check the result
// cache, run the two-stage query, cache and return the ranking
func (h *Handlers) Meetup(c *fiber.Ctx) error {
	var req meetupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if len(req.Users) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "at least 2 users are required",
		})
	}
	c.Locals("user_count", len(req.Users))

	users := make([]models.MeetupUser, len(req.Users))
	for i, entry := range req.Users {
		hub, err := h.engine.ResolveHub(entry.Hub)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if entry.WalkMinutes < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "walk_minutes must not be negative",
			})
		}
		users[i] = models.MeetupUser{
			StartHub:       hub.ID,
			WalkMinutes:    entry.WalkMinutes,
			StartStationID: entry.StationID,
		}
	}

	ctx := c.UserContext()
	key := cache.MeetupKey(users)

	// Serve from cache when an identical query was answered recently
	if cached, err := cache.GetResult(ctx, key); err == nil && cached != nil {
		c.Locals("cache_hit", true)
		return c.JSON(cached)
	}

	// Single-flight: one request computes, duplicates wait for its result
	lockKey := cache.LockKey(key)
	acquired, err := cache.AcquireLock(ctx, lockKey, h.mutexTTL)
	if err == nil && !acquired {
		if waited, werr := cache.WaitForLock(ctx, key, h.mutexTTL); werr == nil && waited != nil {
			c.Locals("cache_hit", true)
			return c.JSON(waited)
		}
	}
	if acquired {
		defer cache.ReleaseLock(ctx, lockKey)
	}

	result, err := h.engine.FindMeetup(ctx, users)
	if err != nil {
		if errors.Is(err, query.ErrNoViableMeetup) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	result.EvaluatedAt = time.Now().UTC()

	if err := cache.SetResult(ctx, key, result, h.cacheTTL); err != nil {
		h.log.Warn("failed to cache meetup result", "error", err)
	}

	return c.JSON(result)
}

// HubsSearch handles GET /v2/hubs/search?q=<prefix>
func (h *Handlers) HubsSearch(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query parameter q is required",
		})
	}

	hubs := h.engine.SearchHubs(q, 10)
	type hubSummary struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Lat      float64  `json:"lat"`
		Lon      float64  `json:"lon"`
		Modes    []string `json:"modes"`
		Lines    []string `json:"lines"`
		Stations int      `json:"stations"`
	}
	out := make([]hubSummary, len(hubs))
	for i, hub := range hubs {
		out[i] = hubSummary{
			ID:       hub.ID,
			Name:     hub.Name,
			Lat:      hub.Lat,
			Lon:      hub.Lon,
			Modes:    hub.Modes,
			Lines:    hub.Lines,
			Stations: len(hub.ConstituentStations),
		}
	}
	return c.JSON(fiber.Map{"hubs": out})
}

// Health handles GET /health
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()
	status := fiber.Map{
		"status": "ok",
	}

	if err := cache.HealthCheck(ctx); err != nil {
		status["redis"] = err.Error()
	} else {
		status["redis"] = "ok"
	}
	if err := db.HealthCheck(ctx); err != nil {
		status["database"] = err.Error()
	} else {
		status["database"] = "ok"
	}

	return c.JSON(status)
}
