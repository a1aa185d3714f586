package tfl

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint families share a token bucket and a deadline. Sequence and
// timetable responses are written through the disk cache; journey and
// stop-point lookups are always live.
const (
	familySequence  = "sequence"
	familyStopPoint = "stoppoint"
	familyTimetable = "timetable"
	familyJourney   = "journey"
)

// Config holds provider client configuration
type Config struct {
	BaseURL     string
	Token       string
	MaxAttempts int

	SequenceDeadline  time.Duration
	TimetableDeadline time.Duration
	JourneyDeadline   time.Duration

	// Requests per second per endpoint family
	SequenceRPS  float64
	TimetableRPS float64
	JourneyRPS   float64
}

// DefaultConfig returns the client defaults from the deployment runbook
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:           "https://api.tfl.gov.uk",
		Token:             token,
		MaxAttempts:       5,
		SequenceDeadline:  15 * time.Second,
		TimetableDeadline: 15 * time.Second,
		JourneyDeadline:   30 * time.Second,
		SequenceRPS:       8,
		TimetableRPS:      2,
		JourneyRPS:        4,
	}
}

// Client wraps the provider HTTP API with rate limiting, retries and a
// content-addressed response cache
type Client struct {
	cfg      Config
	http     *http.Client
	cache    *DiskCache
	log      *slog.Logger
	limiters map[string]*rate.Limiter
}

// NewClient creates a provider client. cache may be nil to disable the
// write-through cache (live queries only).
func NewClient(cfg Config, cache *DiskCache, log *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	rps := func(v float64) *rate.Limiter {
		if v <= 0 {
			v = 1
		}
		return rate.NewLimiter(rate.Limit(v), int(v)+1)
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{},
		cache: cache,
		log:   log,
		limiters: map[string]*rate.Limiter{
			familySequence:  rps(cfg.SequenceRPS),
			familyStopPoint: rps(cfg.SequenceRPS),
			familyTimetable: rps(cfg.TimetableRPS),
			familyJourney:   rps(cfg.JourneyRPS),
		},
	}
}

// LinesForModes lists the lines serving the given modes
func (c *Client) LinesForModes(ctx context.Context, modes []string) ([]Line, error) {
	u := fmt.Sprintf("%s/line/mode/%s", c.cfg.BaseURL, url.PathEscape(strings.Join(modes, ",")))
	body, err := c.get(ctx, familySequence, u, c.cfg.SequenceDeadline, true)
	if err != nil {
		return nil, err
	}
	var raw []lineSummary
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: line list: %v", ErrMalformed, err)
	}
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, Line{ID: l.ID, Name: l.Name, Mode: l.Mode})
	}
	return lines, nil
}

// LineRouteSequence fetches the ordered stop-point sequences for a line in
// one direction. Responses are written through the disk cache.
func (c *Client) LineRouteSequence(ctx context.Context, lineID, direction string) (*RouteSequence, error) {
	u := fmt.Sprintf("%s/line/%s/route/sequence/%s",
		c.cfg.BaseURL, url.PathEscape(lineID), url.PathEscape(direction))
	body, err := c.get(ctx, familySequence, u, c.cfg.SequenceDeadline, true)
	if err != nil {
		return nil, err
	}
	var seq RouteSequence
	if err := json.Unmarshal(body, &seq); err != nil {
		return nil, fmt.Errorf("%w: route sequence %s/%s: %v", ErrMalformed, lineID, direction, err)
	}
	if seq.LineID == "" {
		seq.LineID = lineID
	}
	if seq.Direction == "" {
		seq.Direction = direction
	}
	return &seq, nil
}

// StopsNear finds stop points within radiusM meters of a coordinate. The
// provider occasionally returns entries outside the radius; callers filter.
func (c *Client) StopsNear(ctx context.Context, lat, lon float64, radiusM int) ([]StopPoint, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("radius", fmt.Sprintf("%d", radiusM))
	q.Set("stopTypes", "NaptanMetroStation,NaptanRailStation")
	u := fmt.Sprintf("%s/stoppoint?%s", c.cfg.BaseURL, q.Encode())

	body, err := c.get(ctx, familyStopPoint, u, c.cfg.SequenceDeadline, false)
	if err != nil {
		return nil, err
	}

	// The endpoint answers either a bare array or a stopPoints envelope
	var envelope struct {
		StopPoints []StopPoint `json:"stopPoints"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.StopPoints != nil {
		return envelope.StopPoints, nil
	}
	var stops []StopPoint
	if err := json.Unmarshal(body, &stops); err != nil {
		return nil, fmt.Errorf("%w: stoppoint search: %v", ErrMalformed, err)
	}
	return stops, nil
}

// Timetable fetches the schedule for a line from one of its terminal
// stations. Responses are written through the disk cache.
func (c *Client) Timetable(ctx context.Context, lineID, fromStationID string) (*Timetable, error) {
	u := fmt.Sprintf("%s/line/%s/timetable/%s",
		c.cfg.BaseURL, url.PathEscape(lineID), url.PathEscape(fromStationID))
	body, err := c.get(ctx, familyTimetable, u, c.cfg.TimetableDeadline, true)
	if err != nil {
		return nil, err
	}
	var tt Timetable
	if err := json.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("%w: timetable %s from %s: %v", ErrMalformed, lineID, fromStationID, err)
	}
	if tt.LineID == "" {
		tt.LineID = lineID
	}
	return &tt, nil
}

// JourneyDuration returns the fastest journey duration in whole minutes
// between two stop points. mode may be empty for an unconstrained journey.
func (c *Client) JourneyDuration(ctx context.Context, fromID, toID, mode string) (int, error) {
	durations, err := c.JourneyDurations(ctx, fromID, toID, mode)
	if err != nil {
		return 0, err
	}
	best := durations[0]
	for _, d := range durations[1:] {
		if d < best {
			best = d
		}
	}
	return best, nil
}

// JourneyDurations returns every positive journey duration the planner
// offers between two stop points, in response order. mode may be empty.
// A date/time parameter is attached only for the heavy-rail modes, whose
// schedules differ enough across the day to change the answer; walking and
// light-rail queries omit it for better recall.
func (c *Client) JourneyDurations(ctx context.Context, fromID, toID, mode string) ([]int, error) {
	q := url.Values{}
	if mode != "" {
		q.Set("mode", mode)
	}
	if journeyNeedsDate(mode) {
		d := nextWeekdayMorning(time.Now())
		q.Set("date", d.Format("20060102"))
		q.Set("time", "0900")
	}
	u := fmt.Sprintf("%s/journey/journeyresults/%s/to/%s",
		c.cfg.BaseURL, url.PathEscape(fromID), url.PathEscape(toID))
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	body, err := c.get(ctx, familyJourney, u, c.cfg.JourneyDeadline, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s to %s", ErrNoJourney, fromID, toID)
		}
		return nil, err
	}

	var res journeyResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: journey %s to %s: %v", ErrMalformed, fromID, toID, err)
	}

	durations := make([]int, 0, len(res.Journeys))
	for _, j := range res.Journeys {
		if j.Duration > 0 {
			durations = append(durations, j.Duration)
		}
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoJourney, fromID, toID)
	}
	return durations, nil
}

// journeyNeedsDate reports whether the mode's schedules vary enough across
// the day that the journey call must pin a date and time
func journeyNeedsDate(mode string) bool {
	switch mode {
	case "overground", "national-rail", "elizabeth-line":
		return true
	}
	return false
}

// nextWeekdayMorning returns the next Monday-Friday relative to now, used
// as the pinned travel date for heavy-rail journey queries
func nextWeekdayMorning(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// get performs a rate-limited GET with retries. cacheable responses are
// served from and written through the disk cache keyed by URL.
func (c *Client) get(ctx context.Context, family, rawURL string, deadline time.Duration, cacheable bool) ([]byte, error) {
	if cacheable && c.cache != nil {
		if body, ok := c.cache.Get(rawURL); ok {
			c.log.Debug("cache hit", "request_id", requestID(rawURL), "url", rawURL)
			return body, nil
		}
	}

	reqID := requestID(rawURL)
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiters[family].Wait(ctx); err != nil {
			return nil, fmt.Errorf("tfl: cancelled: %w", err)
		}

		body, err := c.doOnce(ctx, rawURL, deadline, reqID, attempt)
		if err == nil {
			if cacheable && c.cache != nil {
				if cerr := c.cache.Put(rawURL, body); cerr != nil {
					c.log.Warn("cache write failed", "request_id", reqID, "error", cerr)
				}
			}
			return body, nil
		}

		// Auth, not-found, malformed and cancellation are terminal;
		// everything else retries
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformed) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		backoff := backoffWithJitter(attempt)
		c.log.Warn("provider call failed, retrying",
			"request_id", reqID, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tfl: cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("%w: %d attempts exhausted: %v", ErrTransport, c.cfg.MaxAttempts, lastErr)
}

// doOnce performs a single HTTP round trip
func (c *Client) doOnce(ctx context.Context, rawURL string, deadline time.Duration, reqID string, attempt int) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if c.cfg.Token != "" {
		q := req.URL.Query()
		q.Set("app_key", c.cfg.Token)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", fmt.Sprintf("%s-%d", reqID, attempt))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status 429", ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformed, resp.StatusCode)
	}
}

// requestID derives a deterministic ID from the URL so retries and log
// lines for the same request correlate across runs
func requestID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%x", sum[:6])
}

// backoffWithJitter returns 2^(attempt-1) seconds (1s, 2s, 4s, ...) capped
// at 30s, with up to 25% random jitter
func backoffWithJitter(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second / 2
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 4))
	return base + jitter
}
