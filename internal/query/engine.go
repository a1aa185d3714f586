package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// JourneyPlanner is the slice of the provider client the refinement stage
// consumes
type JourneyPlanner interface {
	JourneyDuration(ctx context.Context, fromID, toID, mode string) (int, error)
}

// Engine answers meetup queries against a built graph: spatial filter,
// change-penalty Dijkstra estimate, provider-journey refinement, rank
type Engine struct {
	g       *graph.MultiGraph
	planner JourneyPlanner
	cfg     *config.Query
	log     *slog.Logger

	filter     *SpatialFilter
	pathfinder *Pathfinder
}

// ErrNoViableMeetup is returned when no candidate survives both stages
var ErrNoViableMeetup = fmt.Errorf("no viable meeting point for these starts")

// NewEngine creates a query engine over a loaded graph
func NewEngine(g *graph.MultiGraph, planner JourneyPlanner, cfg *config.Query, log *slog.Logger) *Engine {
	return &Engine{
		g:       g,
		planner: planner,
		cfg:     cfg,
		log:     log,
		filter: &SpatialFilter{
			EllipseExpansionFactor: cfg.EllipseExpansionFactor,
			HullBufferFraction:     cfg.HullBufferFraction,
			CoverageFraction:       cfg.CoverageFraction,
		},
		pathfinder: NewPathfinder(g, cfg.ChangePenaltyMinutes),
	}
}

// ResolveHub matches a user-entered hub name: exact match first, then
// unique case-insensitive prefix
func (e *Engine) ResolveHub(name string) (*models.Hub, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, fmt.Errorf("empty hub name")
	}

	var prefix []*models.Hub
	for _, h := range e.g.Hubs() {
		lower := strings.ToLower(h.Name)
		if lower == needle {
			return h, nil
		}
		if strings.HasPrefix(lower, needle) {
			prefix = append(prefix, h)
		}
	}
	switch len(prefix) {
	case 0:
		return nil, fmt.Errorf("no hub matches %q", name)
	case 1:
		return prefix[0], nil
	default:
		names := make([]string, 0, len(prefix))
		for _, h := range prefix {
			names = append(names, h.Name)
		}
		return nil, fmt.Errorf("hub name %q is ambiguous between: %s", name, strings.Join(names, ", "))
	}
}

// SearchHubs returns up to limit hubs whose names start with the query,
// case-insensitively
func (e *Engine) SearchHubs(q string, limit int) []*models.Hub {
	needle := strings.ToLower(strings.TrimSpace(q))
	var out []*models.Hub
	for _, h := range e.g.Hubs() {
		if strings.HasPrefix(strings.ToLower(h.Name), needle) {
			out = append(out, h)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// FindMeetup runs the full two-stage query. Each user's StartHub must be a
// hub ID already resolved by the caller; StartStationID defaults to the
// hub's primary naptan ID when empty.
func (e *Engine) FindMeetup(ctx context.Context, users []models.MeetupUser) (*models.MeetupResult, error) {
	if len(users) < 2 {
		return nil, fmt.Errorf("need at least 2 users, got %d", len(users))
	}

	starts := make([]*models.Hub, len(users))
	for i, u := range users {
		h, ok := e.g.Hub(u.StartHub)
		if !ok {
			return nil, fmt.Errorf("unknown start hub %q", u.StartHub)
		}
		starts[i] = h
		if users[i].StartStationID == "" {
			users[i].StartStationID = h.PrimaryNaptanID
		}
	}

	candidates := e.filter.Candidates(starts, e.g.Hubs())
	e.log.Debug("spatial filter complete", "candidates", len(candidates))

	estimated, err := e.estimate(ctx, users, starts, candidates)
	if err != nil {
		return nil, err
	}
	if len(estimated) == 0 {
		return nil, ErrNoViableMeetup
	}

	sort.Slice(estimated, func(i, j int) bool {
		return estimated[i].AverageMinutes < estimated[j].AverageMinutes
	})
	topK := estimated
	if len(topK) > e.cfg.TopKRefined {
		topK = topK[:e.cfg.TopKRefined]
	}

	refined, err := e.refine(ctx, users, topK)
	if err != nil {
		return nil, err
	}
	if len(refined) == 0 {
		return nil, ErrNoViableMeetup
	}

	sort.Slice(refined, func(i, j int) bool {
		return refined[i].TotalMinutes < refined[j].TotalMinutes
	})

	alternatives := refined[1:]
	if len(alternatives) > e.cfg.AlternativesReturned {
		alternatives = alternatives[:e.cfg.AlternativesReturned]
	}
	return &models.MeetupResult{Best: refined[0], Alternatives: alternatives}, nil
}

// estimate is the first ranking stage: one Dijkstra per user covers every
// candidate, then per-candidate costs aggregate across users. A candidate
// any user cannot reach is dropped.
func (e *Engine) estimate(ctx context.Context, users []models.MeetupUser, starts []*models.Hub, candidates []*models.Hub) ([]models.Candidate, error) {
	costs := make([]map[string]float64, len(users))

	g, _ := errgroup.WithContext(ctx)
	for i := range users {
		i := i
		g.Go(func() error {
			costs[i] = e.pathfinder.CostsFrom(starts[i].ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Candidate
	for _, c := range candidates {
		perUser := make([]float64, len(users))
		total := 0.0
		reachable := true
		for i, u := range users {
			cost, ok := costs[i][c.ID]
			if !ok {
				reachable = false
				break
			}
			perUser[i] = cost + float64(u.WalkMinutes)
			total += perUser[i]
		}
		if !reachable {
			continue
		}
		out = append(out, models.Candidate{
			HubID:          c.ID,
			Name:           c.Name,
			Lat:            c.Lat,
			Lon:            c.Lon,
			PerUserMinutes: perUser,
			TotalMinutes:   total,
			AverageMinutes: total / float64(len(users)),
		})
	}
	return out, nil
}

// refine is the second ranking stage: ask the journey planner for the real
// door-to-door duration of every (user, candidate) pair and re-aggregate.
// Any per-candidate failure makes that candidate's contribution infinite,
// removing it from the ranking.
func (e *Engine) refine(ctx context.Context, users []models.MeetupUser, candidates []models.Candidate) ([]models.Candidate, error) {
	type slot struct {
		candidate int
		user      int
	}

	results := make(map[slot]float64)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ConcurrencyJourney)

	for ci := range candidates {
		ci := ci
		hub, ok := e.g.Hub(candidates[ci].HubID)
		if !ok {
			continue
		}
		for ui := range users {
			ui := ui
			g.Go(func() error {
				minutes, err := e.planner.JourneyDuration(gctx, users[ui].StartStationID, hub.PrimaryNaptanID, "")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.log.Debug("refinement journey failed",
						"from", users[ui].StartStationID, "to", hub.PrimaryNaptanID, "error", err)
					results[slot{candidate: ci, user: ui}] = math.Inf(1)
					return nil
				}
				results[slot{candidate: ci, user: ui}] = float64(minutes) + float64(users[ui].WalkMinutes)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Candidate
	for ci, c := range candidates {
		perUser := make([]float64, len(users))
		total := 0.0
		viable := true
		for ui := range users {
			v := results[slot{candidate: ci, user: ui}]
			if math.IsInf(v, 1) {
				viable = false
				break
			}
			perUser[ui] = v
			total += v
		}
		if !viable {
			continue
		}
		c.PerUserMinutes = perUser
		c.TotalMinutes = total
		c.AverageMinutes = total / float64(len(users))
		out = append(out, c)
	}
	return out, nil
}
