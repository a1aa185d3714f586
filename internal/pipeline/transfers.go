package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leatham22/Friend-convenient-meetup/internal/geo"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// discoverTransfers is stage 2: for every hub, find nearby stops belonging
// to a different hub and add null-weighted walking-transfer edges in both
// directions wherever no line edge already connects the pair. Each
// unordered pair is recorded once for stage 3 to weight.
func (p *Pipeline) discoverTransfers(ctx context.Context) error {
	hubs := p.graph.Hubs()

	var mu sync.Mutex
	pairSet := make(map[string]models.TransferPair)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ConcurrencySequence)

	for _, hub := range hubs {
		hub := hub
		g.Go(func() error {
			stops, err := p.provider.StopsNear(gctx, hub.Lat, hub.Lon, p.cfg.ProximityRadiusM)
			if err != nil {
				p.log.Warn("proximity lookup failed", "hub", hub.ID, "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			p.ingestNearby(hub, stops, pairSet)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	p.pairs = p.pairs[:0]
	for _, pair := range pairSet {
		p.pairs = append(p.pairs, pair)
	}
	sort.Slice(p.pairs, func(i, j int) bool {
		if p.pairs[i].HubA != p.pairs[j].HubA {
			return p.pairs[i].HubA < p.pairs[j].HubA
		}
		return p.pairs[i].HubB < p.pairs[j].HubB
	})

	if err := saveJSON(p.transferPairsPath(), p.pairs); err != nil {
		return fmt.Errorf("failed to save transfer pairs: %w", err)
	}

	p.log.Info("transfer pairs discovered", "pairs", len(p.pairs))
	return nil
}

// ingestNearby adds transfer edges from one hub's proximity result.
// Duplicate pair additions are no-ops, so concurrent discovery from both
// ends of a pair converges on a single record.
func (p *Pipeline) ingestNearby(hub *models.Hub, stops []tfl.StopPoint, pairSet map[string]models.TransferPair) {
	for _, sp := range stops {
		// The endpoint may return entries outside the requested radius
		if geo.HaversineDistance(hub.Lat, hub.Lon, sp.Lat, sp.Lon) > float64(p.cfg.ProximityRadiusM) {
			continue
		}

		otherID := sp.TopMostParentID
		if otherID == "" {
			otherID = sp.ID
		}
		if otherID == hub.ID {
			continue
		}
		other, ok := p.graph.Hub(otherID)
		if !ok {
			continue
		}
		if p.graph.HasLineEdge(hub.ID, other.ID) {
			continue
		}

		p.graph.AddEdge(transferEdge(hub.ID, other.ID, nil))
		p.graph.AddEdge(transferEdge(other.ID, hub.ID, nil))

		a, b := hub, other
		if b.ID < a.ID {
			a, b = b, a
		}
		key := a.ID + "|" + b.ID
		if _, seen := pairSet[key]; !seen {
			pairSet[key] = models.TransferPair{
				HubA:         a.ID,
				HubB:         b.ID,
				PrimaryA:     a.PrimaryNaptanID,
				PrimaryB:     b.PrimaryNaptanID,
				DiscoveredAt: time.Now().UTC().Format(time.RFC3339),
			}
		}
	}
}

// transferEdge builds one directed walking-transfer edge
func transferEdge(source, target string, weight *float64) *models.Edge {
	return &models.Edge{
		Source:    source,
		Target:    target,
		Key:       models.TransferKey,
		Line:      "walking",
		LineName:  "walking",
		Mode:      string(models.ModeWalking),
		Direction: string(models.DirectionUnknown),
		Transfer:  true,
		Weight:    weight,
	}
}

// weighTransfers is stage 3: ask the journey planner for the walking time
// of every recorded pair and write it onto both directed transfer edges.
// Pairs with no usable response keep a null weight and are left to the
// gate's pruning policy.
func (p *Pipeline) weighTransfers(ctx context.Context) error {
	if len(p.pairs) == 0 {
		if err := loadJSON(p.transferPairsPath(), &p.pairs); err != nil {
			return fmt.Errorf("no transfer pairs in memory or on disk: %w", err)
		}
	}

	var mu sync.Mutex
	missing := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ConcurrencyJourney)

	for _, pair := range p.pairs {
		pair := pair
		g.Go(func() error {
			minutes, err := p.provider.JourneyDuration(gctx, pair.PrimaryA, pair.PrimaryB, string(models.ModeWalking))
			if err != nil {
				if errors.Is(err, tfl.ErrAuth) {
					return err
				}
				mu.Lock()
				missing++
				mu.Unlock()
				p.log.Warn("transfer weight unavailable",
					"from", pair.HubA, "to", pair.HubB, "error", err)
				return nil
			}

			w := float64(minutes)
			mu.Lock()
			defer mu.Unlock()
			if e, ok := p.graph.Edge(pair.HubA, pair.HubB, models.TransferKey); ok {
				e.Weight = &w
			}
			if e, ok := p.graph.Edge(pair.HubB, pair.HubA, models.TransferKey); ok {
				e.Weight = &w
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if missing > 0 {
		p.log.Warn("transfer pairs left unweighted", "count", missing)
	}

	if err := p.graph.WriteFile(p.baseGraphPath()); err != nil {
		return fmt.Errorf("failed to save base graph: %w", err)
	}
	return nil
}
