package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// sequenceDirections are fetched per line; both are needed because branch
// runs differ between directions
var sequenceDirections = []string{
	string(models.DirectionInbound),
	string(models.DirectionOutbound),
}

// buildBaseGraph is stage 1: fetch route sequences for every line of the
// configured modes, group stations into hubs by top-most parent ID, and
// emit null-weighted directed line edges between consecutive hubs.
func (p *Pipeline) buildBaseGraph(ctx context.Context) error {
	lines, err := p.provider.LinesForModes(ctx, buildModes)
	if err != nil {
		return fmt.Errorf("failed to list lines: %w", err)
	}
	p.log.Info("lines discovered", "count", len(lines))

	counter := &malformedCounter{stage: "base hub graph"}
	var mu sync.Mutex // guards counter and stationHub alongside graph upserts

	if p.stationHub == nil {
		p.stationHub = make(map[string]string)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ConcurrencySequence)

	for _, line := range lines {
		line := line
		for _, direction := range sequenceDirections {
			direction := direction
			g.Go(func() error {
				seq, err := p.provider.LineRouteSequence(gctx, line.ID, direction)
				if err != nil {
					// A line with no sequence in one direction is a data
					// gap, not a build failure
					p.log.Warn("sequence unavailable",
						"line", line.ID, "direction", direction, "error", err)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				p.ingestSequence(line, direction, seq, counter)
				return counter.check()
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	counter.report(p.log)

	applyCorrections(p.graph, p.log)

	if p.graph.HubCount() == 0 {
		return fmt.Errorf("no hubs built from sequence data")
	}
	if err := p.graph.Validate(); err != nil {
		return fmt.Errorf("base graph invariant violated: %w", err)
	}

	p.log.Info("base graph built", "hubs", p.graph.HubCount(), "edges", p.graph.EdgeCount())
	return nil
}

// ingestSequence folds one direction's branch runs into the graph
func (p *Pipeline) ingestSequence(line tfl.Line, direction string, seq *tfl.RouteSequence, counter *malformedCounter) {
	for _, branch := range seq.StopPointSequences {
		branchTag := strconv.Itoa(branch.BranchID)

		var prevHub string
		for _, sp := range branch.StopPoint {
			counter.seen()
			if sp.ID == "" || sp.Lat == 0 || sp.Lon == 0 {
				counter.invalid()
				prevHub = ""
				continue
			}

			hubID := sp.TopMostParentID
			if hubID == "" {
				hubID = sp.ID
			}
			p.stationHub[sp.ID] = hubID

			var zone *string
			if sp.Zone != "" {
				z := sp.Zone
				zone = &z
			}
			p.graph.UpsertHub(hubID, cleanStationName(sp.Name), sp.Lat, sp.Lon, zone,
				models.TransitMode(line.Mode), line.ID,
				models.Station{Name: sp.Name, NaptanID: sp.ID})

			if prevHub != "" && prevHub != hubID {
				b := branchTag
				p.graph.AddEdge(&models.Edge{
					Source:    prevHub,
					Target:    hubID,
					Key:       line.ID,
					Line:      line.ID,
					LineName:  line.Name,
					Mode:      line.Mode,
					Direction: direction,
					Branch:    &b,
				})
			}
			prevHub = hubID
		}
	}
}

// cleanStationName strips the provider's station-type suffixes so hub
// display names read like the place, not the asset register
func cleanStationName(name string) string {
	for _, suffix := range []string{
		" Underground Station",
		" Rail Station",
		" DLR Station",
		" (London) Rail Station",
	} {
		name = strings.TrimSuffix(name, suffix)
	}
	return strings.TrimSpace(name)
}
