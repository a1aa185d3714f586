package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// journeyWeightedModes are weighted per edge via the journey endpoint
// because their timetable data is absent or unusable
var journeyWeightedModes = map[string]bool{
	string(models.ModeOverground): true,
	string(models.ModeElizabeth):  true,
	string(models.ModeRail):       true,
}

// calculateJourneyWeights is stage 6: weight every still-unweighted line
// edge of the journey-weighted modes by querying the planner in both
// directions independently. The consolidated calculated-weights artifact
// is written at the end, covering stage 5 and stage 6 records.
func (p *Pipeline) calculateJourneyWeights(ctx context.Context) error {
	var targets []*models.Edge
	for _, e := range p.graph.Edges() {
		if e.Transfer || !journeyWeightedModes[e.Mode] {
			continue
		}
		if p.hasRecord(e.Source, e.Target, e.Line) {
			continue
		}
		targets = append(targets, e)
	}

	var mu sync.Mutex
	now := time.Now().UTC().Format(time.RFC3339)
	missing := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ConcurrencyJourney)

	for _, edge := range targets {
		edge := edge
		g.Go(func() error {
			fromHub, _ := p.graph.Hub(edge.Source)
			toHub, _ := p.graph.Hub(edge.Target)

			durations, err := p.provider.JourneyDurations(gctx, fromHub.PrimaryNaptanID, toHub.PrimaryNaptanID, edge.Mode)
			if err != nil {
				if errors.Is(err, tfl.ErrAuth) {
					return err
				}
				mu.Lock()
				missing++
				mu.Unlock()
				p.log.Warn("journey weight unavailable",
					"line", edge.Line, "from", edge.Source, "to", edge.Target, "error", err)
				return nil
			}

			minutes := meanAfterOutlierDrop(durations)
			if minutes < 1.0 {
				minutes = 1.0
			}

			mu.Lock()
			defer mu.Unlock()
			p.records = append(p.records, models.WeightRecord{
				Source:              edge.Source,
				Target:              edge.Target,
				Line:                edge.Line,
				Mode:                edge.Mode,
				DurationMinutes:     minutes,
				CalculatedTimestamp: now,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if missing > 0 {
		p.log.Warn("journey-weighted edges left without records", "count", missing)
	}

	sort.Slice(p.records, func(i, j int) bool {
		if p.records[i].Source != p.records[j].Source {
			return p.records[i].Source < p.records[j].Source
		}
		if p.records[i].Target != p.records[j].Target {
			return p.records[i].Target < p.records[j].Target
		}
		return p.records[i].Line < p.records[j].Line
	})
	if err := saveJSON(p.weightsPath(), p.records); err != nil {
		return fmt.Errorf("failed to save calculated weights: %w", err)
	}

	p.log.Info("journey weights calculated", "edges", len(targets), "missing", missing)
	return nil
}

// meanAfterOutlierDrop averages the durations after discarding values
// whose deviation from the median exceeds twice the median absolute
// deviation, rounded to one decimal
func meanAfterOutlierDrop(durations []int) float64 {
	values := make([]float64, len(durations))
	for i, d := range durations {
		values[i] = float64(d)
	}

	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)

	var kept []float64
	for _, v := range values {
		if mad > 0 && math.Abs(v-med) > 2*mad {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		kept = values
	}

	sum := 0.0
	for _, v := range kept {
		sum += v
	}
	return math.Round(sum/float64(len(kept))*10) / 10
}

func median(values []float64) float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
