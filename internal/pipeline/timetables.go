package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// timetableCacheFile is the per-line timetable artifact: one fetch per
// terminal the line was queried from. The union across fetches is computed
// at processing time in stage 5.
type timetableCacheFile struct {
	LineID  string           `json:"line_id"`
	Fetches []timetableFetch `json:"fetches"`
}

type timetableFetch struct {
	FromStationID string         `json:"from_station_id"`
	CalculatedAt  string         `json:"calculated_at"`
	Timetable     *tfl.Timetable `json:"timetable"`
}

func (p *Pipeline) timetablePath(lineID string) string {
	return filepath.Join(p.timetableDir(), lineID+".json")
}

// fetchTimetables is stage 4: query the timetable endpoint for every
// timetabled line from each of its curated terminals and cache the raw
// responses per line
func (p *Pipeline) fetchTimetables(ctx context.Context) error {
	lineIDs := make([]string, 0, len(p.terminals))
	for lineID := range p.terminals {
		lineIDs = append(lineIDs, lineID)
	}
	sort.Strings(lineIDs)

	var mu sync.Mutex
	files := make(map[string]*timetableCacheFile)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ConcurrencyTimetable)

	for _, lineID := range lineIDs {
		lineID := lineID
		for _, terminal := range p.terminals[lineID] {
			terminal := terminal
			g.Go(func() error {
				tt, err := p.provider.Timetable(gctx, lineID, terminal)
				if err != nil {
					p.log.Warn("timetable unavailable",
						"line", lineID, "terminal", terminal, "error", err)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				file, ok := files[lineID]
				if !ok {
					file = &timetableCacheFile{LineID: lineID}
					files[lineID] = file
				}
				file.Fetches = append(file.Fetches, timetableFetch{
					FromStationID: terminal,
					CalculatedAt:  time.Now().UTC().Format(time.RFC3339),
					Timetable:     tt,
				})
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for lineID, file := range files {
		sort.Slice(file.Fetches, func(i, j int) bool {
			return file.Fetches[i].FromStationID < file.Fetches[j].FromStationID
		})
		if err := saveJSON(p.timetablePath(lineID), file); err != nil {
			return fmt.Errorf("failed to save timetable cache for %s: %w", lineID, err)
		}
	}

	p.log.Info("timetables cached", "lines", len(files))
	return nil
}

// calculateTimetabledWeights is stage 5: derive per-edge averaged durations
// for the timetabled modes from the cached schedules, then weight the
// allow-listed edges timetables never represent via the journey endpoint
func (p *Pipeline) calculateTimetabledWeights(ctx context.Context) error {
	counter := &malformedCounter{stage: "timetabled line weights"}

	// (line, from hub, to hub) -> observed segment durations
	type segmentKey struct {
		line string
		from string
		to   string
	}
	segments := make(map[segmentKey][]float64)

	lineIDs := make([]string, 0, len(p.terminals))
	for lineID := range p.terminals {
		lineIDs = append(lineIDs, lineID)
	}
	sort.Strings(lineIDs)

	for _, lineID := range lineIDs {
		var file timetableCacheFile
		if err := loadJSON(p.timetablePath(lineID), &file); err != nil {
			p.log.Warn("timetable cache missing", "line", lineID, "error", err)
			continue
		}

		for _, fetch := range file.Fetches {
			if fetch.Timetable == nil {
				counter.invalid()
				continue
			}
			for _, route := range fetch.Timetable.Routes {
				for _, set := range route.StationIntervals {
					// The queried terminal is the implicit first stop at offset 0
					stops := make([]tfl.StationInterval, 0, len(set.Intervals)+1)
					stops = append(stops, tfl.StationInterval{StopID: fetch.FromStationID, TimeToArrival: 0})
					stops = append(stops, set.Intervals...)

					for i := 0; i+1 < len(stops); i++ {
						counter.seen()
						fromHub, okA := p.stationHub[stops[i].StopID]
						toHub, okB := p.stationHub[stops[i+1].StopID]
						if !okA || !okB {
							counter.invalid()
							continue
						}
						if fromHub == toHub {
							continue
						}
						if _, ok := p.graph.Edge(fromHub, toHub, lineID); !ok {
							continue
						}
						d := stops[i+1].TimeToArrival - stops[i].TimeToArrival
						segments[segmentKey{line: lineID, from: fromHub, to: toHub}] = append(
							segments[segmentKey{line: lineID, from: fromHub, to: toHub}], d)
					}
				}
			}
		}

		if err := counter.check(); err != nil {
			return err
		}
	}
	counter.report(p.log)

	keys := make([]segmentKey, 0, len(segments))
	for k := range segments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].line != keys[j].line {
			return keys[i].line < keys[j].line
		}
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	now := time.Now().UTC().Format(time.RFC3339)
	for _, k := range keys {
		mean, spread, ok := reduceDurations(segments[k])
		if !ok {
			p.log.Warn("no usable durations for edge", "line", k.line, "from", k.from, "to", k.to)
			continue
		}
		if spread > 2.0 {
			p.log.Warn("timetable durations disagree",
				"line", k.line, "from", k.from, "to", k.to, "spread_minutes", spread)
		}
		edge, _ := p.graph.Edge(k.from, k.to, k.line)
		p.records = append(p.records, models.WeightRecord{
			Source:              k.from,
			Target:              k.to,
			Line:                k.line,
			Mode:                edge.Mode,
			DurationMinutes:     mean,
			CalculatedTimestamp: now,
		})
	}

	if err := p.weighFallbackEdges(ctx); err != nil {
		return err
	}

	p.log.Info("timetabled weights calculated", "records", len(p.records))
	return nil
}

// weighFallbackEdges weights the allow-listed edges that timetables are
// structurally missing, using the journey endpoint in the edge's mode
func (p *Pipeline) weighFallbackEdges(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)

	for _, fb := range p.fallbacks {
		edge, ok := p.graph.Edge(fb.Source, fb.Target, fb.Line)
		if !ok {
			continue
		}
		if p.hasRecord(fb.Source, fb.Target, fb.Line) {
			continue
		}

		fromHub, _ := p.graph.Hub(fb.Source)
		toHub, _ := p.graph.Hub(fb.Target)
		durations, err := p.provider.JourneyDurations(ctx, fromHub.PrimaryNaptanID, toHub.PrimaryNaptanID, edge.Mode)
		if err != nil {
			p.log.Warn("fallback journey unavailable",
				"line", fb.Line, "from", fb.Source, "to", fb.Target, "error", err)
			continue
		}

		values := make([]float64, 0, len(durations))
		for _, d := range durations {
			values = append(values, float64(d))
		}
		mean, _, ok := reduceDurations(values)
		if !ok {
			continue
		}
		p.records = append(p.records, models.WeightRecord{
			Source:              fb.Source,
			Target:              fb.Target,
			Line:                fb.Line,
			Mode:                edge.Mode,
			DurationMinutes:     mean,
			CalculatedTimestamp: now,
		})
	}
	return nil
}

// hasRecord reports whether a weight record already exists for the edge
func (p *Pipeline) hasRecord(source, target, line string) bool {
	for _, r := range p.records {
		if r.Source == source && r.Target == target && r.Line == line {
			return true
		}
	}
	return false
}

// reduceDurations drops non-positive observations, clamps the rest to a
// 0.1-minute floor, and returns the mean rounded to one decimal plus the
// max-min spread. ok is false when nothing usable remains.
func reduceDurations(durations []float64) (mean, spread float64, ok bool) {
	var kept []float64
	for _, d := range durations {
		if d <= 0 {
			continue
		}
		if d < 0.1 {
			d = 0.1
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return 0, 0, false
	}

	min, max, sum := kept[0], kept[0], 0.0
	for _, d := range kept {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	mean = math.Round(sum/float64(len(kept))*10) / 10
	return mean, max - min, true
}
