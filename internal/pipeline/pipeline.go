package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// Provider is the slice of the TfL client the pipeline consumes
type Provider interface {
	LinesForModes(ctx context.Context, modes []string) ([]tfl.Line, error)
	LineRouteSequence(ctx context.Context, lineID, direction string) (*tfl.RouteSequence, error)
	StopsNear(ctx context.Context, lat, lon float64, radiusM int) ([]tfl.StopPoint, error)
	Timetable(ctx context.Context, lineID, fromStationID string) (*tfl.Timetable, error)
	JourneyDuration(ctx context.Context, fromID, toID, mode string) (int, error)
	JourneyDurations(ctx context.Context, fromID, toID, mode string) ([]int, error)
}

// buildModes are the line modes the graph covers
var buildModes = []string{
	string(models.ModeTube),
	string(models.ModeDLR),
	string(models.ModeOverground),
	string(models.ModeElizabeth),
	string(models.ModeRail),
}

// Pipeline runs the eight build stages in order, each consuming the
// previous stage's artifact. A stage failure halts the run; no partial
// final artifact is ever written.
type Pipeline struct {
	provider Provider
	cfg      *config.Build
	log      *slog.Logger

	graph      *graph.MultiGraph
	pairs      []models.TransferPair
	records    []models.WeightRecord
	stationHub map[string]string // constituent station ID -> hub ID

	// Curated constants, replaceable in tests
	terminals map[string][]string
	fallbacks []fallbackEdge
}

// New creates a pipeline
func New(provider Provider, cfg *config.Build, log *slog.Logger) *Pipeline {
	return &Pipeline{
		provider:  provider,
		cfg:       cfg,
		log:       log,
		graph:     graph.New(),
		terminals: terminalStations,
		fallbacks: timetableFallbacks,
	}
}

// Artifact paths under the data directory
func (p *Pipeline) baseGraphPath() string {
	return filepath.Join(p.cfg.DataDir, "base_graph.json")
}

func (p *Pipeline) transferPairsPath() string {
	return filepath.Join(p.cfg.DataDir, "transfer_pairs.json")
}

func (p *Pipeline) timetableDir() string {
	return filepath.Join(p.cfg.DataDir, "timetables")
}

func (p *Pipeline) weightsPath() string {
	return filepath.Join(p.cfg.DataDir, "calculated_weights.json")
}

func (p *Pipeline) finalGraphPath() string {
	return filepath.Join(p.cfg.DataDir, "final_graph.json")
}

func (p *Pipeline) validationReportPath() string {
	return filepath.Join(p.cfg.DataDir, "validation_report.json")
}

// Run executes stages 1-8. Cancellation is checked before each stage: once
// ctx is cancelled no further stage starts, so the final artifact is only
// written if stage 8 began before the cancellation. Provider calls carry
// ctx and are aborted by it rather than run to completion, and artifacts
// already written under the data directory, including those of a stage
// interrupted mid-way, are left in place.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"base hub graph", p.buildBaseGraph},
		{"proximity transfers", p.discoverTransfers},
		{"transfer weights", p.weighTransfers},
		{"timetable fetch", p.fetchTimetables},
		{"timetabled line weights", p.calculateTimetabledWeights},
		{"journey line weights", p.calculateJourneyWeights},
		{"validation gate", p.validate},
		{"graph merge", p.merge},
	}

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline cancelled before stage %d: %w", i+1, err)
		}
		stageStart := time.Now()
		p.log.Info("stage starting", "stage", i+1, "name", stage.name)
		if err := stage.fn(ctx); err != nil {
			return fmt.Errorf("stage %d (%s) failed: %w", i+1, stage.name, err)
		}
		p.log.Info("stage complete", "stage", i+1, "name", stage.name,
			"elapsed", time.Since(stageStart).Round(time.Millisecond))
	}

	p.log.Info("pipeline complete",
		"hubs", p.graph.HubCount(),
		"edges", p.graph.EdgeCount(),
		"elapsed", time.Since(started).Round(time.Second))
	return nil
}

// malformedCounter tracks per-stage malformed sub-records. A stage halts
// once malformed records exceed 1% of those seen.
type malformedCounter struct {
	stage     string
	total     int
	malformed int
}

func (m *malformedCounter) seen()    { m.total++ }
func (m *malformedCounter) invalid() { m.malformed++; m.total++ }

// check returns an error when the malformed share breaches the 1% gate
func (m *malformedCounter) check() error {
	if m.total >= 100 && float64(m.malformed) > 0.01*float64(m.total) {
		return fmt.Errorf("%s: %d of %d records malformed, exceeding 1%% gate", m.stage, m.malformed, m.total)
	}
	return nil
}

// report logs the counter at stage end
func (m *malformedCounter) report(log *slog.Logger) {
	if m.malformed > 0 {
		log.Warn("malformed records skipped", "stage", m.stage, "malformed", m.malformed, "total", m.total)
	}
}

// saveJSON writes v as indented JSON to path atomically
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return graph.WriteFileAtomic(path, data)
}

// loadJSON reads JSON from path into v
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
