package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

// fakeProvider scripts a two-line network:
//
//	lineA (tube):       S1 -> {S2,S2y} -> S3   (S2, S2x, S2y share hub H2)
//	lineB (overground): S2x -> S4
//
// S1 and S4 sit ~180m apart with no line edge, so stages 2-3 connect them
// with a 3-minute walking transfer.
type fakeProvider struct{}

var fakeStops = map[string]tfl.StopPoint{
	"S1":  {ID: "S1", Name: "Alpha", Lat: 51.5000, Lon: -0.1000, Modes: []string{"tube"}},
	"S2":  {ID: "S2", Name: "Hub Two", Lat: 51.5100, Lon: -0.1000, TopMostParentID: "H2", Modes: []string{"tube"}},
	"S2x": {ID: "S2x", Name: "Hub Two", Lat: 51.5101, Lon: -0.1001, TopMostParentID: "H2", Modes: []string{"overground"}},
	"S2y": {ID: "S2y", Name: "Hub Two", Lat: 51.5099, Lon: -0.0999, TopMostParentID: "H2", Modes: []string{"tube"}},
	"S3":  {ID: "S3", Name: "Gamma", Lat: 51.5200, Lon: -0.1000, Modes: []string{"tube"}},
	"S4":  {ID: "S4", Name: "Delta", Lat: 51.5015, Lon: -0.1010, Modes: []string{"overground"}},
}

func stops(ids ...string) []tfl.StopPoint {
	out := make([]tfl.StopPoint, len(ids))
	for i, id := range ids {
		out[i] = fakeStops[id]
	}
	return out
}

func (f *fakeProvider) LinesForModes(_ context.Context, _ []string) ([]tfl.Line, error) {
	return []tfl.Line{
		{ID: "lineA", Name: "Line A", Mode: "tube"},
		{ID: "lineB", Name: "Line B", Mode: "overground"},
	}, nil
}

func (f *fakeProvider) LineRouteSequence(_ context.Context, lineID, direction string) (*tfl.RouteSequence, error) {
	runs := map[string]map[string][]string{
		"lineA": {
			"inbound":  {"S1", "S2", "S3"},
			"outbound": {"S3", "S2y", "S1"},
		},
		"lineB": {
			"inbound":  {"S2x", "S4"},
			"outbound": {"S4", "S2x"},
		},
	}
	run, ok := runs[lineID][direction]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", tfl.ErrNotFound, lineID, direction)
	}
	return &tfl.RouteSequence{
		LineID:    lineID,
		Direction: direction,
		StopPointSequences: []tfl.StopPointSequence{
			{BranchID: 0, Direction: direction, StopPoint: stops(run...)},
		},
	}, nil
}

func (f *fakeProvider) StopsNear(_ context.Context, lat, lon float64, _ int) ([]tfl.StopPoint, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	switch key {
	case "51.5000,-0.1000": // S1
		return stops("S4"), nil
	case "51.5015,-0.1010": // S4
		return stops("S1"), nil
	}
	return nil, nil
}

func (f *fakeProvider) Timetable(_ context.Context, lineID, fromStationID string) (*tfl.Timetable, error) {
	intervals := map[string][]tfl.StationInterval{
		"S1": {{StopID: "S2", TimeToArrival: 2}, {StopID: "S3", TimeToArrival: 5}},
		"S3": {{StopID: "S2y", TimeToArrival: 3}, {StopID: "S1", TimeToArrival: 5}},
	}
	iv, ok := intervals[fromStationID]
	if !ok || lineID != "lineA" {
		return nil, fmt.Errorf("%w: timetable %s from %s", tfl.ErrNotFound, lineID, fromStationID)
	}
	return &tfl.Timetable{
		LineID: lineID,
		Routes: []tfl.TimetableRoute{
			{StationIntervals: []tfl.StationIntervalSet{{ID: "0", Intervals: iv}}},
		},
	}, nil
}

// hubOf normalises any constituent station to its hub's journey identity
func hubOf(id string) string {
	if sp, ok := fakeStops[id]; ok && sp.TopMostParentID != "" {
		return sp.TopMostParentID
	}
	return id
}

func (f *fakeProvider) JourneyDurations(_ context.Context, fromID, toID, mode string) ([]int, error) {
	from, to := hubOf(fromID), hubOf(toID)

	if mode == string(models.ModeWalking) {
		if (from == "S1" && to == "S4") || (from == "S4" && to == "S1") {
			return []int{3}, nil
		}
		return nil, fmt.Errorf("%w: %s to %s", tfl.ErrNoJourney, fromID, toID)
	}
	if (from == "H2" && to == "S4") || (from == "S4" && to == "H2") {
		// The 40 is an outlier the MAD filter must drop
		return []int{10, 12, 40}, nil
	}
	return nil, fmt.Errorf("%w: %s to %s", tfl.ErrNoJourney, fromID, toID)
}

func (f *fakeProvider) JourneyDuration(ctx context.Context, fromID, toID, mode string) (int, error) {
	durations, err := f.JourneyDurations(ctx, fromID, toID, mode)
	if err != nil {
		return 0, err
	}
	return durations[0], nil
}

func testPipeline(t *testing.T, dataDir string) *Pipeline {
	t.Helper()
	cfg := &config.Build{
		APIToken:             "test",
		DataDir:              dataDir,
		ConcurrencySequence:  1,
		ConcurrencyJourney:   1,
		ConcurrencyTimetable: 1,
		ProximityRadiusM:     250,
		SequenceDeadline:     time.Second,
		TimetableDeadline:    time.Second,
		JourneyDeadline:      time.Second,
		MaxAttempts:          2,
	}
	p := New(&fakeProvider{}, cfg, slog.Default())
	p.terminals = map[string][]string{"lineA": {"S1", "S3"}}
	p.fallbacks = nil
	return p
}

func TestPipelineRun(t *testing.T) {
	dataDir := t.TempDir()
	p := testPipeline(t, dataDir)
	require.NoError(t, p.Run(context.Background()))

	final, err := graph.LoadFile(p.finalGraphPath())
	require.NoError(t, err)

	t.Run("stations sharing a parent merge into one hub", func(t *testing.T) {
		h, ok := final.Hub("H2")
		require.True(t, ok)
		assert.Len(t, h.ConstituentStations, 3)
		assert.ElementsMatch(t, []string{"tube", "overground"}, h.Modes)
		assert.ElementsMatch(t, []string{"lineA", "lineB"}, h.Lines)
	})

	t.Run("timetable segments weight the tube edges", func(t *testing.T) {
		e, ok := final.Edge("S1", "H2", "lineA")
		require.True(t, ok)
		require.NotNil(t, e.Weight)
		assert.Equal(t, 2.0, *e.Weight)

		e, ok = final.Edge("H2", "S3", "lineA")
		require.True(t, ok)
		require.NotNil(t, e.Weight)
		assert.Equal(t, 3.0, *e.Weight)
	})

	t.Run("journey weights cover the overground edges with outliers dropped", func(t *testing.T) {
		for _, dir := range [][2]string{{"H2", "S4"}, {"S4", "H2"}} {
			e, ok := final.Edge(dir[0], dir[1], "lineB")
			require.True(t, ok)
			require.NotNil(t, e.Weight)
			assert.Equal(t, 11.0, *e.Weight)
		}
	})

	t.Run("walking transfer carries the journey duration in both directions", func(t *testing.T) {
		for _, dir := range [][2]string{{"S1", "S4"}, {"S4", "S1"}} {
			e, ok := final.Edge(dir[0], dir[1], models.TransferKey)
			require.True(t, ok)
			assert.True(t, e.Transfer)
			require.NotNil(t, e.Weight)
			assert.Equal(t, 3.0, *e.Weight)
		}
	})

	t.Run("no edge is left unweighted", func(t *testing.T) {
		for _, e := range final.Edges() {
			assert.NotNil(t, e.Weight, "edge %s->%s [%s]", e.Source, e.Target, e.Key)
		}
	})

	t.Run("transfer pair is recorded once", func(t *testing.T) {
		var pairs []models.TransferPair
		require.NoError(t, loadJSON(p.transferPairsPath(), &pairs))
		assert.Len(t, pairs, 1)
	})
}

func TestPipelineIdempotence(t *testing.T) {
	run := func(dataDir string) []byte {
		p := testPipeline(t, dataDir)
		require.NoError(t, p.Run(context.Background()))
		final, err := graph.LoadFile(p.finalGraphPath())
		require.NoError(t, err)
		data, err := final.MarshalNodeLink()
		require.NoError(t, err)
		return data
	}

	first := run(t.TempDir())
	second := run(t.TempDir())
	assert.Equal(t, string(first), string(second))
}

func TestValidationGateHaltsOnBadDuration(t *testing.T) {
	dataDir := t.TempDir()
	p := testPipeline(t, dataDir)

	ctx := context.Background()
	require.NoError(t, p.buildBaseGraph(ctx))
	require.NoError(t, p.discoverTransfers(ctx))
	require.NoError(t, p.weighTransfers(ctx))
	require.NoError(t, p.fetchTimetables(ctx))
	require.NoError(t, p.calculateTimetabledWeights(ctx))
	require.NoError(t, p.calculateJourneyWeights(ctx))

	// Corrupt one record the way a bad provider response would
	for i := range p.records {
		if p.records[i].Source == "S1" && p.records[i].Line == "lineA" {
			p.records[i].DurationMinutes = 250
		}
	}

	err := p.validate(ctx)
	require.Error(t, err)

	var report validationReport
	require.NoError(t, loadJSON(p.validationReportPath(), &report))
	require.NotEmpty(t, report.BadDurations)
	assert.Contains(t, report.BadDurations[0], "S1|H2|lineA")

	// The final artifact must not exist
	_, statErr := os.Stat(p.finalGraphPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidationGateCatchesOrphanRecords(t *testing.T) {
	dataDir := t.TempDir()
	p := testPipeline(t, dataDir)

	ctx := context.Background()
	require.NoError(t, p.buildBaseGraph(ctx))
	require.NoError(t, p.discoverTransfers(ctx))
	require.NoError(t, p.weighTransfers(ctx))
	require.NoError(t, p.fetchTimetables(ctx))
	require.NoError(t, p.calculateTimetabledWeights(ctx))
	require.NoError(t, p.calculateJourneyWeights(ctx))

	p.records = append(p.records, models.WeightRecord{
		Source: "NOPE", Target: "ALSO-NOPE", Line: "lineA", Mode: "tube",
		DurationMinutes: 2, CalculatedTimestamp: time.Now().UTC().Format(time.RFC3339),
	})

	err := p.validate(ctx)
	require.Error(t, err)

	var report validationReport
	require.NoError(t, loadJSON(p.validationReportPath(), &report))
	assert.NotEmpty(t, report.OrphanRecords)
}

func TestApplyCorrections(t *testing.T) {
	t.Run("ensure reverse adds the missing loop edge", func(t *testing.T) {
		g := graph.New()
		g.UpsertHub("940GZZLUKSX", "King's Cross", 51.530, -0.123, nil,
			models.ModeTube, "circle", models.Station{Name: "KXX", NaptanID: "940GZZLUKSX"})
		g.UpsertHub("940GZZLUESQ", "Euston Square", 51.525, -0.135, nil,
			models.ModeTube, "circle", models.Station{Name: "ESQ", NaptanID: "940GZZLUESQ"})
		g.AddEdge(&models.Edge{Source: "940GZZLUKSX", Target: "940GZZLUESQ", Key: "circle", Line: "circle", Mode: "tube"})

		applyCorrections(g, slog.Default())

		_, ok := g.Edge("940GZZLUESQ", "940GZZLUKSX", "circle")
		assert.True(t, ok)
	})

	t.Run("remove line drops membership and edges", func(t *testing.T) {
		g := graph.New()
		g.UpsertHub("HUBPAD", "Paddington", 51.517, -0.177, nil,
			models.ModeTube, "bakerloo", models.Station{Name: "PAD", NaptanID: "940GZZLUPAC"})
		g.UpsertHub("X", "Other", 51.52, -0.17, nil,
			models.ModeTube, "bakerloo", models.Station{Name: "X", NaptanID: "X"})
		g.AddEdge(&models.Edge{Source: "HUBPAD", Target: "X", Key: "bakerloo", Line: "bakerloo", Mode: "tube"})

		applyCorrections(g, slog.Default())

		h, _ := g.Hub("HUBPAD")
		assert.False(t, h.HasLine("bakerloo"))
		_, ok := g.Edge("HUBPAD", "X", "bakerloo")
		assert.False(t, ok)
	})

	t.Run("corrections for absent hubs are skipped", func(t *testing.T) {
		g := graph.New()
		applyCorrections(g, slog.Default())
		assert.Equal(t, 0, g.EdgeCount())
	})
}

func TestReduceDurations(t *testing.T) {
	tests := []struct {
		name      string
		in        []float64
		wantMean  float64
		wantOK    bool
	}{
		{"simple mean rounded", []float64{2, 3}, 2.5, true},
		{"non-positive dropped", []float64{-1, 0, 4}, 4.0, true},
		{"sub-floor values clamped", []float64{0.05}, 0.1, true},
		{"nothing usable", []float64{0, -2}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, _, ok := reduceDurations(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantMean, mean)
			}
		})
	}
}

func TestMeanAfterOutlierDrop(t *testing.T) {
	tests := []struct {
		name string
		in   []int
		want float64
	}{
		{"outlier dropped", []int{10, 12, 40}, 11.0},
		{"no outliers", []int{10, 12}, 11.0},
		{"single value", []int{7}, 7.0},
		{"identical values keep all", []int{5, 5, 5}, 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, meanAfterOutlierDrop(tt.in))
		})
	}
}
