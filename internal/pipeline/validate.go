package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// maxEdgeMinutes bounds a single hub-to-hub segment; anything longer is
// corrupt data, not a slow train
const maxEdgeMinutes = 180.0

// validationReport is the diff emitted when the gate fails. Each slice
// names the offending records or edges so the mismatch can be traced to
// its producing stage.
type validationReport struct {
	MissingRecords      []string `json:"missing_records"`
	OrphanRecords       []string `json:"orphan_records"`
	DuplicateRecords    []string `json:"duplicate_records"`
	BadDurations        []string `json:"bad_durations"`
	AsymmetricTransfers []string `json:"asymmetric_transfers"`
	SchemaViolations    []string `json:"schema_violations"`
}

func (r *validationReport) failed() bool {
	return len(r.MissingRecords) > 0 || len(r.OrphanRecords) > 0 ||
		len(r.DuplicateRecords) > 0 || len(r.BadDurations) > 0 ||
		len(r.AsymmetricTransfers) > 0 || len(r.SchemaViolations) > 0
}

func (r *validationReport) total() int {
	return len(r.MissingRecords) + len(r.OrphanRecords) + len(r.DuplicateRecords) +
		len(r.BadDurations) + len(r.AsymmetricTransfers) + len(r.SchemaViolations)
}

// validate is stage 7: cross-check the calculated weights against the
// graph structure. Any mismatch writes a diff report and halts the
// pipeline; stage 8 never sees inconsistent inputs.
func (p *Pipeline) validate(ctx context.Context) error {
	if len(p.records) == 0 {
		if err := loadJSON(p.weightsPath(), &p.records); err != nil {
			return fmt.Errorf("no calculated weights in memory or on disk: %w", err)
		}
	}

	report := &validationReport{}

	// Index records by edge identity, catching duplicates
	recordIndex := make(map[string]models.WeightRecord)
	for _, r := range p.records {
		if r.Source == "" || r.Target == "" || r.Line == "" || r.Mode == "" {
			report.SchemaViolations = append(report.SchemaViolations,
				fmt.Sprintf("record %s->%s [%s]: empty required field", r.Source, r.Target, r.Line))
			continue
		}
		if _, err := time.Parse(time.RFC3339, r.CalculatedTimestamp); err != nil {
			report.SchemaViolations = append(report.SchemaViolations,
				fmt.Sprintf("record %s->%s [%s]: bad timestamp %q", r.Source, r.Target, r.Line, r.CalculatedTimestamp))
			continue
		}

		key := r.Source + "|" + r.Target + "|" + r.Line
		if _, dup := recordIndex[key]; dup {
			report.DuplicateRecords = append(report.DuplicateRecords, key)
			continue
		}
		recordIndex[key] = r

		if math.IsNaN(r.DurationMinutes) || math.IsInf(r.DurationMinutes, 0) ||
			r.DurationMinutes <= 0 || r.DurationMinutes > maxEdgeMinutes {
			report.BadDurations = append(report.BadDurations,
				fmt.Sprintf("%s: duration %.1f out of (0, %.0f]", key, r.DurationMinutes, maxEdgeMinutes))
		}
	}

	// Every non-transfer edge needs exactly one record; every record needs
	// a matching edge
	edgeKeys := make(map[string]bool)
	for _, e := range p.graph.Edges() {
		if e.Transfer {
			continue
		}
		key := e.Source + "|" + e.Target + "|" + e.Line
		edgeKeys[key] = true
		if _, ok := recordIndex[key]; !ok {
			report.MissingRecords = append(report.MissingRecords, key)
		}
	}
	for key := range recordIndex {
		if !edgeKeys[key] {
			report.OrphanRecords = append(report.OrphanRecords, key)
		}
	}

	// Transfer twins must agree; both-null pairs are scheduled for pruning
	for _, e := range p.graph.Edges() {
		if !e.Transfer {
			continue
		}
		twin, ok := p.graph.Edge(e.Target, e.Source, models.TransferKey)
		if !ok {
			report.AsymmetricTransfers = append(report.AsymmetricTransfers,
				fmt.Sprintf("%s->%s: reverse twin missing", e.Source, e.Target))
			continue
		}
		switch {
		case e.Weight == nil && twin.Weight == nil:
			// both null: pruned by the merge stage
		case e.Weight == nil || twin.Weight == nil:
			report.AsymmetricTransfers = append(report.AsymmetricTransfers,
				fmt.Sprintf("%s->%s: one direction weighted, the other null", e.Source, e.Target))
		case math.Abs(*e.Weight-*twin.Weight) > 0.01:
			report.AsymmetricTransfers = append(report.AsymmetricTransfers,
				fmt.Sprintf("%s->%s: weights %.2f vs %.2f", e.Source, e.Target, *e.Weight, *twin.Weight))
		}
	}

	if report.failed() {
		if err := saveJSON(p.validationReportPath(), report); err != nil {
			p.log.Error("failed to write validation report", "error", err)
		}
		return fmt.Errorf("validation gate failed with %d finding(s), report at %s",
			report.total(), p.validationReportPath())
	}

	p.log.Info("validation gate passed",
		"records", len(recordIndex), "line_edges", len(edgeKeys))
	return nil
}
