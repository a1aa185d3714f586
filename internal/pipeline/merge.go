package pipeline

import (
	"context"
	"fmt"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// merge is stage 8: splice the calculated weights into the graph, prune
// what remains unweighted, and write the final node-link artifact
func (p *Pipeline) merge(ctx context.Context) error {
	for _, r := range p.records {
		e, ok := p.graph.Edge(r.Source, r.Target, r.Line)
		if !ok {
			// The gate guarantees this cannot happen; fail closed anyway
			return fmt.Errorf("record %s->%s [%s] has no graph edge", r.Source, r.Target, r.Line)
		}
		w := r.DurationMinutes
		e.Weight = &w
	}

	// Fail-safe sweep: the gate leaves nothing here on a healthy run
	prunedLines := 0
	prunedTransfers := 0
	for _, e := range p.graph.Edges() {
		if e.Weight != nil {
			continue
		}
		if e.Transfer {
			// Null transfers are pruned in both directions
			if p.graph.RemoveEdge(e.Source, e.Target, models.TransferKey) {
				prunedTransfers++
			}
			if p.graph.RemoveEdge(e.Target, e.Source, models.TransferKey) {
				prunedTransfers++
			}
			continue
		}
		if p.graph.RemoveEdge(e.Source, e.Target, e.Key) {
			prunedLines++
		}
	}
	if prunedLines > 0 {
		p.log.Warn("unweighted line edges pruned after gate", "count", prunedLines)
	}
	if prunedTransfers > 0 {
		p.log.Info("unweighted transfer edges pruned", "count", prunedTransfers)
	}

	if err := p.graph.WriteFile(p.finalGraphPath()); err != nil {
		return fmt.Errorf("failed to write final graph: %w", err)
	}

	p.log.Info("final graph written",
		"path", p.finalGraphPath(),
		"hubs", p.graph.HubCount(),
		"edges", p.graph.EdgeCount())
	return nil
}
