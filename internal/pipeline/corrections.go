package pipeline

import (
	"log/slog"

	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// corrections is the hand-audited list of fixes applied to the base graph
// after sequence ingestion. Each entry records what was wrong with the
// provider data and what the fix does, so the list can be audited against
// the network without re-deriving it.
var corrections = []models.Correction{
	{
		Op:     models.CorrectionRemoveLine,
		Hub:    "HUBPAD",
		Line:   "bakerloo",
		Reason: "provider still lists the withdrawn Bakerloo service at the national-rail side of the hub",
	},
	{
		Op:     models.CorrectionRemoveLine,
		Hub:    "HUBKGX",
		Line:   "thameslink-city",
		Reason: "line no longer in service; sequence feed retains the legacy membership",
	},
	{
		Op:     models.CorrectionInsertEdge,
		Hub:    "940GZZLUHAW",
		Target: "940GZZLUHGD",
		Line:   "piccadilly",
		Mode:   models.ModeTube,
		Reason: "outbound-only crossover omitted from the inbound sequence run",
	},
	{
		Op:     models.CorrectionInsertEdge,
		Hub:    "940GZZDLWIQ",
		Target: "940GZZDLCAN",
		Line:   "dlr",
		Mode:   models.ModeDLR,
		Reason: "sequence data skips the segment in one direction during the spur's stepped service",
	},
	{
		Op:     models.CorrectionEnsureReverse,
		Hub:    "940GZZLUKSX",
		Target: "940GZZLUESQ",
		Line:   "circle",
		Mode:   models.ModeTube,
		Reason: "loop terminus run reports one direction only; the reverse working exists",
	},
	{
		Op:     models.CorrectionEnsureReverse,
		Hub:    "940GZZLUBNK",
		Target: "940GZZLUMSH",
		Line:   "district",
		Mode:   models.ModeTube,
		Reason: "loop terminus run reports one direction only; the reverse working exists",
	},
}

// applyCorrections runs the correction list against the freshly-built base
// graph. Every applied record is logged; records whose hubs never made it
// into the graph are logged and skipped rather than failing the stage.
func applyCorrections(g *graph.MultiGraph, log *slog.Logger) {
	for _, c := range corrections {
		switch c.Op {
		case models.CorrectionRemoveLine:
			removed := g.RemoveLineFromHub(c.Hub, c.Line)
			log.Info("correction applied",
				"op", string(c.Op), "hub", c.Hub, "line", c.Line,
				"edges_removed", removed, "reason", c.Reason)

		case models.CorrectionInsertEdge:
			src, srcOK := g.Hub(c.Hub)
			tgt, tgtOK := g.Hub(c.Target)
			if !srcOK || !tgtOK {
				log.Warn("correction skipped, hub missing",
					"op", string(c.Op), "hub", c.Hub, "target", c.Target, "line", c.Line)
				continue
			}
			ensureHubLine(g, src, c.Line)
			ensureHubLine(g, tgt, c.Line)
			added := g.AddEdge(&models.Edge{
				Source:    c.Hub,
				Target:    c.Target,
				Key:       c.Line,
				Line:      c.Line,
				LineName:  c.Line,
				Mode:      string(c.Mode),
				Direction: string(models.DirectionUnknown),
			})
			log.Info("correction applied",
				"op", string(c.Op), "hub", c.Hub, "target", c.Target, "line", c.Line,
				"added", added, "reason", c.Reason)

		case models.CorrectionEnsureReverse:
			if _, ok := g.Edge(c.Hub, c.Target, c.Line); !ok {
				log.Warn("correction skipped, forward edge missing",
					"op", string(c.Op), "hub", c.Hub, "target", c.Target, "line", c.Line)
				continue
			}
			added := g.AddEdge(&models.Edge{
				Source:    c.Target,
				Target:    c.Hub,
				Key:       c.Line,
				Line:      c.Line,
				LineName:  c.Line,
				Mode:      string(c.Mode),
				Direction: string(models.DirectionUnknown),
			})
			log.Info("correction applied",
				"op", string(c.Op), "hub", c.Hub, "target", c.Target, "line", c.Line,
				"added", added, "reason", c.Reason)
		}
	}
}

// ensureHubLine adds a line to a hub's line-set if absent, keeping the
// edge-line soundness invariant intact for inserted edges
func ensureHubLine(g *graph.MultiGraph, h *models.Hub, lineID string) {
	if !h.HasLine(lineID) {
		h.Lines = append(h.Lines, lineID)
	}
}
