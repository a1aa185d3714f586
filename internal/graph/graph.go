package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// edgeKey identifies one edge in the multigraph: at most one edge may exist
// per (source, target, key) triple
type edgeKey struct {
	source string
	target string
	key    string
}

// MultiGraph holds the hub-level transport graph in memory. It is a
// directed multigraph: several keyed edges may connect the same hub pair
// (shared line segments, plus a walking transfer). Safe for concurrent use.
type MultiGraph struct {
	mu    sync.RWMutex
	hubs  map[string]*models.Hub
	edges map[edgeKey]*models.Edge
	adj   map[string][]*models.Edge // source hub -> outgoing edges
}

// New creates an empty MultiGraph
func New() *MultiGraph {
	return &MultiGraph{
		hubs:  make(map[string]*models.Hub),
		edges: make(map[edgeKey]*models.Edge),
		adj:   make(map[string][]*models.Edge),
	}
}

// UpsertHub merges a station observation into the graph. The first
// observation creates the hub; later ones union modes and lines, append the
// station to the constituents, and replace the representative coordinates
// when the observed mode outranks the one that supplied them.
func (g *MultiGraph) UpsertHub(hubID, name string, lat, lon float64, zone *string, mode models.TransitMode, lineID string, station models.Station) *models.Hub {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.hubs[hubID]
	if !ok {
		h = &models.Hub{
			ID:              hubID,
			Name:            name,
			Lat:             lat,
			Lon:             lon,
			Zone:            zone,
			PrimaryNaptanID: hubID,
		}
		g.hubs[hubID] = h
	}
	prevBest := bestModeRank(h.Modes)

	if !containsString(h.Modes, string(mode)) {
		h.Modes = append(h.Modes, string(mode))
		sort.Strings(h.Modes)
	}
	if lineID != "" && !containsString(h.Lines, lineID) {
		h.Lines = append(h.Lines, lineID)
		sort.Strings(h.Lines)
	}

	seen := false
	for _, s := range h.ConstituentStations {
		if s.NaptanID == station.NaptanID {
			seen = true
			break
		}
	}
	if !seen && station.NaptanID != "" {
		h.ConstituentStations = append(h.ConstituentStations, station)
		// The primary naptan ID prefers a concrete station over the hub alias
		if station.NaptanID != hubID && h.PrimaryNaptanID == hubID {
			h.PrimaryNaptanID = station.NaptanID
		}
	}

	// A higher-ranked mode's station overrides the representative coordinates
	if ok && models.ModeRank(mode) > prevBest {
		h.Lat = lat
		h.Lon = lon
	}
	if h.Zone == nil && zone != nil {
		h.Zone = zone
	}

	return h
}

// bestModeRank returns the highest coordinate-preference rank among the
// recorded modes
func bestModeRank(modes []string) int {
	best := 0
	for _, m := range modes {
		if r := models.ModeRank(models.TransitMode(m)); r > best {
			best = r
		}
	}
	return best
}

// AddHub inserts a fully-formed hub, replacing any existing node with the
// same ID. Used when loading a graph artifact.
func (g *MultiGraph) AddHub(h *models.Hub) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hubs[h.ID] = h
}

// Hub returns a hub by ID
func (g *MultiGraph) Hub(id string) (*models.Hub, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.hubs[id]
	return h, ok
}

// Hubs returns all hubs, sorted by ID for deterministic iteration
func (g *MultiGraph) Hubs() []*models.Hub {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.Hub, 0, len(g.hubs))
	for _, h := range g.hubs {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HubCount returns the number of hubs
func (g *MultiGraph) HubCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.hubs)
}

// AddEdge inserts an edge. Duplicate (source, target, key) insertions are a
// no-op and return false. Self-loops are rejected.
func (g *MultiGraph) AddEdge(e *models.Edge) bool {
	if e.Source == e.Target {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	k := edgeKey{source: e.Source, target: e.Target, key: e.Key}
	if _, exists := g.edges[k]; exists {
		return false
	}
	g.edges[k] = e
	g.adj[e.Source] = append(g.adj[e.Source], e)
	return true
}

// Edge returns the edge for (source, target, key)
func (g *MultiGraph) Edge(source, target, key string) (*models.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[edgeKey{source: source, target: target, key: key}]
	return e, ok
}

// HasLineEdge reports whether any non-transfer edge connects source to target
func (g *MultiGraph) HasLineEdge(source, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.adj[source] {
		if e.Target == target && !e.Transfer {
			return true
		}
	}
	return false
}

// OutEdges returns the outgoing edges of a hub
func (g *MultiGraph) OutEdges(hubID string) []*models.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adj[hubID]
}

// Edges returns all edges sorted by (source, target, key) for deterministic
// iteration
func (g *MultiGraph) Edges() []*models.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// EdgeCount returns the number of edges
func (g *MultiGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// RemoveEdge deletes the edge for (source, target, key). Returns false when
// no such edge exists.
func (g *MultiGraph) RemoveEdge(source, target, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := edgeKey{source: source, target: target, key: key}
	e, ok := g.edges[k]
	if !ok {
		return false
	}
	delete(g.edges, k)

	out := g.adj[source]
	for i, cand := range out {
		if cand == e {
			g.adj[source] = append(out[:i], out[i+1:]...)
			break
		}
	}
	return true
}

// RemoveLineFromHub drops a line from a hub's line-set and removes every
// edge keyed by that line touching the hub. Used by the data-correction
// pass for lines the provider still reports but that no longer serve the
// hub.
func (g *MultiGraph) RemoveLineFromHub(hubID, lineID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	h, ok := g.hubs[hubID]
	if !ok {
		return 0
	}
	for i, l := range h.Lines {
		if l == lineID {
			h.Lines = append(h.Lines[:i], h.Lines[i+1:]...)
			break
		}
	}

	for k, e := range g.edges {
		if e.Key != lineID || (e.Source != hubID && e.Target != hubID) {
			continue
		}
		delete(g.edges, k)
		out := g.adj[e.Source]
		for i, cand := range out {
			if cand == e {
				g.adj[e.Source] = append(out[:i], out[i+1:]...)
				break
			}
		}
		removed++
	}
	return removed
}

// Validate checks structural invariants: every non-transfer edge's line is
// in both endpoints' line-sets, every transfer edge has a reverse twin, and
// no edge dangles from a missing hub.
func (g *MultiGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for k, e := range g.edges {
		src, ok := g.hubs[e.Source]
		if !ok {
			return fmt.Errorf("edge %s->%s [%s]: unknown source hub", e.Source, e.Target, e.Key)
		}
		tgt, ok := g.hubs[e.Target]
		if !ok {
			return fmt.Errorf("edge %s->%s [%s]: unknown target hub", e.Source, e.Target, e.Key)
		}
		if e.Transfer {
			if _, ok := g.edges[edgeKey{source: k.target, target: k.source, key: models.TransferKey}]; !ok {
				return fmt.Errorf("transfer edge %s->%s has no reverse twin", e.Source, e.Target)
			}
			continue
		}
		if !containsString(src.Lines, e.Line) || !containsString(tgt.Lines, e.Line) {
			return fmt.Errorf("edge %s->%s [%s]: line not in both hubs' line-sets", e.Source, e.Target, e.Line)
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
