package query

import (
	"container/heap"

	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// Pathfinder runs Dijkstra over the weighted multigraph with a per-change
// penalty. Plain hub states lack optimal substructure once changes cost
// extra, so the search runs in the line-labelled state space: a state is
// (hub, line the walk arrived on), and transitions follow the edge
// multiplicity naturally.
type Pathfinder struct {
	g             *graph.MultiGraph
	changePenalty float64
}

// Hop is one step of a reconstructed path: the hub reached and the edge
// key used to reach it
type Hop struct {
	Hub  string
	Line string
}

// NewPathfinder creates a pathfinder with the given change penalty in
// minutes
func NewPathfinder(g *graph.MultiGraph, changePenaltyMinutes float64) *Pathfinder {
	return &Pathfinder{g: g, changePenalty: changePenaltyMinutes}
}

// searchState is a line-labelled vertex: the hub plus the key of the edge
// the search arrived on (empty at the source)
type searchState struct {
	hub      string
	incoming string
}

// pqItem is one priority-queue entry
type pqItem struct {
	state searchState
	cost  float64
	prev  *pqItem
	index int
}

// priorityQueue implements heap.Interface ordered by cost
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].cost < pq[j].cost
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// ShortestPath returns the cost in minutes from source to target and the
// reconstructed path as (hub, incoming line) hops. ok is false when the
// target is unreachable.
func (p *Pathfinder) ShortestPath(source, target string) (cost float64, path []Hop, ok bool) {
	if source == target {
		return 0, []Hop{{Hub: source}}, true
	}

	final := p.search(source, target)
	if final == nil {
		return 0, nil, false
	}

	for item := final; item != nil; item = item.prev {
		path = append(path, Hop{Hub: item.state.hub, Line: item.state.incoming})
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return final.cost, path, true
}

// CostsFrom returns the minimum cost from source to every reachable hub
func (p *Pathfinder) CostsFrom(source string) map[string]float64 {
	best := make(map[string]float64)
	p.run(source, func(item *pqItem) bool {
		if cur, seen := best[item.state.hub]; !seen || item.cost < cur {
			best[item.state.hub] = item.cost
		}
		return false
	})
	return best
}

// search runs until the target hub is settled and returns its queue item
func (p *Pathfinder) search(source, target string) *pqItem {
	var found *pqItem
	p.run(source, func(item *pqItem) bool {
		if item.state.hub == target {
			found = item
			return true
		}
		return false
	})
	return found
}

// run is the label-setting loop. visit is called once per settled state in
// cost order; returning true stops the search.
func (p *Pathfinder) run(source string, visit func(*pqItem) bool) {
	dist := make(map[searchState]float64)
	settled := make(map[searchState]bool)

	pq := &priorityQueue{}
	heap.Init(pq)

	start := &pqItem{state: searchState{hub: source}, cost: 0}
	dist[start.state] = 0
	heap.Push(pq, start)

	for pq.Len() > 0 {
		current := heap.Pop(pq).(*pqItem)
		if settled[current.state] {
			continue
		}
		settled[current.state] = true

		if visit(current) {
			return
		}

		for _, e := range p.g.OutEdges(current.state.hub) {
			if e.Weight == nil {
				continue
			}
			next := searchState{hub: e.Target, incoming: e.Key}
			cost := current.cost + *e.Weight + p.penalty(current.state.incoming, e.Key)
			if cur, seen := dist[next]; seen && cost >= cur {
				continue
			}
			dist[next] = cost
			heap.Push(pq, &pqItem{state: next, cost: cost, prev: current})
		}
	}
}

// penalty returns the change penalty for leaving on edge key k after
// arriving on incoming. Transfers never pay the penalty on either side: a
// walking transfer is an honest edge, and boarding after one starts a
// fresh line rather than changing mid-ride.
func (p *Pathfinder) penalty(incoming, k string) float64 {
	if incoming == "" || incoming == k ||
		incoming == models.TransferKey || k == models.TransferKey {
		return 0
	}
	return p.changePenalty
}
