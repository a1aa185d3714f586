package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// nodeLinkDocument is the on-disk node-link form of the multigraph
type nodeLinkDocument struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []*models.Hub  `json:"nodes"`
	Links      []*models.Edge `json:"links"`
}

// MarshalNodeLink serialises the graph to node-link JSON with nodes and
// links in deterministic order, so warm rebuilds are byte-identical.
func (g *MultiGraph) MarshalNodeLink() ([]byte, error) {
	doc := nodeLinkDocument{
		Directed:   true,
		Multigraph: true,
		Graph:      map[string]any{},
		Nodes:      g.Hubs(),
		Links:      g.Edges(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// WriteFile writes the node-link artifact atomically: serialise to a temp
// file in the target directory, then rename over the destination.
func (g *MultiGraph) WriteFile(path string) error {
	data, err := g.MarshalNodeLink()
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// LoadFile reads a node-link artifact into a fresh MultiGraph
func LoadFile(path string) (*MultiGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return UnmarshalNodeLink(data)
}

// UnmarshalNodeLink parses node-link JSON into a MultiGraph
func UnmarshalNodeLink(data []byte) (*MultiGraph, error) {
	var doc nodeLinkDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse node-link document: %w", err)
	}
	if !doc.Directed || !doc.Multigraph {
		return nil, fmt.Errorf("node-link document must be directed and multigraph")
	}

	g := New()
	for _, h := range doc.Nodes {
		if h.ID == "" || h.Name == "" {
			return nil, fmt.Errorf("node with empty id or name")
		}
		g.AddHub(h)
	}
	for _, e := range doc.Links {
		if _, ok := g.Hub(e.Source); !ok {
			return nil, fmt.Errorf("link %s->%s references unknown source", e.Source, e.Target)
		}
		if _, ok := g.Hub(e.Target); !ok {
			return nil, fmt.Errorf("link %s->%s references unknown target", e.Source, e.Target)
		}
		g.AddEdge(e)
	}
	return g, nil
}

// WriteFileAtomic writes data to path via a temp file and rename, so
// readers never observe a partial artifact
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
