// Package catalog keeps the sealed graphs a server can start runs of.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/procflow/pkg/domain"
)

// Summary describes a registered graph
type Summary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Version string   `json:"version,omitempty"`
	Nodes   []string `json:"nodes"`
	Groups  []string `json:"groups,omitempty"`
	Edges   int      `json:"edges"`
}

// Catalog is a concurrency safe registry of graphs keyed by id
type Catalog struct {
	mu     sync.RWMutex
	graphs map[string]*domain.Graph
}

// New creates a catalog holding graphs
func New(graphs ...*domain.Graph) (*Catalog, error) {
	c := &Catalog{graphs: make(map[string]*domain.Graph)}
	for _, g := range graphs {
		if err := c.Register(g); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a graph. Ids are unique.
func (c *Catalog) Register(g *domain.Graph) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: graph without id", domain.ErrInvalidGraph)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.graphs[g.ID]; exists {
		return fmt.Errorf("%w: graph %q already registered", domain.ErrInvalidGraph, g.ID)
	}
	c.graphs[g.ID] = g
	return nil
}

// Get returns a graph by id
func (c *Catalog) Get(id string) (*domain.Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[id]
	return g, ok
}

// List summarizes every graph, sorted by id
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.graphs))
	for _, g := range c.graphs {
		out = append(out, Summarize(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summarize describes g
func Summarize(g *domain.Graph) Summary {
	s := Summary{ID: g.ID, Name: g.Name, Version: g.Version, Nodes: make([]string, 0, len(g.Nodes))}
	for id := range g.Nodes {
		s.Nodes = append(s.Nodes, id)
	}
	sort.Strings(s.Nodes)
	for id := range g.Groups {
		s.Groups = append(s.Groups, id)
	}
	sort.Strings(s.Groups)
	for _, edges := range g.Edges {
		s.Edges += len(edges)
	}
	return s
}
