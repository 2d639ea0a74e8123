package graph

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// Catalog holds the graphs found in a directory, keyed by graph id.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	graphs map[string]*domain.Graph
}

// NewCatalog creates a catalog over dir. Call Reload to populate it.
func NewCatalog(dir string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{dir: dir, logger: logger, graphs: make(map[string]*domain.Graph)}
}

// Reload rescans the directory. Invalid documents are logged and skipped; a
// missing directory yields an empty catalog.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("graph directory does not exist", zap.String("dir", c.dir))
		c.swap(map[string]*domain.Graph{})
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read graph dir %s", c.dir)
	}

	graphs := make(map[string]*domain.Graph)
	for _, e := range entries {
		if e.IsDir() || !isGraphFile(e.Name()) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		g, err := LoadFile(path)
		if err != nil {
			c.logger.Warn("skipping invalid graph", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, dup := graphs[g.ID]; dup {
			c.logger.Warn("duplicate graph id, keeping first", zap.String("graph_id", g.ID), zap.String("path", path))
			continue
		}
		graphs[g.ID] = g
	}
	c.swap(graphs)
	c.logger.Info("graph catalog loaded", zap.String("dir", c.dir), zap.Int("graphs", len(graphs)))
	return nil
}

func (c *Catalog) swap(graphs map[string]*domain.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs = graphs
}

// Get returns the graph with the given id.
func (c *Catalog) Get(id string) (*domain.Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[id]
	return g, ok
}

// Put adds or replaces a graph after validating it.
func (c *Catalog) Put(g *domain.Graph) error {
	if err := Validate(g); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[g.ID] = g
	return nil
}

// List returns all graphs ordered by id.
func (c *Catalog) List() []*domain.Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Graph, 0, len(c.graphs))
	for _, g := range c.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isGraphFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
