package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gravitas-games/slotkeeper/pkg/inventory"
)

// Catalog stores item definitions keyed by ItemID. Definitions are handed
// out as shared pointers and must not be modified after registration.
type Catalog struct {
	mu    sync.RWMutex
	items map[inventory.ItemID]*inventory.ItemDefinition
}

// itemRecord is the YAML shape of one item.
type itemRecord struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Quality   string `yaml:"quality"`
	Stackable bool   `yaml:"stackable"`
	MaxStack  int    `yaml:"max_stack"`
}

type catalogFile struct {
	Items []itemRecord `yaml:"items"`
}

// New constructs a catalog seeded with defs.
func New(defs ...inventory.ItemDefinition) (*Catalog, error) {
	c := &Catalog{items: make(map[inventory.ItemID]*inventory.ItemDefinition, len(defs))}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML data.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c, _ := New()
	for i, rec := range f.Items {
		q, err := inventory.ParseQuality(rec.Quality)
		if err != nil {
			return nil, fmt.Errorf("catalog item %d (%s): %w", i, rec.ID, err)
		}
		def := inventory.ItemDefinition{
			ID:        inventory.ItemID(rec.ID),
			Name:      rec.Name,
			Type:      inventory.ItemType(rec.Type),
			Quality:   q,
			Stackable: rec.Stackable,
			MaxStack:  rec.MaxStack,
		}
		if err := c.Register(def); err != nil {
			return nil, fmt.Errorf("catalog item %d: %w", i, err)
		}
	}
	return c, nil
}

// Register validates and inserts a definition. IDs must be unique.
func (c *Catalog) Register(def inventory.ItemDefinition) error {
	if def.ID == "" {
		return errors.New("catalog: item missing id")
	}
	if def.Stackable && def.MaxStack < 1 {
		return fmt.Errorf("catalog: stackable item %s needs max_stack >= 1", def.ID)
	}
	if !def.Stackable {
		def.MaxStack = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[inventory.ItemID]*inventory.ItemDefinition)
	}
	if _, exists := c.items[def.ID]; exists {
		return fmt.Errorf("catalog: duplicate item id %s", def.ID)
	}
	c.items[def.ID] = &def
	return nil
}

// Lookup returns the definition for id, if present.
func (c *Catalog) Lookup(id inventory.ItemID) (*inventory.ItemDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.items[id]
	return def, ok
}

// OfType returns every definition tagged t, sorted by id.
func (c *Catalog) OfType(t inventory.ItemType) []*inventory.ItemDefinition {
	var out []*inventory.ItemDefinition
	for _, def := range c.Export() {
		if def.Type == t {
			out = append(out, def)
		}
	}
	return out
}

// Export returns all definitions sorted by id.
func (c *Catalog) Export() []*inventory.ItemDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*inventory.ItemDefinition, 0, len(c.items))
	for _, def := range c.items {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
