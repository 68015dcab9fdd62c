// Package sports provides the static sport lookup table served via the REST
// API and used to validate submission categories.
package sports

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sports.yaml
var defaultCatalogYAML []byte

// Sport is one entry of the catalog. Value duplicates QID for client
// convenience (dropdown option values).
type Sport struct {
	QID     string `yaml:"qid" json:"value"`
	Label   string `yaml:"label" json:"-"`
	Display string `yaml:"display,omitempty" json:"label"`
}

type catalogFile struct {
	Sports []Sport `yaml:"sports"`
}

// Catalog is an immutable sport lookup table built once at startup.
type Catalog struct {
	sports  []Sport
	byQID   map[string]Sport
	byLabel map[string]string
}

// Load parses a YAML catalog. Entries without a display name fall back to
// their raw label; duplicate Q-IDs keep the first occurrence.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sport catalog: %w", err)
	}
	if len(file.Sports) == 0 {
		return nil, fmt.Errorf("sport catalog is empty")
	}

	c := &Catalog{
		byQID:   make(map[string]Sport, len(file.Sports)),
		byLabel: make(map[string]string, len(file.Sports)),
	}
	for _, s := range file.Sports {
		if s.QID == "" || s.Label == "" {
			return nil, fmt.Errorf("sport catalog entry missing qid or label: %+v", s)
		}
		if _, ok := c.byQID[s.QID]; ok {
			continue
		}
		if s.Display == "" {
			s.Display = s.Label
		}
		c.byQID[s.QID] = s
		c.byLabel[strings.ToLower(s.Label)] = s.QID
		c.sports = append(c.sports, s)
	}

	sort.Slice(c.sports, func(i, j int) bool {
		return strings.ToLower(c.sports[i].Display) < strings.ToLower(c.sports[j].Display)
	})
	return c, nil
}

// Default loads the embedded catalog.
func Default() (*Catalog, error) {
	return Load(defaultCatalogYAML)
}

// IsValid reports whether qid is a known sport.
func (c *Catalog) IsValid(qid string) bool {
	_, ok := c.byQID[qid]
	return ok
}

// Label returns the display name for a sport Q-ID, or the Q-ID itself when
// unknown so callers always have something printable.
func (c *Catalog) Label(qid string) string {
	if s, ok := c.byQID[qid]; ok {
		return s.Display
	}
	return qid
}

// QIDForLabel resolves a raw label (case-insensitive) back to its Q-ID.
func (c *Catalog) QIDForLabel(label string) (string, bool) {
	qid, ok := c.byLabel[strings.ToLower(label)]
	return qid, ok
}

// List returns all sports ordered by display name.
func (c *Catalog) List() []Sport {
	out := make([]Sport, len(c.sports))
	copy(out, c.sports)
	return out
}
