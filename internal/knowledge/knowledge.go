// Package knowledge is the read-only technique catalogue: techniques per
// phase, customer-signal recommendations, golden-standard examples and the
// explore theme keywords. A catalogue is loaded once and never mutated.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tetraminz/sales_coach/internal/model"
)

//go:embed catalogue.yaml
var embeddedCatalogue []byte

// Technique is one catalogue entry.
type Technique struct {
	ID          model.TechniqueID `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Phase       int               `yaml:"phase" json:"phase"`
	Key         bool              `yaml:"key" json:"key"`
	Description string            `yaml:"description" json:"description"`
	Steps       []string          `yaml:"steps" json:"steps"`
	Examples    []string          `yaml:"examples" json:"examples"`
}

// GoldenExample is an expert-validated seller response.
type GoldenExample struct {
	TechniqueID model.TechniqueID `yaml:"technique_id"`
	Customer    string            `yaml:"customer"`
	Seller      string            `yaml:"seller"`
	Note        string            `yaml:"note"`
}

// Theme is a named explore theme with its trigger keywords.
type Theme struct {
	Name     string
	Keywords []string
}

// Base is the lookup surface every component depends on.
type Base interface {
	Version() string
	Technique(id model.TechniqueID) (Technique, bool)
	TechniquesForPhase(phase int) []Technique
	KeyTechniqueCount(phase int) int
	RecommendedFor(h model.Houding) []model.TechniqueID
	GoldenExamples(ids []model.TechniqueID) []GoldenExample
	ExploreThemes() []Theme
}

type document struct {
	Version    string              `yaml:"version"`
	Techniques []Technique         `yaml:"techniques"`
	Signals    map[string][]string `yaml:"signals"`
	Golden     []GoldenExample     `yaml:"golden"`
	Themes     map[string][]string `yaml:"themes"`
}

// Catalogue is the in-memory Base implementation.
type Catalogue struct {
	version    string
	techniques []Technique
	byID       map[model.TechniqueID]Technique
	signals    map[model.Houding][]model.TechniqueID
	golden     []GoldenExample
	themes     []Theme
}

// Default parses the embedded catalogue.
func Default() (*Catalogue, error) {
	return Parse(embeddedCatalogue)
}

// Load reads a catalogue file; an empty path yields the embedded one.
func Load(path string) (*Catalogue, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a catalogue from YAML.
func Parse(raw []byte) (*Catalogue, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	if len(doc.Techniques) == 0 {
		return nil, fmt.Errorf("catalogue has no techniques")
	}

	c := &Catalogue{
		version: strings.TrimSpace(doc.Version),
		byID:    make(map[model.TechniqueID]Technique, len(doc.Techniques)),
		signals: make(map[model.Houding][]model.TechniqueID, len(doc.Signals)),
		golden:  doc.Golden,
	}
	for _, t := range doc.Techniques {
		if t.ID.Phase() == 0 {
			return nil, fmt.Errorf("technique %q: id has no phase prefix", t.ID)
		}
		if t.Phase != t.ID.Phase() {
			return nil, fmt.Errorf("technique %q: phase %d does not match id", t.ID, t.Phase)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("technique %q: duplicate id", t.ID)
		}
		c.byID[t.ID] = t
		c.techniques = append(c.techniques, t)
	}
	for label, ids := range doc.Signals {
		h := model.Houding(strings.ToLower(strings.TrimSpace(label)))
		for _, id := range ids {
			c.signals[h] = append(c.signals[h], model.TechniqueID(id))
		}
	}

	names := make([]string, 0, len(doc.Themes))
	for name := range doc.Themes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.themes = append(c.themes, Theme{Name: name, Keywords: doc.Themes[name]})
	}
	return c, nil
}

func (c *Catalogue) Version() string { return c.version }

func (c *Catalogue) Technique(id model.TechniqueID) (Technique, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// TechniquesForPhase returns the phase's techniques in catalogue order.
func (c *Catalogue) TechniquesForPhase(phase int) []Technique {
	var out []Technique
	for _, t := range c.techniques {
		if t.Phase == phase {
			out = append(out, t)
		}
	}
	return out
}

// KeyTechniqueCount is the size of the canonical key-technique set of a phase.
func (c *Catalogue) KeyTechniqueCount(phase int) int {
	n := 0
	for _, t := range c.techniques {
		if t.Phase == phase && t.Key {
			n++
		}
	}
	return n
}

// RecommendedFor returns a copy of the expected moves for a signal.
func (c *Catalogue) RecommendedFor(h model.Houding) []model.TechniqueID {
	ids := c.signals[h]
	return append([]model.TechniqueID(nil), ids...)
}

// GoldenExamples returns examples for any of ids, including examples for
// sub-techniques of ids.
func (c *Catalogue) GoldenExamples(ids []model.TechniqueID) []GoldenExample {
	var out []GoldenExample
	for _, g := range c.golden {
		for _, id := range ids {
			if g.TechniqueID.Within(id) {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func (c *Catalogue) ExploreThemes() []Theme {
	return append([]Theme(nil), c.themes...)
}

// Name returns the catalogue name of id, or id itself when unknown.
func Name(b Base, id model.TechniqueID) string {
	if t, ok := b.Technique(id); ok {
		return t.Name
	}
	return string(id)
}
