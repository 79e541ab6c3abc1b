package agreement

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var bundledTemplates []byte

// Catalog holds the agreement templates in their declared order.
type Catalog struct {
	templates []Template
	byID      map[string]Template
}

// DefaultCatalog decodes the bundled template catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalogYAML(bundledTemplates)
}

// ParseCatalogYAML decodes and validates a catalog document.
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("agreement: catalog payload is empty")
	}

	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("agreement: decode catalog: %w", err)
	}

	c := &Catalog{
		templates: make([]Template, 0, len(doc.Templates)),
		byID:      make(map[string]Template, len(doc.Templates)),
	}
	for i, tmpl := range doc.Templates {
		if tmpl.ID == "" {
			return nil, fmt.Errorf("agreement: template %d missing id", i)
		}
		if _, dup := c.byID[tmpl.ID]; dup {
			return nil, fmt.Errorf("agreement: duplicate template %q", tmpl.ID)
		}
		if !tmpl.DisputeResolutionMechanism.Valid() {
			return nil, fmt.Errorf("agreement: template %q has unknown mechanism %q", tmpl.ID, tmpl.DisputeResolutionMechanism)
		}
		c.templates = append(c.templates, tmpl)
		c.byID[tmpl.ID] = tmpl
	}
	return c, nil
}

// Templates returns a copy of every template in catalog order.
func (c *Catalog) Templates() []Template {
	out := make([]Template, len(c.templates))
	for i, tmpl := range c.templates {
		tmpl.AutomaticTriggers = append([]string(nil), tmpl.AutomaticTriggers...)
		out[i] = tmpl
	}
	return out
}

func (c *Catalog) Lookup(id string) (Template, bool) {
	tmpl, ok := c.byID[id]
	return tmpl, ok
}
