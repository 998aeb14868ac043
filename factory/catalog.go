/*
Package factory converts catalog documents into catalog.Catalog values.

PURPOSE:
  Discount tiers and milestone templates change more often than the
  pricing logic. The factory lets operations ship a new versioned catalog
  file without redeploying: the server loads it once at startup and hands
  the resulting value to every pricing component.

FORMATS:
  YAML (.yaml, .yml) and JSON (.json) share one schema:

    version: "2024.2"
    currency: MXN
    duration_tiers:
      - {min: 0, max: 2, discount_pct: 0}
      - {min: 3, discount_pct: 5}          # no max = unbounded
    business_units:
      huntRED:
        same_position:  [...]
        cross_position: [...]
        bundle_size:    [...]
        duration:       [...]
        amount_tiers:
          - {above: 500000, template: huntRED_large}
    milestone_templates:
      huntRED:
        - {name: Firma, percentage: 30, trigger_event: contract_signed, days_offset: 0}
    bundles:
      talent_acquisition:
        required: [recruitment]
        optional: [talent_360]
        size_discounts: {2: 5, 3: 10}

VALIDATION:
  Every parsed catalog must pass catalog.Validate(); errors wrap
  generic.ErrInvalidCatalog. Missing names and bundle IDs are filled from
  their map keys.

USAGE:
  c, err := factory.LoadCatalogFile("/etc/billing/catalog.yaml")

SEE ALSO:
  - catalog/catalog.go: Catalog type and validation
  - catalog/presets.go: Built-in catalog
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/generic"
	"gopkg.in/yaml.v3"
)

// ParseCatalogYAML parses and validates a YAML catalog.
func ParseCatalogYAML(data []byte) (*catalog.Catalog, error) {
	var c catalog.Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog YAML: %v", generic.ErrInvalidCatalog, err)
	}
	return finish(&c)
}

// ParseCatalogJSON parses and validates a JSON catalog.
func ParseCatalogJSON(data []byte) (*catalog.Catalog, error) {
	var c catalog.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog JSON: %v", generic.ErrInvalidCatalog, err)
	}
	return finish(&c)
}

// LoadCatalogFile reads a catalog file, choosing the format by extension.
func LoadCatalogFile(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseCatalogJSON(data)
	case ".yaml", ".yml":
		return ParseCatalogYAML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported catalog extension %q", generic.ErrInvalidCatalog, filepath.Ext(path))
	}
}

// MarshalCatalogYAML renders a catalog in the file format LoadCatalogFile reads.
func MarshalCatalogYAML(c *catalog.Catalog) ([]byte, error) {
	return yaml.Marshal(c)
}

func finish(c *catalog.Catalog) (*catalog.Catalog, error) {
	if c.Currency == "" {
		c.Currency = generic.CurrencyMXN
	}
	for name, bu := range c.BusinessUnits {
		if bu.Name == "" {
			bu.Name = name
			c.BusinessUnits[name] = bu
		}
	}
	for id, b := range c.Bundles {
		if b.ID == "" {
			b.ID = id
			c.Bundles[id] = b
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
