package factory_test

import (
	"testing"

	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/factory"
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogFile_YAML(t *testing.T) {
	c, err := factory.LoadCatalogFile("testdata/catalog.yaml")
	require.NoError(t, err)

	assert.Equal(t, "2024.2", c.Version)
	assert.Equal(t, generic.CurrencyMXN, c.Currency)

	bu, err := c.Unit("huntRED")
	require.NoError(t, err)
	assert.Equal(t, "huntRED", bu.Name, "name is filled from the map key")
	assert.True(t, bu.SamePosition.Lookup(21).Equal(decimal.NewFromInt(20)))
	assert.True(t, bu.CrossPosition.Lookup(2).Equal(decimal.NewFromInt(6)))
	assert.True(t, bu.BundleSize.Lookup(3).Equal(decimal.RequireFromString("7.5")))
	require.Len(t, bu.AmountTiers, 1)
	assert.True(t, bu.AmountTiers[0].Above.Equal(decimal.NewFromInt(750000)))

	b, err := c.Bundle("starter_pack")
	require.NoError(t, err)
	assert.Equal(t, "starter_pack", b.ID)
	_, own := b.SizeDiscount(2)
	assert.False(t, own, "starter_pack falls back to the unit's bundle_size axis")

	ta, err := c.Bundle("talent_acquisition")
	require.NoError(t, err)
	d, _ := ta.SizeDiscount(2)
	assert.True(t, d.Equal(decimal.NewFromInt(5)))
}

func TestParseCatalogYAML_RoundTripsDefault(t *testing.T) {
	// GIVEN: The built-in catalog rendered as YAML
	// WHEN: Parsing it back
	// THEN: The tables are unchanged

	original := catalog.Default()
	data, err := factory.MarshalCatalogYAML(original)
	require.NoError(t, err)

	parsed, err := factory.ParseCatalogYAML(data)
	require.NoError(t, err)

	assert.Equal(t, original.Version, parsed.Version)
	require.Len(t, parsed.BusinessUnits, len(original.BusinessUnits))
	for name, bu := range original.BusinessUnits {
		got := parsed.BusinessUnits[name]
		for n := 0; n <= 60; n++ {
			assert.True(t, bu.SamePosition.Lookup(n).Equal(got.SamePosition.Lookup(n)), "%s same_position %d", name, n)
			assert.True(t, bu.Duration.Lookup(n).Equal(got.Duration.Lookup(n)), "%s duration %d", name, n)
		}
	}
	assert.Len(t, parsed.MilestoneTemplates["huntRED_large"], 5)
}

func TestParseCatalogJSON_Valid(t *testing.T) {
	doc := `{
		"version": "json-1",
		"duration_tiers": [{"min": 0, "discount_pct": "0"}],
		"business_units": {
			"SEXSI": {
				"same_position": [{"min": 0, "discount_pct": 0}],
				"cross_position": [{"min": 0, "discount_pct": 0}],
				"bundle_size": [{"min": 0, "discount_pct": 0}],
				"duration": [{"min": 0, "max": 11, "discount_pct": 0}, {"min": 12, "discount_pct": 5}]
			}
		},
		"milestone_templates": {
			"SEXSI": [{"name": "Pago único", "percentage": "100.00", "trigger_event": "contract_signed", "days_offset": 0}]
		}
	}`
	c, err := factory.ParseCatalogJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, generic.CurrencyMXN, c.Currency, "currency defaults to MXN")
	assert.True(t, c.BusinessUnits["SEXSI"].Duration.Lookup(12).Equal(decimal.NewFromInt(5)))
}

func TestParseCatalogYAML_RejectsTierGap(t *testing.T) {
	doc := `
version: bad
duration_tiers:
  - {min: 0, max: 2, discount_pct: 0}
  - {min: 4, discount_pct: 5}
`
	_, err := factory.ParseCatalogYAML([]byte(doc))
	assert.ErrorIs(t, err, generic.ErrInvalidCatalog)
}

func TestParseCatalogYAML_RejectsTemplateNotSummingToHundred(t *testing.T) {
	doc := `
version: bad
duration_tiers:
  - {min: 0, discount_pct: 0}
milestone_templates:
  broken:
    - {name: a, percentage: 50, trigger_event: x, days_offset: 0}
    - {name: b, percentage: 49.99, trigger_event: y, days_offset: 10}
`
	_, err := factory.ParseCatalogYAML([]byte(doc))
	assert.ErrorIs(t, err, generic.ErrInvalidCatalog)
}

func TestLoadCatalogFile_UnsupportedExtension(t *testing.T) {
	_, err := factory.LoadCatalogFile("testdata/catalog.toml")
	assert.Error(t, err)
}
