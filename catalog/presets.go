/*
presets.go - Built-in v1 catalog

PURPOSE:
  Provides the catalog the server uses when no catalog file is given, and
  the fixture most tests run against. Deployments override it with a
  versioned YAML/JSON file (see factory/catalog.go).

BUSINESS UNITS:
  huntRED            Mid/senior recruitment; 30/40/30 milestones,
                     large contracts switch to five 20% installments
  huntRED_executive  Executive search; four 25% installments
  huntU              Graduates and interns; 50/50
  Amigro             High-volume operational hiring; 50/50
  SEXSI              Single payment on signing

BUNDLES:
  talent_acquisition  recruitment + optional talent_360/onboarding/assessment
  executive_search    executive_search + optional assessment/talent_360
  campus_program      campus_recruitment + optional onboarding (huntU sizes)
*/
package catalog

import (
	"github.com/huntred/billing-engine/generic"
	"github.com/shopspring/decimal"
)

const DefaultVersion = "2024.1"

// Default returns the built-in catalog. Each call builds a fresh value.
func Default() *Catalog {
	return &Catalog{
		Version:  DefaultVersion,
		Currency: generic.CurrencyMXN,
		BusinessUnits: map[string]BusinessUnit{
			"huntRED": {
				Name:          "huntRED",
				SamePosition:  tiers(0, 0, 3, 5, 6, 10, 11, 15, 21, 20),
				CrossPosition: tiers(0, 0, 2, 5, 4, 8, 6, 12),
				BundleSize:    tiers(0, 0, 2, 5, 3, 10, 4, 15),
				Duration:      tiers(0, 0, 3, 5, 6, 10, 12, 15),
				AmountTiers: []AmountTier{
					{Above: decimal.NewFromInt(500000), Template: "huntRED_large"},
				},
			},
			"huntRED_executive": {
				Name:          "huntRED_executive",
				SamePosition:  tiers(0, 0, 2, 5, 4, 10, 6, 12),
				CrossPosition: tiers(0, 0, 2, 5, 3, 8),
				BundleSize:    tiers(0, 0, 2, 5, 3, 8),
				Duration:      tiers(0, 0, 6, 5, 12, 10),
			},
			"huntU": {
				Name:          "huntU",
				SamePosition:  tiers(0, 0, 5, 5, 10, 10, 20, 15, 50, 20),
				CrossPosition: tiers(0, 0, 3, 5, 5, 10),
				BundleSize:    tiers(0, 0, 2, 10, 3, 15),
				Duration:      tiers(0, 0, 3, 5, 6, 10, 12, 15),
			},
			"Amigro": {
				Name:          "Amigro",
				SamePosition:  tiers(0, 0, 10, 5, 25, 10, 50, 15, 100, 20),
				CrossPosition: tiers(0, 0, 3, 3, 5, 5),
				BundleSize:    tiers(0, 0, 2, 5, 3, 10),
				Duration:      tiers(0, 0, 3, 3, 6, 6, 12, 10),
			},
			"SEXSI": {
				Name:          "SEXSI",
				SamePosition:  tiers(0, 0),
				CrossPosition: tiers(0, 0),
				BundleSize:    tiers(0, 0),
				Duration:      tiers(0, 0, 12, 5),
			},
		},
		DurationTiers: tiers(0, 0, 3, 5, 6, 10, 12, 15),
		MilestoneTemplates: map[string][]generic.MilestoneSpec{
			"huntRED": {
				milestone("Firma de contrato", "30", "contract_signed", 0),
				milestone("Presentación de candidatos", "40", "candidates_presented", 30),
				milestone("Contratación", "30", "candidate_hired", 60),
			},
			"huntRED_large": {
				milestone("Firma de contrato", "20", "contract_signed", 0),
				milestone("Perfil aprobado", "20", "profile_approved", 15),
				milestone("Terna presentada", "20", "candidates_presented", 30),
				milestone("Contratación", "20", "candidate_hired", 60),
				milestone("Garantía cumplida", "20", "guarantee_completed", 90),
			},
			"huntRED_retained": {
				milestone("Anticipo", "50", "contract_signed", 0),
				milestone("Terna presentada", "25", "candidates_presented", 30),
				milestone("Contratación", "25", "candidate_hired", 60),
			},
			"huntRED_executive": {
				milestone("Firma de contrato", "25", "contract_signed", 0),
				milestone("Mapeo de mercado", "25", "market_mapped", 21),
				milestone("Terna presentada", "25", "candidates_presented", 45),
				milestone("Contratación", "25", "candidate_hired", 75),
			},
			"huntU": {
				milestone("Firma de contrato", "50", "contract_signed", 0),
				milestone("Contratación", "50", "candidate_hired", 30),
			},
			"Amigro": {
				milestone("Firma de contrato", "50", "contract_signed", 0),
				milestone("Cierre de vacantes", "50", "positions_filled", 30),
			},
			"SEXSI": {
				milestone("Pago único", "100", "contract_signed", 0),
			},
		},
		Bundles: map[string]Bundle{
			"talent_acquisition": {
				ID:           "talent_acquisition",
				Name:         "Talent Acquisition",
				BusinessUnit: "huntRED",
				Required:     []string{"recruitment"},
				Optional:     []string{"talent_360", "onboarding", "assessment"},
				SizeDiscounts: map[int]decimal.Decimal{
					2: decimal.NewFromInt(5),
					3: decimal.NewFromInt(10),
					4: decimal.NewFromInt(15),
				},
			},
			"executive_search": {
				ID:           "executive_search",
				Name:         "Executive Search",
				BusinessUnit: "huntRED_executive",
				Required:     []string{"executive_search"},
				Optional:     []string{"assessment", "talent_360"},
				SizeDiscounts: map[int]decimal.Decimal{
					2: decimal.NewFromInt(5),
					3: decimal.NewFromInt(8),
				},
			},
			"campus_program": {
				ID:           "campus_program",
				Name:         "Campus Program",
				BusinessUnit: "huntU",
				Required:     []string{"campus_recruitment"},
				Optional:     []string{"onboarding", "assessment"},
			},
		},
	}
}

// tiers builds a contiguous axis from (min, pct) pairs; each tier ends one
// below the next min and the last is unbounded.
func tiers(pairs ...int) Tiers {
	result := make(Tiers, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		t := Tier{Min: pairs[i], DiscountPct: decimal.NewFromInt(int64(pairs[i+1]))}
		if i+2 < len(pairs) {
			max := pairs[i+2] - 1
			t.Max = &max
		}
		result = append(result, t)
	}
	return result
}

func milestone(name, pct, trigger string, days int) generic.MilestoneSpec {
	return generic.MilestoneSpec{
		Name:         name,
		Percentage:   decimal.RequireFromString(pct),
		TriggerEvent: trigger,
		DaysOffset:   days,
	}
}
