package economy

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const BaseProducer = "solana_collector"

// RateTable maps building type to per-level production in units per second.
type RateTable map[string][]decimal.Decimal

func DefaultRates() RateTable {
	return RateTable{
		BaseProducer:      ints(5, 8, 12, 17, 23),
		"solana_refinery": ints(12, 18, 26, 36, 50),
	}
}

func ints(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

// Rate returns the production rate for a building. Unknown types and types
// without tiers use the base producer's tiers; levels past the last tier use
// the last tier.
func (t RateTable) Rate(buildingType string, level int) decimal.Decimal {
	tiers, ok := t[buildingType]
	if !ok || len(tiers) == 0 {
		tiers = t[BaseProducer]
	}
	if len(tiers) == 0 {
		return decimal.Zero
	}
	idx := level - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(tiers)-1 {
		idx = len(tiers) - 1
	}
	return tiers[idx]
}

// Produces reports whether buildings of this type contribute to accrual.
func (t RateTable) Produces(buildingType string) bool {
	_, ok := t[buildingType]
	return ok
}

// TotalRate sums the rate of every producing building.
func (t RateTable) TotalRate(buildings []Building) decimal.Decimal {
	total := decimal.Zero
	for _, b := range buildings {
		if !t.Produces(b.Type) {
			continue
		}
		total = total.Add(t.Rate(b.Type, b.Level))
	}
	return total
}

// Accrue is floor(rate * elapsedMs / 1000). Non-positive spans accrue nothing.
func Accrue(rate decimal.Decimal, elapsedMs int64) int64 {
	if elapsedMs <= 0 || !rate.IsPositive() {
		return 0
	}
	return rate.Mul(decimal.NewFromInt(elapsedMs)).Div(decimal.NewFromInt(1000)).Floor().IntPart()
}

// Types lists building types in the table, sorted.
func (t RateTable) Types() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type ratesFile struct {
	Rates map[string][]float64 `yaml:"rates"`
}

// LoadRates reads a YAML file of the form
//
//	rates:
//	  solana_collector: [5, 8, 12]
//
// and merges it over DefaultRates.
func LoadRates(path string) (RateTable, error) {
	t := DefaultRates()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f ratesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("rates.yaml: %w", err)
	}
	for typ, tiers := range f.Rates {
		out := make([]decimal.Decimal, 0, len(tiers))
		for _, r := range tiers {
			if r < 0 {
				return nil, fmt.Errorf("rates.yaml: negative rate for %s", typ)
			}
			out = append(out, decimal.NewFromFloat(r))
		}
		t[typ] = out
	}
	return t, nil
}
