// Package scenario holds the closed catalog of price/funding trajectory
// shapes. The set is fixed; every table in the system matches it
// exhaustively, so new scenarios mean touching this package and nothing else
// silently defaults.
package scenario

import (
	"fmt"
	"math"
	"strings"

	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
)

// Scenario identifies one named trajectory shape.
type Scenario int

const (
	Linear Scenario = iota
	ExponentialPump
	VolatileGrowth
	Sideways
	Parabolic
	Accumulation
	CascadingPump
	MarketCycle
)

// RiskTier buckets scenarios for the recommendation rules.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// PriceModifierFunc maps (day, base daily return) to the cumulative adjusted
// return for that day.
type PriceModifierFunc func(day int, baseDailyReturn float64) float64

// FundingModifierFunc maps (day, base funding rate, cumulative price change
// fraction) to the adjusted funding rate for that day.
type FundingModifierFunc func(day int, baseRate, priceChange float64) float64

// Characteristics are the static per-scenario heuristics consumed by the
// comparator and the recommendation engine.
type Characteristics struct {
	RiskMultiplier    float64  `json:"risk_multiplier"`
	RiskTier          RiskTier `json:"risk_tier"`
	PeakDay           int      `json:"peak_day"` // 0 means the horizon end
	FundingMultiplier float64  `json:"funding_multiplier"`
	Description       string   `json:"description"`
}

type definition struct {
	name            string
	price           PriceModifierFunc
	funding         FundingModifierFunc
	characteristics Characteristics
}

// The catalog is static, process-wide, read-only data.
var catalog = map[Scenario]definition{
	Linear: {
		name:    "linear",
		price:   linearPrice,
		funding: passthroughFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.0,
			RiskTier:          TierLow,
			FundingMultiplier: 1.0,
			Description:       "Steady move toward the target at a constant daily rate",
		},
	},
	ExponentialPump: {
		name:    "exponential_pump",
		price:   exponentialPumpPrice,
		funding: exponentialPumpFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.5,
			RiskTier:          TierHigh,
			FundingMultiplier: 2.0,
			Description:       "Linear trajectory with funding spiking as price runs up",
		},
	},
	VolatileGrowth: {
		name:    "volatile_growth",
		price:   volatileGrowthPrice,
		funding: volatileGrowthFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.8,
			RiskTier:          TierMedium,
			FundingMultiplier: 1.5,
			Description:       "Uptrend with heavy oscillation in both price and funding",
		},
	},
	Sideways: {
		name:    "sideways",
		price:   sidewaysPrice,
		funding: sidewaysFunding,
		characteristics: Characteristics{
			RiskMultiplier:    0.8,
			RiskTier:          TierLow,
			FundingMultiplier: 1.1,
			Description:       "Range-bound chop; funding dominates the PnL",
		},
	},
	Parabolic: {
		name:    "parabolic",
		price:   parabolicPrice,
		funding: parabolicFunding,
		characteristics: Characteristics{
			RiskMultiplier:    2.0,
			RiskTier:          TierHigh,
			FundingMultiplier: 1.5,
			Description:       "Slow start accelerating into a blow-off move",
		},
	},
	Accumulation: {
		name:    "accumulation",
		price:   accumulationPrice,
		funding: accumulationFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.2,
			RiskTier:          TierMedium,
			PeakDay:           80,
			FundingMultiplier: 1.0,
			Description:       "Suppressed price until day 50, then a quadratic breakout",
		},
	},
	CascadingPump: {
		name:    "cascading_pump",
		price:   cascadingPumpPrice,
		funding: cascadingPumpFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.7,
			RiskTier:          TierHigh,
			FundingMultiplier: 1.8,
			Description:       "Stacked pump waves of growing amplitude on a linear base",
		},
	},
	MarketCycle: {
		name:    "market_cycle",
		price:   marketCyclePrice,
		funding: marketCycleFunding,
		characteristics: Characteristics{
			RiskMultiplier:    1.5,
			RiskTier:          TierMedium,
			PeakDay:           60,
			FundingMultiplier: 1.5,
			Description:       "100-day accumulation / markup / distribution / decline cycle",
		},
	},
}

// All returns every scenario in catalog order.
func All() []Scenario {
	return []Scenario{
		Linear, ExponentialPump, VolatileGrowth, Sideways,
		Parabolic, Accumulation, CascadingPump, MarketCycle,
	}
}

// Parse resolves a scenario by its canonical name. Unknown names are a caller
// bug and fail fast rather than defaulting.
func Parse(name string) (Scenario, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for s, def := range catalog {
		if def.name == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("scenario %q: %w", name, apperrors.ErrUnknownScenario)
}

// Name returns the canonical name of the scenario.
func (s Scenario) Name() string {
	return catalog[s].name
}

// Price applies the scenario's price modifier.
func (s Scenario) Price(day int, baseDailyReturn float64) float64 {
	return catalog[s].price(day, baseDailyReturn)
}

// Funding applies the scenario's funding-rate modifier.
func (s Scenario) Funding(day int, baseRate, priceChange float64) float64 {
	return catalog[s].funding(day, baseRate, priceChange)
}

// Characteristics returns the static heuristics for the scenario.
func (s Scenario) Characteristics() Characteristics {
	return catalog[s].characteristics
}

func linearPrice(day int, r float64) float64 {
	return r * float64(day)
}

func passthroughFunding(_ int, baseRate, _ float64) float64 {
	return baseRate
}

// exponentialPumpPrice computes r * d^1.5 / d^0.5. Algebraically this reduces
// to r*d, but the power form is kept so the family of scenarios shares one
// structure. Day 0 is defined as 0 (the reduction's value) since the raw form
// is 0/0 there.
func exponentialPumpPrice(day int, r float64) float64 {
	if day == 0 {
		return 0
	}
	d := float64(day)
	return r * math.Pow(d, 1.5) / math.Pow(d, 0.5)
}

func exponentialPumpFunding(_ int, baseRate, priceChange float64) float64 {
	return baseRate * (1 + 2*math.Max(0, priceChange))
}

func volatileGrowthPrice(day int, r float64) float64 {
	d := float64(day)
	return r * d * (1 + 0.3*math.Sin(d/10))
}

func volatileGrowthFunding(day int, baseRate, _ float64) float64 {
	d := float64(day)
	return baseRate * (1 + 0.5*math.Sin(d/5))
}

func sidewaysPrice(day int, r float64) float64 {
	d := float64(day)
	return r*d*0.1 + math.Sin(d/15)*0.1
}

func sidewaysFunding(day int, baseRate, _ float64) float64 {
	d := float64(day)
	return baseRate * (1 + 0.1*math.Sin(d/10))
}

func parabolicPrice(day int, r float64) float64 {
	d := float64(day)
	return r * math.Pow(d/100, 2)
}

func parabolicFunding(day int, baseRate, _ float64) float64 {
	d := float64(day)
	return baseRate * (1 + math.Pow(d/100, 1.5))
}

const accumulationBreakoutDay = 50

func accumulationPrice(day int, r float64) float64 {
	d := float64(day)
	suppressed := r * d * 0.2
	if day < accumulationBreakoutDay {
		return suppressed
	}
	return suppressed + math.Pow((d-accumulationBreakoutDay)/30, 2)
}

func accumulationFunding(day int, baseRate, _ float64) float64 {
	if day < accumulationBreakoutDay {
		return baseRate * 0.5
	}
	d := float64(day)
	return baseRate * (1 + math.Pow((d-accumulationBreakoutDay)/30, 1.5))
}

// cascadingPumpPrice layers three sine waves of increasing amplitude and
// decreasing frequency on the linear base; each wave ramps in via min(1, d/k)
// so the early days stay close to linear.
func cascadingPumpPrice(day int, r float64) float64 {
	d := float64(day)
	wave1 := 0.1 * math.Sin(d/5) * math.Min(1, d/10)
	wave2 := 0.2 * math.Sin(d/10) * math.Min(1, d/20)
	wave3 := 0.3 * math.Sin(d/20) * math.Min(1, d/30)
	return r * d * (1 + wave1 + wave2 + wave3)
}

func cascadingPumpFunding(day int, baseRate, priceChange float64) float64 {
	d := float64(day)
	return baseRate * (1 + math.Abs(math.Sin(d/20)) + math.Abs(priceChange))
}

// marketCyclePrice shapes the linear base through a four-phase cycle
// repeating every 100 days: accumulation below 30%, markup to 60%,
// distribution to 80%, decline above.
func marketCyclePrice(day int, r float64) float64 {
	d := float64(day)
	p := math.Mod(d, 100) / 100

	var mult float64
	switch {
	case p < 0.3:
		mult = 0.2 + 0.3*math.Pow(p/0.3, 2)
	case p < 0.6:
		mult = 0.5 + 1.0*math.Pow((p-0.3)/0.3, 2)
	case p < 0.8:
		mult = 1.5 - 0.3*math.Pow((p-0.6)/0.2, 2)
	default:
		mult = 1.2 - 0.7*math.Pow((p-0.8)/0.2, 2)
	}
	return r * d * mult
}

func marketCycleFunding(day int, baseRate, priceChange float64) float64 {
	p := math.Mod(float64(day), 100) / 100
	phaseScale := 0.5
	if p < 0.6 {
		phaseScale = 2
	}
	return baseRate * (1 + math.Abs(priceChange)*phaseScale)
}
