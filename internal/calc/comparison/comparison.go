// Package comparison computes the end-of-horizon comparison between an
// unleveraged spot holding and the leveraged perpetual position.
package comparison

import (
	"fmt"
	"math"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/funding"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/projection"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
)

// Funding-significance gate: both conditions must hold, so a tiny PnL with a
// tiny fee does not raise a false positive.
const (
	fundingVsInvestmentThreshold = 0.02
	fundingVsPnLThreshold        = 0.5
)

// Worth-it gate thresholds.
const (
	worthItReturnMultiple  = 1.5
	worthItBufferPct       = 20.0
	worthItOverrideReturns = 3.0
)

// Comparator evaluates spot vs leveraged outcomes using the same funding
// engine as the projection pipeline, so both agree at the horizon.
type Comparator struct {
	engine *funding.Engine
}

// New creates a comparator sharing the given funding engine.
func New(engine *funding.Engine) *Comparator {
	if engine == nil {
		engine = funding.NewEngine()
	}
	return &Comparator{engine: engine}
}

// Compare produces the single-point end-of-horizon comparison.
func (c *Comparator) Compare(params core.PositionParameters) (core.SpotComparisonResult, error) {
	scen, err := projection.ValidateParameters(params)
	if err != nil {
		return core.SpotComparisonResult{}, err
	}

	horizon := params.TimeHorizonDays
	investment := params.InitialInvestment
	baseDailyReturn := (params.TargetPrice - params.CurrentPrice) / params.CurrentPrice / float64(horizon)

	finalMove := scen.Price(horizon, baseDailyReturn)
	finalPrice := params.CurrentPrice * (1 + finalMove)
	if finalPrice <= 0 {
		finalPrice = params.CurrentPrice
	}

	impact, err := c.engine.Simulate(funding.SimulationInput{
		PositionSize:         params.PositionSize(),
		FundingRatePerPeriod: scen.Funding(horizon, params.FundingRate, finalMove),
		Periods:              horizon * projection.PeriodsPerDay,
		Leverage:             params.Leverage,
		InitialMargin:        investment,
		CurrentPrice:         finalPrice,
		IsLong:               params.Direction.IsLong(),
	})
	if err != nil {
		return core.SpotComparisonResult{}, fmt.Errorf("funding simulation: %w", err)
	}
	fees := impact.TotalFundingFees

	spotPnL := investment * finalMove
	if !params.Direction.IsLong() {
		spotPnL = -spotPnL
	}
	leveragedPnL := spotPnL*params.Leverage - fees

	characteristics := scen.Characteristics()
	risk := math.Abs(finalMove) * 100 * characteristics.RiskMultiplier

	spotSharpe := 0.0
	leveragedSharpe := 0.0
	if risk > 0 {
		spotSharpe = spotPnL / (risk * investment)
		leveragedSharpe = leveragedPnL / (risk * params.Leverage * investment)
	}

	spotReturn := spotPnL / investment * 100
	leveragedReturn := leveragedPnL / investment * 100

	// fundingToPnL is +Inf when funding ate a PnL of exactly zero; the ratio
	// is never allowed to surface as NaN.
	fundingToPnL := 0.0
	switch {
	case leveragedPnL != 0:
		fundingToPnL = fees / math.Abs(leveragedPnL)
	case fees > 0:
		fundingToPnL = math.Inf(1)
	}
	fundingSignificant := fees/investment > fundingVsInvestmentThreshold &&
		fundingToPnL > fundingVsPnLThreshold

	// Simplified margin view: maintenance at half the posted margin above 1x.
	maintenance := 0.0
	if params.Leverage != 1 {
		maintenance = investment * 0.5
	}
	marginBufferPct := (impact.EffectiveMargin - maintenance) / investment * 100

	// Deliberately a conjunction with a single disjunctive escape hatch, not
	// a weighted score: leverage must clearly beat spot AND keep a real
	// margin buffer, AND funding must either be insignificant or be paid for
	// by a 3x return advantage.
	worthIt := leveragedReturn > worthItReturnMultiple*spotReturn &&
		marginBufferPct > worthItBufferPct &&
		(!fundingSignificant || leveragedReturn > worthItOverrideReturns*spotReturn)

	multiple := 0.0
	multipleDefined := spotPnL != 0
	if multipleDefined {
		multiple = leveragedPnL / spotPnL
	}

	return core.SpotComparisonResult{
		SpotPnL:            spotPnL,
		SpotReturnPct:      spotReturn,
		LeveragedPnL:       leveragedPnL,
		LeveragedReturnPct: leveragedReturn,
		SpotSharpe:         spotSharpe,
		LeveragedSharpe:    leveragedSharpe,
		FundingSignificant: fundingSignificant,
		LeverageWorthIt:    worthIt,
		LeverageMultiple:   multiple,
		MultipleDefined:    multipleDefined,
		FundingDragPct:     fees / investment * 100,
		LiquidationRisk:    impact.LiquidationRisk,
		MarginBufferPct:    marginBufferPct,
	}, nil
}
