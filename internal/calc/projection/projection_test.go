package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/funding"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
)

func baseParams() core.PositionParameters {
	return core.PositionParameters{
		InitialInvestment: 1000,
		Leverage:          10,
		CurrentPrice:      100,
		TargetPrice:       110,
		TimeHorizonDays:   30,
		FundingRate:       0.01,
		Direction:         core.Long,
		Scenario:          "linear",
	}
}

func TestProject_LinearReferenceScenario(t *testing.T) {
	p := New(funding.NewEngine())
	points, err := p.Project(baseParams())
	require.NoError(t, err)
	require.Len(t, points, 31)

	final := points[30]
	assert.Equal(t, 30, final.Day)
	assert.InDelta(t, 110.0, final.Price, 1e-9)
	assert.InDelta(t, 1000.0, final.RawPnL, 1e-9)
	assert.False(t, final.Liquidated)

	// Funding must match the iterative engine output, not a naive closed
	// form: 90 periods of 0.01% on a decaying 10000 notional.
	engine := funding.NewEngine()
	impact, err := engine.Simulate(funding.SimulationInput{
		PositionSize:         10000,
		FundingRatePerPeriod: 0.01,
		Periods:              90,
		Leverage:             10,
		InitialMargin:        1000,
		CurrentPrice:         110,
		IsLong:               true,
	})
	require.NoError(t, err)
	assert.InDelta(t, -impact.TotalFundingFees, final.FundingFees, 1e-9)
	assert.InDelta(t, 1000-impact.TotalFundingFees, final.TotalPnL, 1e-9)
}

func TestProject_SeriesSortedAndSelfConsistent(t *testing.T) {
	p := New(nil)
	points, err := p.Project(baseParams())
	require.NoError(t, err)

	for i, pt := range points {
		assert.Equal(t, i, pt.Day)
		if !pt.Liquidated {
			assert.InDelta(t, pt.TotalPnL/1000*100, pt.PnLPercent, 1e-9, "day %d", i)
		}
		assert.GreaterOrEqual(t, pt.LiquidationRisk, 0.0)
		assert.LessOrEqual(t, pt.LiquidationRisk, 100.0)
	}
}

func TestProject_FlatTargetIsPureFunding(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.TargetPrice = params.CurrentPrice

	points, err := p.Project(params)
	require.NoError(t, err)

	for _, pt := range points {
		require.False(t, pt.Liquidated)
		assert.InDelta(t, 0.0, pt.RawPnL, 1e-9, "day %d", pt.Day)
		assert.InDelta(t, pt.FundingFees, pt.TotalPnL, 1e-9, "day %d", pt.Day)
	}
}

func TestProject_ClosedFormRoundTrip(t *testing.T) {
	p := New(nil)
	params := baseParams()

	points, err := p.Project(params)
	require.NoError(t, err)
	final := points[params.TimeHorizonDays]

	impact, err := p.Engine().Simulate(funding.SimulationInput{
		PositionSize:         params.PositionSize(),
		FundingRatePerPeriod: params.FundingRate,
		Periods:              params.TimeHorizonDays * PeriodsPerDay,
		Leverage:             params.Leverage,
		InitialMargin:        params.InitialInvestment,
		CurrentPrice:         final.Price,
		IsLong:               true,
	})
	require.NoError(t, err)

	closedForm := params.PositionSize()*(params.TargetPrice-params.CurrentPrice)/params.CurrentPrice - impact.TotalFundingFees
	relErr := math.Abs(final.TotalPnL-closedForm) / math.Abs(closedForm)
	assert.Less(t, relErr, 1e-6)
}

func TestProject_HundredXLiquidatesBeforeHorizon(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.Leverage = 100

	points, err := p.Project(params)
	require.NoError(t, err)

	firstLiquidated := -1
	for _, pt := range points {
		if pt.Liquidated {
			firstLiquidated = pt.Day
			break
		}
	}
	require.NotEqual(t, -1, firstLiquidated, "100x must liquidate before day 30")
	assert.Less(t, firstLiquidated, 30)

	// Terminal state repeats for every remaining day.
	for _, pt := range points[firstLiquidated:] {
		assert.True(t, pt.Liquidated, "day %d", pt.Day)
		assert.Equal(t, -1000.0, pt.TotalPnL)
		assert.Equal(t, -100.0, pt.PnLPercent)
		assert.Equal(t, 100.0, pt.LiquidationRisk)
		assert.Equal(t, 0.0, pt.EffectiveMargin)
		assert.Equal(t, core.TierDanger, pt.MarginTier)
	}

	// Deterministic: a second run liquidates on the same day.
	again, err := New(nil).Project(params)
	require.NoError(t, err)
	for _, pt := range again {
		if pt.Liquidated {
			assert.Equal(t, firstLiquidated, pt.Day)
			break
		}
	}
}

func TestProject_OneXNeverLiquidates(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.Leverage = 1
	params.FundingRate = 0.5
	params.TimeHorizonDays = 120

	points, err := p.Project(params)
	require.NoError(t, err)
	for _, pt := range points {
		assert.False(t, pt.Liquidated, "day %d", pt.Day)
	}
}

func TestProject_ShortInvertsRawPnL(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.Direction = core.Short

	points, err := p.Project(params)
	require.NoError(t, err)
	assert.InDelta(t, -1000.0, points[30].RawPnL, 1e-9)
}

func TestProject_UnknownScenarioFails(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.Scenario = "moonshot"

	_, err := p.Project(params)
	assert.ErrorIs(t, err, apperrors.ErrUnknownScenario)
}

func TestProject_RejectsInvalidParams(t *testing.T) {
	p := New(nil)

	params := baseParams()
	params.Leverage = 0.5
	_, err := p.Project(params)
	assert.ErrorIs(t, err, apperrors.ErrInvalidLeverage)

	params = baseParams()
	params.TimeHorizonDays = 0
	_, err = p.Project(params)
	assert.ErrorIs(t, err, apperrors.ErrInvalidHorizon)

	params = baseParams()
	params.CurrentPrice = math.NaN()
	_, err = p.Project(params)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPrice)

	params = baseParams()
	params.Direction = "both"
	_, err = p.Project(params)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDirection)
}

func TestDownsample(t *testing.T) {
	p := New(nil)
	params := baseParams()
	params.TimeHorizonDays = 200

	points, err := p.Project(params)
	require.NoError(t, err)
	require.Len(t, points, 201)

	sparse := Downsample(points, 10)
	assert.Len(t, sparse, 10)
	assert.Equal(t, 0, sparse[0].Day)
	assert.Equal(t, 200, sparse[len(sparse)-1].Day)
	for i := 1; i < len(sparse); i++ {
		assert.Greater(t, sparse[i].Day, sparse[i-1].Day)
	}

	// Short series pass through untouched.
	short := Downsample(points[:5], 10)
	assert.Len(t, short, 5)
}
