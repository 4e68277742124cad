// Package projection composes the scenario library and the funding accrual
// engine into a day-indexed series of position metrics.
package projection

import (
	"fmt"
	"math"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/funding"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/scenario"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
	"github.com/MarcusNeufeldt/fundingscope/pkg/numutil"
)

// PeriodsPerDay is the number of 8h funding intervals in a day.
const PeriodsPerDay = 3

// Pipeline turns position parameters plus a scenario into a projection series.
type Pipeline struct {
	engine *funding.Engine
}

// New creates a projection pipeline on top of a funding engine.
func New(engine *funding.Engine) *Pipeline {
	if engine == nil {
		engine = funding.NewEngine()
	}
	return &Pipeline{engine: engine}
}

// Engine exposes the underlying funding engine (shared with the comparator).
func (p *Pipeline) Engine() *funding.Engine {
	return p.engine
}

// Project produces one point per day from 0 to the horizon inclusive. The
// full-resolution series is the canonical output; Downsample is a separate
// presentation helper. Once a day trips the funding engine's liquidation the
// series latches into a terminal state for every remaining day.
func (p *Pipeline) Project(params core.PositionParameters) ([]core.ProjectionPoint, error) {
	scen, err := ValidateParameters(params)
	if err != nil {
		return nil, err
	}

	horizon := params.TimeHorizonDays
	investment := params.InitialInvestment
	positionSize := params.PositionSize()
	isLong := params.Direction.IsLong()
	baseDailyReturn := (params.TargetPrice - params.CurrentPrice) / params.CurrentPrice / float64(horizon)

	points := make([]core.ProjectionPoint, 0, horizon+1)
	liquidated := false

	for day := 0; day <= horizon; day++ {
		priceChange := scen.Price(day, baseDailyReturn)
		priceAtDay := params.CurrentPrice * (1 + priceChange)
		if priceAtDay < 0 {
			priceAtDay = 0
		}

		if liquidated {
			points = append(points, terminalPoint(day, priceAtDay, investment))
			continue
		}

		modifiedRate := scen.Funding(day, params.FundingRate, priceChange)

		// The accrual math itself is price-independent; the entry price
		// stands in when the trajectory has collapsed to zero.
		enginePrice := priceAtDay
		if enginePrice <= 0 {
			enginePrice = params.CurrentPrice
		}

		impact, err := p.engine.Simulate(funding.SimulationInput{
			PositionSize:         positionSize,
			FundingRatePerPeriod: modifiedRate,
			Periods:              day * PeriodsPerDay,
			Leverage:             params.Leverage,
			InitialMargin:        investment,
			CurrentPrice:         enginePrice,
			IsLong:               isLong,
		})
		if err != nil {
			return nil, fmt.Errorf("funding simulation at day %d: %w", day, err)
		}

		if impact.Liquidated && day >= impact.LiquidationPeriod/PeriodsPerDay {
			liquidated = true
			points = append(points, terminalPoint(day, priceAtDay, investment))
			continue
		}

		rawPnL := positionSize * priceChange
		if !isLong {
			rawPnL = -rawPnL
		}
		totalPnL := rawPnL - math.Abs(impact.TotalFundingFees)

		points = append(points, core.ProjectionPoint{
			Day:             day,
			Price:           priceAtDay,
			RawPnL:          rawPnL,
			FundingFees:     -impact.TotalFundingFees, // cost is negative
			TotalPnL:        totalPnL,
			PnLPercent:      totalPnL / investment * 100,
			LiquidationRisk: impact.LiquidationRisk,
			EffectiveMargin: impact.EffectiveMargin,
			MarginTier:      tierFor(impact.LiquidationRisk),
		})
	}

	return points, nil
}

// terminalPoint is the state a liquidated position reports for the rest of
// the horizon: the full margin is gone and nothing can recover it. The price
// keeps following the scenario so charts stay continuous.
func terminalPoint(day int, price, investment float64) core.ProjectionPoint {
	return core.ProjectionPoint{
		Day:             day,
		Price:           price,
		RawPnL:          -investment,
		FundingFees:     -investment,
		TotalPnL:        -investment,
		PnLPercent:      -100,
		LiquidationRisk: 100,
		EffectiveMargin: 0,
		Liquidated:      true,
		MarginTier:      core.TierDanger,
	}
}

func tierFor(risk float64) core.MarginTier {
	switch {
	case risk > 80:
		return core.TierDanger
	case risk > 60:
		return core.TierWarning
	default:
		return core.TierSafe
	}
}

// Downsample reduces a series to at most maxPoints evenly spaced entries
// while always keeping the final day. Presentation only; callers needing
// correctness work on the full series.
func Downsample(points []core.ProjectionPoint, maxPoints int) []core.ProjectionPoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		out := make([]core.ProjectionPoint, len(points))
		copy(out, points)
		return out
	}
	if maxPoints == 1 {
		return []core.ProjectionPoint{points[len(points)-1]}
	}

	stride := float64(len(points)-1) / float64(maxPoints-1)
	out := make([]core.ProjectionPoint, 0, maxPoints)
	for i := 0; i < maxPoints-1; i++ {
		out = append(out, points[int(math.Round(float64(i)*stride))])
	}
	out = append(out, points[len(points)-1])
	return out
}

// ValidateParameters checks the caller contract shared by the projection,
// comparison and advisor entry points, and resolves the scenario.
func ValidateParameters(params core.PositionParameters) (scenario.Scenario, error) {
	if !numutil.IsFinite(params.InitialInvestment) || params.InitialInvestment <= 0 {
		return 0, fmt.Errorf("investment %v: %w", params.InitialInvestment, apperrors.ErrInvalidInvestment)
	}
	if !numutil.IsFinite(params.Leverage) || params.Leverage < 1 {
		return 0, fmt.Errorf("leverage %v: %w", params.Leverage, apperrors.ErrInvalidLeverage)
	}
	if !numutil.IsFinite(params.CurrentPrice) || params.CurrentPrice <= 0 {
		return 0, fmt.Errorf("current price %v: %w", params.CurrentPrice, apperrors.ErrInvalidPrice)
	}
	if !numutil.IsFinite(params.TargetPrice) || params.TargetPrice < 0 {
		return 0, fmt.Errorf("target price %v: %w", params.TargetPrice, apperrors.ErrInvalidPrice)
	}
	if params.TimeHorizonDays < 1 {
		return 0, fmt.Errorf("horizon %d days: %w", params.TimeHorizonDays, apperrors.ErrInvalidHorizon)
	}
	if !numutil.IsFinite(params.FundingRate) {
		return 0, fmt.Errorf("funding rate %v: %w", params.FundingRate, apperrors.ErrInvalidFunding)
	}
	if !params.Direction.Valid() {
		return 0, fmt.Errorf("direction %q: %w", params.Direction, apperrors.ErrInvalidDirection)
	}
	return scenario.Parse(params.Scenario)
}
