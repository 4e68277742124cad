// Package funding simulates funding-fee accrual over discrete 8h periods and
// its compounding effect on margin and position size.
package funding

import (
	"fmt"
	"sync"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/liquidation"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
	"github.com/MarcusNeufeldt/fundingscope/pkg/numutil"
)

// SimulationInput is the full input tuple for one accrual simulation. It is
// also the memoization key, so every field must stay comparable.
type SimulationInput struct {
	PositionSize         float64
	FundingRatePerPeriod float64 // percent per period
	Periods              int
	Leverage             float64
	InitialMargin        float64
	CurrentPrice         float64
	IsLong               bool
}

// Engine runs funding accrual simulations. It owns an explicit memo cache
// keyed by the input tuple; the cache is a pure performance optimization and
// can be reset at any time without changing results.
type Engine struct {
	mu    sync.RWMutex
	cache map[SimulationInput]core.FundingImpactResult

	hits   uint64
	misses uint64
}

// NewEngine creates a funding accrual engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{
		cache: make(map[SimulationInput]core.FundingImpactResult),
	}
}

// ResetCache drops all memoized results.
func (e *Engine) ResetCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[SimulationInput]core.FundingImpactResult)
	e.hits = 0
	e.misses = 0
}

// CacheStats returns the number of cache hits and misses since the last reset.
func (e *Engine) CacheStats() (hits, misses uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hits, e.misses
}

// Simulate accrues funding period by period. Each period charges
// positionSize * rate / 100 and shrinks the deployable position proportionally
// to the remaining margin. A period whose margin has already fallen to the
// maintenance requirement never starts: the position is stopped out at that
// period's open, with the loss capped at the initial margin.
func (e *Engine) Simulate(in SimulationInput) (core.FundingImpactResult, error) {
	if err := validateInput(in); err != nil {
		return core.FundingImpactResult{}, err
	}

	e.mu.RLock()
	cached, ok := e.cache[in]
	e.mu.RUnlock()
	if ok {
		e.mu.Lock()
		e.hits++
		e.mu.Unlock()
		return cached, nil
	}

	result := e.run(in)

	e.mu.Lock()
	e.misses++
	e.cache[in] = result
	e.mu.Unlock()

	return result, nil
}

func (e *Engine) run(in SimulationInput) core.FundingImpactResult {
	// Inputs were validated in Simulate, so this cannot fail.
	maintenance, _ := liquidation.MaintenanceMargin(in.PositionSize, in.Leverage)

	currentSize := in.PositionSize
	totalFees := 0.0
	breakdown := make([]core.FundingPeriod, 0, in.Periods)

	for p := 0; p < in.Periods; p++ {
		effective := in.InitialMargin - totalFees
		if effective <= maintenance {
			return liquidatedResult(in, p, breakdown)
		}

		fee := currentSize * in.FundingRatePerPeriod / 100
		totalFees += fee

		after := in.InitialMargin - totalFees
		currentSize = in.PositionSize * after / in.InitialMargin

		breakdown = append(breakdown, core.FundingPeriod{
			Period:            p,
			Fee:               fee,
			MaintenanceMargin: maintenance,
			MarginBuffer:      after - maintenance,
			EffectiveMargin:   after,
		})
	}

	effective := in.InitialMargin - totalFees
	return core.FundingImpactResult{
		TotalFundingFees: totalFees,
		EffectiveMargin:  effective,
		LiquidationRisk:  riskScore(in, effective, maintenance),
		Breakdown:        breakdown,
	}
}

func liquidatedResult(in SimulationInput, period int, breakdown []core.FundingPeriod) core.FundingImpactResult {
	return core.FundingImpactResult{
		TotalFundingFees:  in.InitialMargin, // loss capped at posted margin
		EffectiveMargin:   0,
		LiquidationRisk:   100,
		Liquidated:        true,
		LiquidationPeriod: period,
		Breakdown:         breakdown,
	}
}

// riskScore maps the remaining margin to [0, 100]. At 1x leverage there is no
// maintenance requirement, so risk is simply the share of margin consumed;
// above 1x it is the share of initial margin no longer available as buffer
// over the maintenance floor.
func riskScore(in SimulationInput, effective, maintenance float64) float64 {
	var risk float64
	if in.Leverage == 1 {
		risk = (in.InitialMargin - effective) / in.InitialMargin * 100
	} else {
		buffer := effective - maintenance
		risk = 100 * (1 - buffer/in.InitialMargin)
	}
	return numutil.Clamp(risk, 0, 100)
}

func validateInput(in SimulationInput) error {
	if !numutil.IsFinite(in.Leverage) || in.Leverage < 1 {
		return fmt.Errorf("leverage %v: %w", in.Leverage, apperrors.ErrInvalidLeverage)
	}
	if !numutil.IsFinite(in.InitialMargin) || in.InitialMargin <= 0 {
		return fmt.Errorf("initial margin %v: %w", in.InitialMargin, apperrors.ErrInvalidInvestment)
	}
	if !numutil.IsFinite(in.PositionSize) || in.PositionSize <= 0 {
		return fmt.Errorf("position size %v: %w", in.PositionSize, apperrors.ErrInvalidInvestment)
	}
	if !numutil.IsFinite(in.CurrentPrice) || in.CurrentPrice <= 0 {
		return fmt.Errorf("price %v: %w", in.CurrentPrice, apperrors.ErrInvalidPrice)
	}
	if !numutil.IsFinite(in.FundingRatePerPeriod) {
		return fmt.Errorf("funding rate %v: %w", in.FundingRatePerPeriod, apperrors.ErrInvalidFunding)
	}
	if in.Periods < 0 {
		return fmt.Errorf("periods %d: %w", in.Periods, apperrors.ErrInvalidPeriods)
	}
	return nil
}

// Liquidation re-exports the point-in-time details for the engine's inputs,
// so callers holding a SimulationInput can inspect thresholds without
// re-deriving them.
func (e *Engine) Liquidation(in SimulationInput) (core.LiquidationDetails, error) {
	return liquidation.Compute(in.CurrentPrice, in.Leverage, in.PositionSize, in.IsLong)
}
