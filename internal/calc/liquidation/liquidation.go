// Package liquidation computes point-in-time liquidation thresholds and
// margin requirements for a perpetual position.
//
// The model is price-only: unrealized PnL and accrued funding are not folded
// into the threshold. A richer real-time-margin variant exists conceptually
// but is deliberately not implemented here.
package liquidation

import (
	"fmt"

	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
	"github.com/MarcusNeufeldt/fundingscope/pkg/numutil"
)

// maintenanceRatio is the maintenance margin as a fraction of initial margin
// for any leverage above 1x.
const maintenanceRatio = 0.5

// Compute derives liquidation price, distance and margin requirements for a
// position at the given price. Leverage of exactly 1 carries no maintenance
// requirement: such a position cannot be liquidated by price alone.
func Compute(currentPrice, leverage, positionSize float64, isLong bool) (core.LiquidationDetails, error) {
	if err := validate(currentPrice, leverage, positionSize); err != nil {
		return core.LiquidationDetails{}, err
	}

	distancePct := 100 / leverage
	distance := currentPrice * distancePct / 100

	liqPrice := currentPrice + distance
	if isLong {
		liqPrice = currentPrice - distance
	}

	initialMargin := positionSize / leverage
	maintenance := 0.0
	if leverage != 1 {
		maintenance = initialMargin * maintenanceRatio
	}

	return core.LiquidationDetails{
		LiquidationPrice:           liqPrice,
		LiquidationDistance:        distance,
		LiquidationDistancePercent: distancePct,
		InitialMarginRequired:      initialMargin,
		MaintenanceMarginRequired:  maintenance,
	}, nil
}

// MaintenanceMargin returns only the maintenance margin requirement.
func MaintenanceMargin(positionSize, leverage float64) (float64, error) {
	details, err := Compute(1, leverage, positionSize, true)
	if err != nil {
		return 0, err
	}
	return details.MaintenanceMarginRequired, nil
}

// WouldBeLiquidated recomputes the liquidation price from entry conditions
// and compares it against the current price. The threshold is inclusive:
// touching the liquidation price counts as liquidated.
func WouldBeLiquidated(currentPrice, entryPrice, leverage float64, isLong bool) (bool, error) {
	details, err := Compute(entryPrice, leverage, entryPrice*leverage, isLong)
	if err != nil {
		return false, err
	}
	if !numutil.IsFinite(currentPrice) || currentPrice <= 0 {
		return false, fmt.Errorf("current price %v: %w", currentPrice, apperrors.ErrInvalidPrice)
	}

	if isLong {
		return currentPrice <= details.LiquidationPrice, nil
	}
	return currentPrice >= details.LiquidationPrice, nil
}

func validate(price, leverage, positionSize float64) error {
	if !numutil.IsFinite(price) || price <= 0 {
		return fmt.Errorf("price %v: %w", price, apperrors.ErrInvalidPrice)
	}
	if !numutil.IsFinite(leverage) || leverage < 1 {
		return fmt.Errorf("leverage %v: %w", leverage, apperrors.ErrInvalidLeverage)
	}
	if !numutil.IsFinite(positionSize) || positionSize <= 0 {
		return fmt.Errorf("position size %v: %w", positionSize, apperrors.ErrInvalidInvestment)
	}
	return nil
}
