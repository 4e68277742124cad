// Package advisor maps projection and comparison outputs into an ordered
// list of advisory messages. It is a rules evaluator: each rule inspects the
// derived metrics independently and conditionally appends one recommendation;
// nothing here searches or optimizes.
package advisor

import (
	"fmt"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/projection"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/scenario"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
)

// Funding-drag thresholds as a fraction of posted margin.
const (
	fundingDragHigh   = 0.5
	fundingDragMedium = 0.25
	fundingDragLow    = 0.1
)

// Leverage above which a high-risk scenario earns its own warning.
const highRiskLeverage = 10

// Advisor evaluates the recommendation rules.
type Advisor struct {
	logger core.Logger
}

// New creates an advisor. Logger may be nil.
func New(logger core.Logger) *Advisor {
	return &Advisor{logger: logger}
}

// Recommend runs every rule against the inputs. Rules append in evaluation
// order; liquidation-imminent warnings are moved to the front of the list.
func (a *Advisor) Recommend(
	params core.PositionParameters,
	points []core.ProjectionPoint,
	cmp core.SpotComparisonResult,
) ([]core.Recommendation, error) {
	scen, err := projection.ValidateParameters(params)
	if err != nil {
		return nil, err
	}

	var recs []core.Recommendation
	var urgent []core.Recommendation

	if r, ok := liquidationRule(params, points, scen); ok {
		urgent = append(urgent, r)
		if a.logger != nil {
			a.logger.Warn("Projection liquidates within horizon",
				"scenario", scen.Name(), "leverage", params.Leverage)
		}
	}
	if r, ok := marginErosionRule(points); ok {
		recs = append(recs, r)
	}
	if r, ok := fundingDragRule(params, points); ok {
		recs = append(recs, r)
	}
	if r, ok := fundingEarningsRule(params); ok {
		recs = append(recs, r)
	}
	if r, ok := spotAlternativeRule(cmp); ok {
		recs = append(recs, r)
	}
	if r, ok := leverageNotWorthItRule(cmp); ok {
		recs = append(recs, r)
	}
	if r, ok := scenarioRiskRule(params, scen); ok {
		recs = append(recs, r)
	}
	if r, ok := peakTimingRule(params, scen); ok {
		recs = append(recs, r)
	}
	if r, ok := healthyPositionRule(cmp); ok {
		recs = append(recs, r)
	}

	return append(urgent, recs...), nil
}

func liquidationRule(params core.PositionParameters, points []core.ProjectionPoint, scen scenario.Scenario) (core.Recommendation, bool) {
	for _, pt := range points {
		if pt.Liquidated {
			return core.Recommendation{
				Category: "liquidation",
				Title:    "Liquidation within horizon",
				Description: fmt.Sprintf(
					"Under the %s scenario the position is liquidated on day %d of %d; the full %.0f margin is lost.",
					scen.Name(), pt.Day, params.TimeHorizonDays, params.InitialInvestment),
				Severity: core.SeverityHigh,
				Action:   "Reduce leverage or post more margin before entering",
			}, true
		}
	}
	return core.Recommendation{}, false
}

func marginErosionRule(points []core.ProjectionPoint) (core.Recommendation, bool) {
	if len(points) == 0 {
		return core.Recommendation{}, false
	}
	final := points[len(points)-1]
	if final.Liquidated || final.MarginTier == core.TierSafe {
		return core.Recommendation{}, false
	}

	severity := core.SeverityMedium
	if final.MarginTier == core.TierDanger {
		severity = core.SeverityHigh
	}
	return core.Recommendation{
		Category: "margin",
		Title:    "Margin buffer erodes over the horizon",
		Description: fmt.Sprintf(
			"Liquidation risk reaches %.0f%% by day %d without any adverse price move beyond the scenario path.",
			final.LiquidationRisk, final.Day),
		Severity: severity,
		Action:   "Plan a margin top-up or shorten the holding period",
	}, true
}

func fundingDragRule(params core.PositionParameters, points []core.ProjectionPoint) (core.Recommendation, bool) {
	if len(points) == 0 {
		return core.Recommendation{}, false
	}
	final := points[len(points)-1]
	if final.Liquidated || final.FundingFees >= 0 {
		return core.Recommendation{}, false
	}

	ratio := -final.FundingFees / params.InitialInvestment
	switch {
	case ratio > fundingDragHigh:
		return core.Recommendation{
			Category: "funding",
			Title:    "Funding consumes most of the margin",
			Description: fmt.Sprintf(
				"Accrued funding reaches %.1f%% of posted margin by day %d.", ratio*100, final.Day),
			Severity: core.SeverityHigh,
			Action:   "Cut the holding period or wait for funding to normalize",
		}, true
	case ratio > fundingDragMedium:
		return core.Recommendation{
			Category: "funding",
			Title:    "Heavy funding drag",
			Description: fmt.Sprintf(
				"Funding fees absorb %.1f%% of margin over the horizon.", ratio*100),
			Severity: core.SeverityMedium,
		}, true
	case ratio > fundingDragLow:
		return core.Recommendation{
			Category: "funding",
			Title:    "Noticeable funding cost",
			Description: fmt.Sprintf(
				"Funding fees amount to %.1f%% of margin over the horizon.", ratio*100),
			Severity: core.SeverityLow,
		}, true
	}
	return core.Recommendation{}, false
}

// fundingEarningsRule flags the favorable case: a negative effective rate
// means the position collects funding and its margin grows over time.
func fundingEarningsRule(params core.PositionParameters) (core.Recommendation, bool) {
	if params.FundingRate >= 0 {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "funding",
		Title:    "Position collects funding",
		Description: fmt.Sprintf(
			"At %.4f%% per interval the position is paid funding rather than charged; margin grows while the rate holds.",
			params.FundingRate),
		Severity: core.SeverityLow,
	}, true
}

func spotAlternativeRule(cmp core.SpotComparisonResult) (core.Recommendation, bool) {
	if !cmp.FundingSignificant {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "comparison",
		Title:    "Funding erases the leverage edge",
		Description: fmt.Sprintf(
			"Funding drag of %.1f%% of margin is significant relative to the projected PnL; an unleveraged spot holding returns %.1f%% with none of it.",
			cmp.FundingDragPct, cmp.SpotReturnPct),
		Severity: core.SeverityMedium,
		Action:   "Consider holding spot instead of the perpetual",
	}, true
}

func leverageNotWorthItRule(cmp core.SpotComparisonResult) (core.Recommendation, bool) {
	if cmp.LeverageWorthIt {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "comparison",
		Title:    "Leverage does not pay for its risk",
		Description: fmt.Sprintf(
			"Leveraged return of %.1f%% fails the worth-it gate against a spot return of %.1f%% (margin buffer %.1f%%).",
			cmp.LeveragedReturnPct, cmp.SpotReturnPct, cmp.MarginBufferPct),
		Severity: core.SeverityMedium,
	}, true
}

func scenarioRiskRule(params core.PositionParameters, scen scenario.Scenario) (core.Recommendation, bool) {
	c := scen.Characteristics()
	if c.RiskTier != scenario.TierHigh || params.Leverage <= highRiskLeverage {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "scenario",
		Title:    "High leverage in a high-risk scenario",
		Description: fmt.Sprintf(
			"%s carries a %.1fx risk multiplier; at %.0fx leverage the drawdowns along its path can liquidate before the trend completes.",
			scen.Name(), c.RiskMultiplier, params.Leverage),
		Severity: core.SeverityHigh,
		Action:   "Drop leverage below 10x for volatile trajectories",
	}, true
}

func peakTimingRule(params core.PositionParameters, scen scenario.Scenario) (core.Recommendation, bool) {
	c := scen.Characteristics()
	if c.PeakDay == 0 || params.TimeHorizonDays >= c.PeakDay {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "scenario",
		Title:    "Horizon ends before the scenario peak",
		Description: fmt.Sprintf(
			"%s historically peaks near day %d, but the horizon is only %d days; the projected move is mostly still ahead at exit.",
			scen.Name(), c.PeakDay, params.TimeHorizonDays),
		Severity: core.SeverityLow,
		Action:   fmt.Sprintf("Extend the horizon toward day %d or pick a faster scenario", c.PeakDay),
	}, true
}

func healthyPositionRule(cmp core.SpotComparisonResult) (core.Recommendation, bool) {
	if !cmp.LeverageWorthIt {
		return core.Recommendation{}, false
	}
	return core.Recommendation{
		Category: "comparison",
		Title:    "Leverage justified under this scenario",
		Description: fmt.Sprintf(
			"Leveraged return of %.1f%% clears the worth-it gate with a %.1f%% margin buffer and tolerable funding drag.",
			cmp.LeveragedReturnPct, cmp.MarginBufferPct),
		Severity: core.SeverityLow,
	}, true
}
