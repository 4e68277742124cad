// Package core defines the shared domain types and interfaces for fundingscope
package core

import "time"

// Direction is the side of a perpetual position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// IsLong reports whether the direction is long.
func (d Direction) IsLong() bool {
	return d == Long
}

// Valid reports whether the direction is one of the two known sides.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// PositionParameters is the immutable input to every calculation. The core
// never mutates it; ownership stays with the caller.
type PositionParameters struct {
	InitialInvestment float64   `json:"initial_investment"` // margin posted, currency units, > 0
	Leverage          float64   `json:"leverage"`           // notional / margin, >= 1
	CurrentPrice      float64   `json:"current_price"`      // > 0
	TargetPrice       float64   `json:"target_price"`       // >= 0
	TimeHorizonDays   int       `json:"time_horizon_days"`  // whole days, >= 1
	FundingRate       float64   `json:"funding_rate"`       // percent per 8h interval, any sign
	Direction         Direction `json:"direction"`
	Scenario          string    `json:"scenario"`
}

// PositionSize returns the notional position size.
func (p PositionParameters) PositionSize() float64 {
	return p.InitialInvestment * p.Leverage
}

// LiquidationDetails is a point-in-time view of liquidation thresholds.
type LiquidationDetails struct {
	LiquidationPrice           float64 `json:"liquidation_price"`
	LiquidationDistance        float64 `json:"liquidation_distance"`
	LiquidationDistancePercent float64 `json:"liquidation_distance_percent"`
	InitialMarginRequired      float64 `json:"initial_margin_required"`
	MaintenanceMarginRequired  float64 `json:"maintenance_margin_required"`
}

// FundingPeriod is one row of the accrual breakdown.
type FundingPeriod struct {
	Period            int     `json:"period"`
	Fee               float64 `json:"fee"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	MarginBuffer      float64 `json:"margin_buffer"`
	EffectiveMargin   float64 `json:"effective_margin"`
}

// FundingImpactResult is the outcome of simulating funding accrual over a
// number of periods.
type FundingImpactResult struct {
	TotalFundingFees  float64         `json:"total_funding_fees"`
	EffectiveMargin   float64         `json:"effective_margin"`
	LiquidationRisk   float64         `json:"liquidation_risk"` // 0-100
	Liquidated        bool            `json:"liquidated"`
	LiquidationPeriod int             `json:"liquidation_period"` // valid only when Liquidated
	Breakdown         []FundingPeriod `json:"breakdown,omitempty"`
}

// MarginTier labels how close a projection point sits to liquidation.
type MarginTier string

const (
	TierSafe    MarginTier = "safe"
	TierWarning MarginTier = "warning"
	TierDanger  MarginTier = "danger"
)

// ProjectionPoint is one day of the projected position series.
type ProjectionPoint struct {
	Day             int        `json:"day"`
	Price           float64    `json:"price"`
	RawPnL          float64    `json:"raw_pnl"`
	FundingFees     float64    `json:"funding_fees"` // signed, cost is negative
	TotalPnL        float64    `json:"total_pnl"`
	PnLPercent      float64    `json:"pnl_percent"`
	LiquidationRisk float64    `json:"liquidation_risk"`
	EffectiveMargin float64    `json:"effective_margin"`
	Liquidated      bool       `json:"liquidated"`
	MarginTier      MarginTier `json:"margin_tier"`
}

// SpotComparisonResult compares an unleveraged spot holding with the
// leveraged position at the end of the horizon.
type SpotComparisonResult struct {
	SpotPnL            float64 `json:"spot_pnl"`
	SpotReturnPct      float64 `json:"spot_return_pct"`
	LeveragedPnL       float64 `json:"leveraged_pnl"`
	LeveragedReturnPct float64 `json:"leveraged_return_pct"`
	SpotSharpe         float64 `json:"spot_sharpe"`
	LeveragedSharpe    float64 `json:"leveraged_sharpe"`
	FundingSignificant bool    `json:"funding_significant"`
	LeverageWorthIt    bool    `json:"leverage_worth_it"`
	// LeverageMultiple is leveraged PnL / spot PnL. Undefined when spot PnL
	// is exactly zero; check MultipleDefined before using it.
	LeverageMultiple float64 `json:"leverage_multiple"`
	MultipleDefined  bool    `json:"multiple_defined"`
	FundingDragPct   float64 `json:"funding_drag_pct"`
	LiquidationRisk  float64 `json:"liquidation_risk"`
	MarginBufferPct  float64 `json:"margin_buffer_pct"`
}

// Severity grades a recommendation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Recommendation is one advisory message produced by the rules evaluator.
type Recommendation struct {
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Action      string   `json:"action,omitempty"`
}

// Instrument identifies a tradeable perpetual contract.
type Instrument struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

// MarketSnapshot is a resolved (price, funding rate) pair for a symbol.
type MarketSnapshot struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	FundingRate      float64   `json:"funding_rate"` // percent per 8h interval
	FundingDefaulted bool      `json:"funding_defaulted"`
	FetchedAt        time.Time `json:"fetched_at"`
}
