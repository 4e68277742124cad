package apperrors

import "errors"

// Standardized calculation and feed errors
var (
	ErrInvalidLeverage   = errors.New("invalid leverage")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidInvestment = errors.New("invalid investment")
	ErrInvalidHorizon    = errors.New("invalid time horizon")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidPeriods    = errors.New("invalid period count")
	ErrInvalidFunding    = errors.New("invalid funding rate")
	ErrUnknownScenario   = errors.New("unknown scenario")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrFeedUnavailable   = errors.New("market data feed unavailable")
)
