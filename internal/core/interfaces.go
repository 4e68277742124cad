package core

import "context"

// Logger defines the logging interface used across the system
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// PriceFeed resolves live market data for perpetual instruments.
type PriceFeed interface {
	// CurrentPrice returns the latest mark price for a symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	// FundingRate returns the current funding rate as percent per 8h
	// interval. On fetch failure implementations return the policy default
	// of 0.01 with defaulted=true and a nil error.
	FundingRate(ctx context.Context, symbol string) (rate float64, defaulted bool, err error)
	// Instruments lists the tradeable perpetual contracts.
	Instruments(ctx context.Context) ([]Instrument, error)
	// Snapshot resolves price and funding rate together.
	Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
}
