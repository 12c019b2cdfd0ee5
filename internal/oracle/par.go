package oracle

import (
	"context"
	"math/big"
	"time"
)

// ParSource prices an asset at exactly one unit of account, stamped at call
// time. Used for the unit-of-account stablecoin itself.
type ParSource struct {
	now func() time.Time
}

func NewParSource(now func() time.Time) *ParSource {
	if now == nil {
		now = time.Now
	}
	return &ParSource{now: now}
}

func (s *ParSource) LatestRound(_ context.Context) (Round, error) {
	return Round{
		Answer:    big.NewInt(100_000_000),
		Decimals:  PricePrecision,
		UpdatedAt: s.now(),
	}, nil
}
