package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

const (
	// PricePrecision is the fixed number of fractional digits of a Quote.
	PricePrecision uint8 = 8

	// DefaultStalenessWindow is the maximum accepted quote age.
	DefaultStalenessWindow = 3600 * time.Second
)

// Failure reasons carried by OracleUnavailableError. They double as metric
// label values.
const (
	ReasonSourceError      = "source_error"
	ReasonNonPositivePrice = "non_positive_price"
	ReasonMissingTimestamp = "missing_timestamp"
	ReasonStale            = "stale"
	ReasonFutureTimestamp  = "future_timestamp"
	ReasonInvalidPrice     = "invalid_price"
)

// ErrNoFreshQuote indicates a pushed feed has no live quote.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Round is the raw response of a price source. Answer is signed because
// on-chain aggregators report int256.
type Round struct {
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Source is one external price feed.
type Source interface {
	LatestRound(ctx context.Context) (Round, error)
}

// Resolver maps an oracle reference (e.g. "chainlink:0x...") to a Source.
type Resolver interface {
	Resolve(ref string) (Source, error)
}

// Quote is a validated price with PricePrecision fractional digits.
// Quotes are produced per call and never cached.
type Quote struct {
	Price       *uint256.Int
	LastUpdated time.Time
	Source      string
}

// OracleUnavailableError is returned when no trustworthy price exists.
type OracleUnavailableError struct {
	Source string
	Reason string
	Err    error
}

func (e *OracleUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %q unavailable (%s): %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("oracle %q unavailable (%s)", e.Source, e.Reason)
}

func (e *OracleUnavailableError) Unwrap() error {
	return e.Err
}

// Adapter validates raw rounds into quotes. It holds nothing beyond the
// staleness window and a clock: no retry, no cache.
type Adapter struct {
	resolver Resolver
	window   time.Duration
	now      func() time.Time
}

func NewAdapter(resolver Resolver, window time.Duration, now func() time.Time) *Adapter {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Adapter{resolver: resolver, window: window, now: now}
}

// Window returns the configured staleness window.
func (a *Adapter) Window() time.Duration {
	return a.window
}

// Quote fetches and validates the latest price behind ref.
func (a *Adapter) Quote(ctx context.Context, ref string) (Quote, error) {
	src, err := a.resolver.Resolve(ref)
	if err != nil {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonSourceError, Err: err}
	}

	round, err := src.LatestRound(ctx)
	if err != nil {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonSourceError, Err: err}
	}

	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonNonPositivePrice}
	}
	if round.UpdatedAt.IsZero() || round.UpdatedAt.Unix() == 0 {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonMissingTimestamp}
	}

	now := a.now()
	if round.UpdatedAt.After(now) {
		return Quote{}, &OracleUnavailableError{
			Source: ref,
			Reason: ReasonFutureTimestamp,
			Err:    fmt.Errorf("updated_at %s is after now %s", round.UpdatedAt.UTC(), now.UTC()),
		}
	}
	if age := now.Sub(round.UpdatedAt); age > a.window {
		return Quote{}, &OracleUnavailableError{
			Source: ref,
			Reason: ReasonStale,
			Err:    fmt.Errorf("age %s exceeds window %s", age, a.window),
		}
	}

	price, err := rescale(round.Answer, round.Decimals)
	if err != nil {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonInvalidPrice, Err: err}
	}
	if price.IsZero() {
		return Quote{}, &OracleUnavailableError{Source: ref, Reason: ReasonNonPositivePrice}
	}

	return Quote{Price: price, LastUpdated: round.UpdatedAt, Source: ref}, nil
}

// rescale converts a positive answer with `decimals` fractional digits to
// PricePrecision, truncating extra digits.
func rescale(answer *big.Int, decimals uint8) (*uint256.Int, error) {
	v := new(big.Int).Set(answer)
	switch {
	case decimals > PricePrecision:
		v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-PricePrecision)), nil))
	case decimals < PricePrecision:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PricePrecision-decimals)), nil))
	}

	price, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("price %s does not fit in 256 bits", v)
	}
	return price, nil
}
