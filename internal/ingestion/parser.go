package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdate is one pushed quote for a feed id.
type PriceUpdate struct {
	FeedID    string
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// --- JSON wire format ---
// Producers send either an integer answer with its precision
//
//	{"feed_id":"ETH-USD","answer":"200012345678","decimals":8,"timestamp_us":1700000000000000}
//
// or a decimal price, which is read at 8 decimals
//
//	{"feed_id":"ETH-USD","price":"2000.12345678","timestamp_us":1700000000000000}
type priceUpdateJSON struct {
	FeedID      string `json:"feed_id"`
	Answer      string `json:"answer"`
	Decimals    *uint8 `json:"decimals"`
	Price       string `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

const decimalPriceScale = 8

// ParsePriceUpdate decodes a quote published on subject. When feed_id is
// absent it is taken from the last subject token (vault.prices.<feed_id>).
func ParsePriceUpdate(subject string, data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}

	feedID := strings.TrimSpace(j.FeedID)
	if feedID == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			feedID = subject[i+1:]
		}
	}
	if feedID == "" {
		return PriceUpdate{}, fmt.Errorf("parse price update: missing feed_id")
	}

	if j.TimestampUs <= 0 {
		return PriceUpdate{}, fmt.Errorf("parse price update %s: missing timestamp_us", feedID)
	}

	u := PriceUpdate{
		FeedID:    feedID,
		UpdatedAt: time.UnixMicro(j.TimestampUs),
	}

	switch {
	case j.Answer != "" && j.Price != "":
		return PriceUpdate{}, fmt.Errorf("parse price update %s: both answer and price set", feedID)

	case j.Answer != "":
		answer, ok := new(big.Int).SetString(j.Answer, 10)
		if !ok {
			return PriceUpdate{}, fmt.Errorf("parse price update %s: invalid answer %q", feedID, j.Answer)
		}
		if j.Decimals == nil {
			return PriceUpdate{}, fmt.Errorf("parse price update %s: answer without decimals", feedID)
		}
		u.Answer = answer
		u.Decimals = *j.Decimals

	case j.Price != "":
		d, err := decimal.NewFromString(j.Price)
		if err != nil {
			return PriceUpdate{}, fmt.Errorf("parse price update %s: %w", feedID, err)
		}
		// Extra fractional digits are truncated, matching the adapter.
		u.Answer = d.Shift(decimalPriceScale).Truncate(0).BigInt()
		u.Decimals = decimalPriceScale

	default:
		return PriceUpdate{}, fmt.Errorf("parse price update %s: missing answer or price", feedID)
	}

	return u, nil
}
