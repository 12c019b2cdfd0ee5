package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/patrickmn/go-cache"
)

// FeedStore keeps the latest pushed quote per feed id. Entries expire after
// the configured TTL and an expired entry reads as missing.
type FeedStore struct {
	quotes *cache.Cache
}

func NewFeedStore(ttl time.Duration) *FeedStore {
	return &FeedStore{
		quotes: cache.New(ttl, 2*ttl),
	}
}

// Put records a quote. A quote older than the stored one is ignored and
// reported as not applied.
func (fs *FeedStore) Put(feedID string, answer *big.Int, decimals uint8, updatedAt time.Time) bool {
	if current, ok := fs.get(feedID); ok && !updatedAt.After(current.UpdatedAt) {
		return false
	}
	fs.quotes.Set(feedID, Round{
		Answer:    new(big.Int).Set(answer),
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	}, cache.DefaultExpiration)
	return true
}

// Len returns the number of live feeds.
func (fs *FeedStore) Len() int {
	return fs.quotes.ItemCount()
}

// Source returns a Source reading one feed id.
func (fs *FeedStore) Source(feedID string) Source {
	return &feedSource{store: fs, feedID: feedID}
}

func (fs *FeedStore) get(feedID string) (Round, bool) {
	v, ok := fs.quotes.Get(feedID)
	if !ok {
		return Round{}, false
	}
	return v.(Round), true
}

type feedSource struct {
	store  *FeedStore
	feedID string
}

func (s *feedSource) LatestRound(_ context.Context) (Round, error) {
	r, ok := s.store.get(s.feedID)
	if !ok {
		return Round{}, fmt.Errorf("feed %s: %w", s.feedID, ErrNoFreshQuote)
	}
	return Round{
		Answer:    new(big.Int).Set(r.Answer),
		Decimals:  r.Decimals,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
