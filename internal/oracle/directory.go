package oracle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	SchemeChainlink = "chainlink"
	SchemeFeed      = "feed"
	SchemePar       = "par"
)

// Directory resolves oracle references of the form "<scheme>:<target>":
//
//	chainlink:0x5f4e...   on-chain AggregatorV3 feed
//	feed:ETH-USD          latest quote pushed over NATS
//	par:                  fixed 1.00000000
type Directory struct {
	caller ethereum.ContractCaller // nil disables chainlink references
	feeds  *FeedStore
	par    *ParSource

	mu        sync.Mutex
	chainlink map[common.Address]*ChainlinkSource
}

func NewDirectory(caller ethereum.ContractCaller, feeds *FeedStore, now func() time.Time) *Directory {
	return &Directory{
		caller:    caller,
		feeds:     feeds,
		par:       NewParSource(now),
		chainlink: make(map[common.Address]*ChainlinkSource),
	}
}

// Validate checks that ref is well-formed and resolvable in this deployment.
func (d *Directory) Validate(ref string) error {
	_, err := d.Resolve(ref)
	return err
}

func (d *Directory) Resolve(ref string) (Source, error) {
	scheme, target, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, fmt.Errorf("oracle reference %q: missing scheme", ref)
	}

	switch scheme {
	case SchemePar:
		if target != "" {
			return nil, fmt.Errorf("oracle reference %q: par takes no target", ref)
		}
		return d.par, nil

	case SchemeFeed:
		if d.feeds == nil {
			return nil, fmt.Errorf("oracle reference %q: no feed store configured", ref)
		}
		if strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("oracle reference %q: empty feed id", ref)
		}
		return d.feeds.Source(target), nil

	case SchemeChainlink:
		if d.caller == nil {
			return nil, fmt.Errorf("oracle reference %q: no RPC endpoint configured", ref)
		}
		if !common.IsHexAddress(target) {
			return nil, fmt.Errorf("oracle reference %q: invalid feed address", ref)
		}
		feed := common.HexToAddress(target)

		d.mu.Lock()
		defer d.mu.Unlock()
		src, ok := d.chainlink[feed]
		if !ok {
			src = NewChainlinkSource(d.caller, feed)
			d.chainlink[feed] = src
		}
		return src, nil
	}

	return nil, fmt.Errorf("oracle reference %q: unknown scheme %q", ref, scheme)
}
