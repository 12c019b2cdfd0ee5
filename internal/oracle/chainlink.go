package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AggregatorV3 ABI minimal part for decimals and latestRoundData
const aggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var (
	parsedAggregatorABI  abi.ABI
	parsedAggregatorOnce sync.Once
)

// AggregatorABI returns the parsed AggregatorV3 interface.
func AggregatorABI() abi.ABI {
	parsedAggregatorOnce.Do(func() {
		var err error
		parsedAggregatorABI, err = abi.JSON(strings.NewReader(aggregatorV3ABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse AggregatorV3 ABI: %v", err))
		}
	})
	return parsedAggregatorABI
}

// ChainlinkSource reads an on-chain AggregatorV3 feed through any
// ethereum.ContractCaller (normally *ethclient.Client).
type ChainlinkSource struct {
	caller ethereum.ContractCaller
	feed   common.Address

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkSource(caller ethereum.ContractCaller, feed common.Address) *ChainlinkSource {
	return &ChainlinkSource{caller: caller, feed: feed}
}

func (s *ChainlinkSource) LatestRound(ctx context.Context) (Round, error) {
	decimals, err := s.feedDecimals(ctx)
	if err != nil {
		return Round{}, err
	}

	out, err := s.call(ctx, "latestRoundData")
	if err != nil {
		return Round{}, err
	}
	if len(out) != 5 {
		return Round{}, fmt.Errorf("latestRoundData on %s: unexpected %d outputs", s.feed.Hex(), len(out))
	}

	answer, ok := out[1].(*big.Int)
	if !ok {
		return Round{}, fmt.Errorf("latestRoundData on %s: answer has type %T", s.feed.Hex(), out[1])
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return Round{}, fmt.Errorf("latestRoundData on %s: updatedAt has type %T", s.feed.Hex(), out[3])
	}

	var ts time.Time
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		ts = time.Unix(updatedAt.Int64(), 0)
	}

	return Round{Answer: answer, Decimals: decimals, UpdatedAt: ts}, nil
}

// feedDecimals is fetched once per source; a failed lookup is retried on the
// next call.
func (s *ChainlinkSource) feedDecimals(ctx context.Context) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decimals != nil {
		return *s.decimals, nil
	}

	out, err := s.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals on %s: unexpected type %T", s.feed.Hex(), out[0])
	}
	s.decimals = &d
	return d, nil
}

func (s *ChainlinkSource) call(ctx context.Context, method string) ([]interface{}, error) {
	parsed := AggregatorABI()

	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	feed := s.feed
	raw, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, s.feed.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty result (not a contract?)", method, s.feed.Hex())
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, s.feed.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s from %s: no outputs", method, s.feed.Hex())
	}
	return out, nil
}
