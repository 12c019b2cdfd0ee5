package ingestion

import (
	"CustodyVault/internal/ledger"
	"CustodyVault/internal/observability"
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned for commands submitted after the queue stopped.
var ErrQueueClosed = errors.New("command queue stopped")

// Mutator is the set of mutating vault operations.
type Mutator interface {
	Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) (ledger.Journal, error)
	Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (ledger.Journal, error)
	RegisterAsset(ctx context.Context, a ledger.Asset) (ledger.Journal, error)
	SetPriceSource(ctx context.Context, asset common.Address, ref string) (ledger.Journal, error)
	SetAssetSupported(ctx context.Context, asset common.Address, supported bool) (ledger.Journal, error)
}

type result struct {
	journal ledger.Journal
	err     error
}

type command struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) (ledger.Journal, error)
	done chan result
}

// CommandQueue funnels mutating requests from many clients onto one
// goroutine, so concurrent callers are serialized instead of tripping the
// vault's reentrancy latch. The latch still catches true re-entry from
// transport callbacks, which run on the queue goroutine itself.
type CommandQueue struct {
	vault    Mutator
	commands chan command
	stopped  chan struct{}
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewCommandQueue(vault Mutator, size int, metrics *observability.Metrics, log zerolog.Logger) *CommandQueue {
	return &CommandQueue{
		vault:    vault,
		commands: make(chan command, size),
		stopped:  make(chan struct{}),
		metrics:  metrics,
		log:      log,
	}
}

// Run executes queued commands one at a time until ctx is cancelled.
func (q *CommandQueue) Run(ctx context.Context) error {
	defer close(q.stopped)
	q.log.Info().Int("capacity", cap(q.commands)).Msg("command queue started")

	for {
		select {
		case <-ctx.Done():
			q.log.Info().Msg("command queue stopped")
			return ctx.Err()

		case cmd := <-q.commands:
			if q.metrics != nil {
				q.metrics.SetChannelMetrics("commands", len(q.commands), cap(q.commands))
			}

			// A caller that gave up while queued gets ctx.Err() already.
			if err := cmd.ctx.Err(); err != nil {
				cmd.done <- result{err: err}
				continue
			}

			j, err := cmd.run(cmd.ctx)
			cmd.done <- result{journal: j, err: err}
		}
	}
}

// Submit enqueues fn and waits for its result. If ctx ends while the command
// is still queued, ctx.Err() is returned and the command is skipped.
func (q *CommandQueue) Submit(ctx context.Context, name string, fn func(ctx context.Context) (ledger.Journal, error)) (ledger.Journal, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Journal{}, err
	}
	cmd := command{name: name, ctx: ctx, run: fn, done: make(chan result, 1)}

	select {
	case q.commands <- cmd:
	case <-q.stopped:
		return ledger.Journal{}, ErrQueueClosed
	case <-ctx.Done():
		return ledger.Journal{}, ctx.Err()
	}

	select {
	case r := <-cmd.done:
		return r.journal, r.err
	case <-q.stopped:
		return ledger.Journal{}, ErrQueueClosed
	}
}

// The methods below make CommandQueue a drop-in Mutator for the API layer.

func (q *CommandQueue) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) (ledger.Journal, error) {
	return q.Submit(ctx, "deposit", func(ctx context.Context) (ledger.Journal, error) {
		return q.vault.Deposit(ctx, user, asset, amount)
	})
}

func (q *CommandQueue) Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (ledger.Journal, error) {
	return q.Submit(ctx, "withdraw", func(ctx context.Context) (ledger.Journal, error) {
		return q.vault.Withdraw(ctx, user, asset, amount)
	})
}

func (q *CommandQueue) RegisterAsset(ctx context.Context, a ledger.Asset) (ledger.Journal, error) {
	return q.Submit(ctx, "register_asset", func(ctx context.Context) (ledger.Journal, error) {
		return q.vault.RegisterAsset(ctx, a)
	})
}

func (q *CommandQueue) SetPriceSource(ctx context.Context, asset common.Address, ref string) (ledger.Journal, error) {
	return q.Submit(ctx, "set_price_source", func(ctx context.Context) (ledger.Journal, error) {
		return q.vault.SetPriceSource(ctx, asset, ref)
	})
}

func (q *CommandQueue) SetAssetSupported(ctx context.Context, asset common.Address, supported bool) (ledger.Journal, error) {
	return q.Submit(ctx, "set_asset_supported", func(ctx context.Context) (ledger.Journal, error) {
		return q.vault.SetAssetSupported(ctx, asset, supported)
	})
}
