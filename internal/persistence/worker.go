package persistence

import (
	"CustodyVault/internal/ledger"
	"CustodyVault/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes journals and
// custody state to Postgres. The vault sends on the persist channel with a
// blocking send, so if this worker falls behind the vault stalls and no
// journal is lost.
type PersistenceWorker struct {
	writer       *StateWriter
	inputChan    <-chan ledger.Journal
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan ledger.Journal,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewStateWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming journals and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]ledger.Journal, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush what is already buffered.
			pw.drain(&batch)
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Int("journals", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case j, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.log.Error().Err(err).Int("journals", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, j)
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("persist", len(pw.inputChan), cap(pw.inputChan))
			}

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain moves journals already sitting in the channel into batch without
// blocking.
func (pw *PersistenceWorker) drain(batch *[]ledger.Journal) {
	for {
		select {
		case j, ok := <-pw.inputChan:
			if !ok {
				return
			}
			*batch = append(*batch, j)
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// ctx is cancelled. Journals are never dropped.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, journals []ledger.Journal) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("journals", len(journals)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				// One last attempt without the cancelled context.
				if err := pw.flush(context.Background(), journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, journals)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Warn().Err(err).Msg("persistence flush failed")

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, journals []ledger.Journal) error {
	start := time.Now()
	b := NewBatch(journals)

	if stage, err := pw.writer.Write(ctx, b); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
		}
		return fmt.Errorf("%s: %w", stage, err)
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(journals)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(b.Sequence))
	}

	pw.log.Debug().
		Int("journals", len(journals)).
		Int64("last_sequence", b.Sequence).
		Dur("took", time.Since(start)).
		Msg("batch persisted")
	return nil
}
