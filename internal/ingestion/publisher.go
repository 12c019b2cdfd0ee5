package ingestion

import (
	"CustodyVault/internal/ledger"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JournalMessage is the outbound JSON form of a journal entry.
// 256-bit amounts are decimal strings.
type JournalMessage struct {
	JournalID    string    `json:"journal_id"`
	Sequence     int64     `json:"sequence"`
	Kind         string    `json:"kind"`
	User         string    `json:"user,omitempty"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount,omitempty"`
	Value        string    `json:"value,omitempty"`
	BalanceAfter string    `json:"balance_after,omitempty"`
	TotalAfter   string    `json:"total_after,omitempty"`
	Decimals     uint8     `json:"decimals,omitempty"`
	Supported    bool      `json:"supported"`
	PriceSource  string    `json:"price_source,omitempty"`
	StateHash    string    `json:"state_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewJournalMessage(j ledger.Journal) JournalMessage {
	m := JournalMessage{
		JournalID:    j.JournalID.String(),
		Sequence:     j.Sequence,
		Kind:         string(j.Kind),
		Asset:        j.Asset.Hex(),
		Amount:       dec(j.Amount),
		Value:        dec(j.Value),
		BalanceAfter: dec(j.BalanceAfter),
		TotalAfter:   dec(j.TotalAfter),
		Decimals:     j.Decimals,
		Supported:    j.Supported,
		PriceSource:  j.PriceSource,
		StateHash:    hex.EncodeToString(j.StateHash[:]),
		Timestamp:    time.UnixMicro(j.Timestamp).UTC(),
	}
	if j.Kind.IsTransfer() {
		m.User = j.User.Hex()
	}
	return m
}

// Subject returns vault.journals.<kind>.
func (m JournalMessage) Subject() string {
	return fmt.Sprintf("%s.%s", JournalSubject, m.Kind)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// Publisher is the subset of jetstream.JetStream used for outbound events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JournalPublisher publishes committed journals to NATS for downstream
// consumers. Publishing is best effort: the journal table is the record.
type JournalPublisher struct {
	js        Publisher
	inputChan <-chan ledger.Journal
	log       zerolog.Logger
}

func NewJournalPublisher(js Publisher, inputChan <-chan ledger.Journal, log zerolog.Logger) *JournalPublisher {
	return &JournalPublisher{js: js, inputChan: inputChan, log: log}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (p *JournalPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case j, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, j); err != nil {
				p.log.Warn().Err(err).Int64("sequence", j.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *JournalPublisher) publish(ctx context.Context, j ledger.Journal) error {
	msg := NewJournalMessage(j)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	// Msg ID lets JetStream drop duplicates on reconnect.
	_, err = p.js.Publish(ctx, msg.Subject(), data, jetstream.WithMsgID(msg.JournalID))
	return err
}
