package ingestion

import (
	"CustodyVault/internal/observability"
	"CustodyVault/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream    = "VAULT_PRICES"
	PriceSubjects  = "vault.prices.>"
	PriceConsumer  = "custodyvault-prices"
	JournalStream  = "VAULT_JOURNALS"
	JournalSubject = "vault.journals"
)

// PriceFeedSubscriber consumes pushed quotes from JetStream into the
// oracle FeedStore. Quotes are only stored here; staleness is judged by the
// adapter at use time.
type PriceFeedSubscriber struct {
	js       jetstream.JetStream
	store    *oracle.FeedStore
	consumer jetstream.ConsumeContext
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewPriceFeedSubscriber(js jetstream.JetStream, store *oracle.FeedStore, metrics *observability.Metrics, log zerolog.Logger) *PriceFeedSubscriber {
	return &PriceFeedSubscriber{js: js, store: store, metrics: metrics, log: log}
}

// Subscribe creates the durable consumer and starts delivery. Only the
// newest quote per subject matters, so delivery starts from the last one.
func (s *PriceFeedSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       PriceConsumer,
		FilterSubject: PriceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", PriceConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.Handle(msg.Subject(), msg.Data(), func() { msg.Ack() }, func() { msg.Term() })
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", PriceConsumer, err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", PriceSubjects).Str("consumer", PriceConsumer).Msg("subscribed to price feed")
	return nil
}

// Handle applies one message. Malformed quotes are terminated rather than
// redelivered.
func (s *PriceFeedSubscriber) Handle(subject string, data []byte, ack, term func()) {
	update, err := ParsePriceUpdate(subject, data)
	if err != nil {
		s.count("malformed")
		s.log.Warn().Err(err).Str("subject", subject).Msg("dropping malformed price update")
		term()
		return
	}

	if s.store.Put(update.FeedID, update.Answer, update.Decimals, update.UpdatedAt) {
		s.count("applied")
		s.log.Debug().
			Str("feed", update.FeedID).
			Str("answer", update.Answer.String()).
			Uint8("decimals", update.Decimals).
			Time("updated_at", update.UpdatedAt).
			Msg("price updated")
	} else {
		s.count("out_of_order")
	}
	ack()
}

func (s *PriceFeedSubscriber) count(result string) {
	if s.metrics != nil {
		s.metrics.PriceFeedUpdates.WithLabelValues(result).Inc()
	}
}

// Stop stops message delivery.
func (s *PriceFeedSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("price feed subscriber stopped")
}

// EnsureStreams creates the price and journal streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              PriceStream,
			Subjects:          []string{PriceSubjects},
			Storage:           jetstream.FileStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            24 * time.Hour,
			MaxMsgsPerSubject: 16,
			Replicas:          1,
		},
		{
			Name:      JournalStream,
			Subjects:  []string{JournalSubject + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("custodyvault"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
