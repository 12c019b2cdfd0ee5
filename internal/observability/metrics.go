package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CustodyVault.
type Metrics struct {
	// --- Vault operations ---
	Operations           *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	TotalValueHeld       prometheus.Gauge
	JournalSequence      prometheus.Gauge
	ReentrancyRejections prometheus.Counter
	TransferFailures     *prometheus.CounterVec

	// --- Oracle ---
	OracleFailures   *prometheus.CounterVec
	PriceFeedUpdates *prometheus.CounterVec

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistJournalsWritten prometheus.Counter
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	RateLimited   prometheus.Counter
}

// NewMetrics registers every metric on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by kind and result",
		}, []string{"operation", "result"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "End-to-end latency of a vault operation, including oracle and transport calls",
			Buckets: opBuckets,
		}, []string{"operation"}),

		TotalValueHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_value_held_usd",
			Help: "Running ledger total in unit of account",
		}),

		JournalSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_journal_sequence",
			Help: "Sequence of the last sealed journal",
		}),

		ReentrancyRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_reentrancy_rejections_total",
			Help: "Mutating calls rejected because the latch was held",
		}),

		TransferFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_transfer_failures_total",
			Help: "Asset transport failures",
		}, []string{"direction"}),

		OracleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_failures_total",
			Help: "Oracle quotes rejected, by reason",
		}, []string{"reason"}),

		PriceFeedUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_feed_updates_total",
			Help: "Pushed price quotes received over NATS",
		}, []string{"result"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Journals not published because the outbound channel was full",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to write one journal batch to Postgres",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Journals per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_journals_written_total",
			Help: "Journals written to Postgres",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Sequence of the last persisted journal",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "API requests by method and gRPC code",
		}, []string{"method", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

// SetChannelMetrics updates channel occupancy metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
