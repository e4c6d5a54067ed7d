package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/chainfork/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BlockOutcome string

var (
	BlockApplied  BlockOutcome = "applied"
	BlockOrphaned BlockOutcome = "orphaned"
	BlockDup      BlockOutcome = "duplicate"
	BlockRejected BlockOutcome = "rejected"
	BlockInvalid  BlockOutcome = "invalid"
)

type OrphanOutcome string

var (
	OrphanRepaired  OrphanOutcome = "repaired"
	OrphanDiscarded OrphanOutcome = "discarded"
	OrphanEvicted   OrphanOutcome = "evicted"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds   prometheus.Gauge
	headNumber          prometheus.Gauge
	lastIrreversible    prometheus.Gauge
	knownHeads          prometheus.Gauge
	irreversibleHalted  prometheus.Gauge
	blocksProcessed     *prometheus.CounterVec
	reorgCount          prometheus.Counter
	reorgDepth          prometheus.Histogram
	requeuedTxCount     prometheus.Counter
	orphanCount         *prometheus.CounterVec
	confirmationCount   prometheus.Counter
	divergentPeers      prometheus.Gauge
	timeToIrreversible  prometheus.Histogram
	mempoolSize         prometheus.Gauge
	sinkFlushLatency    prometheus.Histogram
	panicCount          prometheus.Counter
	controllerStepDelay prometheus.Histogram
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		headNumber: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_canonical_head_number",
				Help: "Block number of the current canonical head",
			},
		),
		lastIrreversible: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_last_irreversible_block",
				Help: "Highest block number that can no longer be reverted",
			},
		),
		knownHeads: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_known_heads",
				Help: "Number of competing branch heads tracked, canonical head included",
			},
		),
		irreversibleHalted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_irreversibility_halted",
				Help: "1 when LIB advancement stopped on an invariant violation",
			},
		),
		blocksProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainfork_blocks_processed_total",
				Help: "Incoming blocks by processing outcome",
			},
			[]string{"outcome"},
		),
		reorgCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainfork_reorg_total",
				Help: "The total number of canonical branch switches",
			},
		),
		reorgDepth: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainfork_reorg_depth_blocks",
				Help:    "Number of canonical blocks abandoned per branch switch",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
			},
		),
		requeuedTxCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainfork_requeued_tx_total",
				Help: "Transactions returned to the pending pool after a branch switch",
			},
		),
		orphanCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainfork_orphan_blocks_total",
				Help: "Orphan blocks by final outcome",
			},
			[]string{"outcome"},
		),
		confirmationCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainfork_confirmations_total",
				Help: "Validator confirmations accepted by the irreversibility tracker",
			},
		),
		divergentPeers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_divergent_peers",
				Help: "Peers flagged for providing branches that conflict with LIB",
			},
		),
		timeToIrreversible: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "chainfork_time_to_irreversible_seconds",
				Help: "Latency in second from block arrival until it became irreversible",
			},
		),
		mempoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainfork_mempool_size",
				Help: "The total pending transactions queued in node's mempool",
			},
		),
		sinkFlushLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "chainfork_sink_flush_seconds",
				Help: "Duration of one event sink commit",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chainfork_panic_total",
				Help: "Recovered panics in background goroutines",
			},
		),
		controllerStepDelay: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainfork_controller_step_seconds",
				Help:    "Duration of one serialized append-and-decide step",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
	}
}

var (
	nodeMetrics *nodePromMetrics
	initOnce    sync.Once
)

// InitMetrics registers the collectors; safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		nodeMetrics = newNodePromMetrics()
		nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
	})
}

func m() *nodePromMetrics {
	InitMetrics()
	return nodeMetrics
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func SetHeadNumber(number uint64) {
	m().headNumber.Set(float64(number))
}

func SetLastIrreversible(number uint64) {
	m().lastIrreversible.Set(float64(number))
}

func SetKnownHeads(count int) {
	m().knownHeads.Set(float64(count))
}

func SetIrreversibilityHalted(halted bool) {
	if halted {
		m().irreversibleHalted.Set(1)
		return
	}
	m().irreversibleHalted.Set(0)
}

func RecordBlockOutcome(outcome BlockOutcome) {
	m().blocksProcessed.With(prometheus.Labels{
		"outcome": string(outcome),
	}).Inc()
}

func RecordReorg(depth int) {
	m().reorgCount.Inc()
	m().reorgDepth.Observe(float64(depth))
}

func AddRequeuedTx(count int) {
	m().requeuedTxCount.Add(float64(count))
}

func RecordOrphan(outcome OrphanOutcome) {
	m().orphanCount.With(prometheus.Labels{
		"outcome": string(outcome),
	}).Inc()
}

func IncreaseConfirmationCount() {
	m().confirmationCount.Inc()
}

func SetDivergentPeers(count int) {
	m().divergentPeers.Set(float64(count))
}

func RecordTimeToIrreversible(duration time.Duration) {
	m().timeToIrreversible.Observe(duration.Seconds())
}

func SetMempoolSize(size int) {
	m().mempoolSize.Set(float64(size))
}

func RecordSinkFlush(duration time.Duration) {
	m().sinkFlushLatency.Observe(duration.Seconds())
}

func IncreasePanicCount() {
	m().panicCount.Inc()
}

func RecordControllerStep(duration time.Duration) {
	m().controllerStepDelay.Observe(duration.Seconds())
}
