// Package metrics defines the prometheus metrics exported by all three
// net-eval components. Grounded on the teacher's metrics/metrics.go:
// promauto-registered vectors and counters, one init() log line to mark
// registration.
//
// When adding a new metric, these are the things worth tracking:
//  - packets/routes/samples crossing a component boundary
//  - the success or backpressure status of any of the above
//  - the distribution of per-operation latency
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsSentTotal counts packets PW has successfully handed to the
	// kernel, labeled by stack.
	PacketsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neteval_packets_sent_total",
			Help: "Total packets successfully sent by the packet writer.",
		}, []string{"stack"})

	// SendBackpressureTotal counts sendto() calls that returned
	// EAGAIN/EWOULDBLOCK/ENOBUFS and had to be retried.
	SendBackpressureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neteval_send_backpressure_total",
			Help: "Total sendto() calls that hit kernel backpressure.",
		},
	)

	// SendLatencyHistogram is a histogram for the duration of one packet
	// send. It is registered and exported, but nothing in this module
	// records observations into it.
	SendLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "neteval_send_latency_seconds",
			Help: "Latency of one packet send, including backpressure retries.",
			Buckets: []float64{
				0.000001, 0.0000025, 0.000005, 0.00001, 0.000025, 0.00005,
				0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
			},
		},
	)

	// RouteUpdatesTotal counts RTM_NEWROUTE messages RK has added to a
	// batch, labeled by whether it was a create or a replace.
	RouteUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neteval_route_updates_total",
			Help: "Total route messages queued by the router keeper.",
		}, []string{"op"})

	// NetlinkBatchFlushHistogram tracks how long one batch flush
	// (sendto + ack drain) takes.
	NetlinkBatchFlushHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neteval_netlink_batch_flush_seconds",
			Help:    "Latency of one netlink batch flush, send plus ack drain.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
	)

	// NetlinkNackTotal counts NLMSG_ERROR acknowledgments with a nonzero
	// errno; the process aborts immediately after incrementing this, so
	// in practice it only ever reaches 0 or 1, but it is exported before
	// the fatal exit so scrape-on-crash setups can still see it.
	NetlinkNackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neteval_netlink_nack_total",
			Help: "Total netlink acknowledgments reporting a kernel error.",
		},
	)

	// SampleWriteLatencyHistogram tracks how long PC's periodic
	// getsockopt+format+write cycle takes.
	SampleWriteLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neteval_sample_write_latency_seconds",
			Help:    "Latency of one counter sample retrieval and CSV write.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
	)

	// SampleLagTotal counts sampling cycles that found PC already behind
	// schedule (the previous cycle took longer than one interval, so no
	// sleep happened), a sign PC's polling can't keep up with the
	// requested rate.
	SampleLagTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neteval_sample_lag_total",
			Help: "Total sampling cycles that started more than one interval late.",
		},
	)

	// ZipfCacheRefillTotal is a counter for how many times a precomputed
	// Zipf draw cache wraps around to its start. It is registered and
	// exported, but zipfcache.Cache does not increment it, so it stays at
	// zero.
	ZipfCacheRefillTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neteval_zipf_cache_wrap_total",
			Help: "Total times the precomputed Zipf sample cache wrapped around.",
		},
	)
)

func init() {
	log.Println("Prometheus metrics in net-eval.metrics are registered.")
}
