// Package metrics exposes Prometheus counters for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	FrameCaptured = "captured"
	FrameFailed   = "failed"

	JobQueued  = "queued"
	JobWritten = "written"
	JobFailed  = "failed"

	DropClosed   = "closed"
	DropDisabled = "disabled"
	DropFull     = "full"
)

var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camrec",
		Name:      "frames_total",
		Help:      "Frames acquired by the capture loop by result",
	}, []string{"result"})

	WriteJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camrec",
		Name:      "write_jobs_total",
		Help:      "Write jobs by outcome",
	}, []string{"result"})

	WriteDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camrec",
		Name:      "write_drops_total",
		Help:      "Frames dropped before reaching the write queue by reason",
	}, []string{"reason"})

	WriteQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camrec",
		Name:      "write_queue_depth",
		Help:      "Write jobs waiting for a worker",
	})
)

func IncFrame(result string) {
	FramesTotal.WithLabelValues(result).Inc()
}

func IncJob(result string) {
	WriteJobsTotal.WithLabelValues(result).Inc()
}

// IncDrop records a frame that never became a write job.
func IncDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	WriteDropsTotal.WithLabelValues(reason).Inc()
}

func SetQueueDepth(n int) {
	WriteQueueDepth.Set(float64(n))
}
