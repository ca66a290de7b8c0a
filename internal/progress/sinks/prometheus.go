package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docpipe/docpipe/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// the collectors for per-stage starts, completions, failures, and latency.
type PrometheusSink struct {
	stageStarted   *prometheus.CounterVec
	stageCompleted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	downloadBytes  prometheus.Counter
	imagesRendered prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		stageStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_stage_started_total",
			Help: "Stage executions started partitioned by stage.",
		}, []string{"stage"}),
		stageCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_stage_completed_total",
			Help: "Stage executions finished partitioned by stage and result.",
		}, []string{"stage", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docpipe_stage_duration_seconds",
			Help:    "Wall time per completed stage execution.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_download_bytes_total",
			Help: "Bytes downloaded across all documents.",
		}),
		imagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_images_rendered_total",
			Help: "Page images rendered during conversion.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.stageStarted,
		s.stageCompleted,
		s.stageDuration,
		s.downloadBytes,
		s.imagesRendered,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	stage, kind := splitMilestone(evt.Milestone)
	switch kind {
	case "start":
		s.stageStarted.WithLabelValues(stage).Inc()
	case "done":
		s.stageCompleted.WithLabelValues(stage, "success").Inc()
		s.observeDuration(evt, stage, "success")
		if evt.Bytes > 0 && evt.Milestone == progress.DownloadDone {
			s.downloadBytes.Add(float64(evt.Bytes))
		}
		if evt.Images > 0 && evt.Milestone == progress.ConvertDone {
			s.imagesRendered.Add(float64(evt.Images))
		}
	case "error":
		s.stageCompleted.WithLabelValues(stage, "error").Inc()
		s.observeDuration(evt, stage, "error")
	}
}

func (s *PrometheusSink) observeDuration(evt progress.Event, stage, result string) {
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(stage, result).Observe(evt.Dur.Seconds())
	}
}

func splitMilestone(m progress.Milestone) (stage, kind string) {
	switch m {
	case progress.DownloadStart:
		return "download", "start"
	case progress.DownloadDone:
		return "download", "done"
	case progress.DownloadError:
		return "download", "error"
	case progress.ConvertStart:
		return "conversion", "start"
	case progress.ConvertDone:
		return "conversion", "done"
	case progress.ConvertError:
		return "conversion", "error"
	case progress.ExtractStart:
		return "extraction", "start"
	case progress.ExtractDone:
		return "extraction", "done"
	case progress.ExtractError:
		return "extraction", "error"
	default:
		return "unknown", ""
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
