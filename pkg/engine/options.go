package engine

import (
	"time"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/observability"
)

type options struct {
	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	maxDepth int
}

func defaultOptions() options {
	return options{
		recorder: audit.NopRecorder{},
		logger:   observability.NopLogger(),
		now:      time.Now,
		maxDepth: inheritance.DefaultMaxDepth,
	}
}

// Option configures an Engine or a Manager
type Option func(*options)

// WithRecorder sets the audit sink. The default discards entries.
func WithRecorder(r audit.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the operational logger
func WithLogger(l *observability.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the audit timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxDepth bounds inheritance traversal
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
