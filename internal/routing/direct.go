package routing

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/aevon-lab/aevon-capture/internal/metrics"
)

// DirectLogRouter emits every event to the baseline topic, plus the plugin
// ingestion topic when the plugin server ingests. Otherwise the in-process
// processor runs on the event after emission.
type DirectLogRouter struct {
	producer        LogProducer
	processor       EventProcessor
	eventsTopic     string
	pluginTopic     string
	pluginIngestion bool
	metrics         *metrics.Recorder
}

// DirectLogOptions configures a DirectLogRouter. Empty topics use the defaults.
type DirectLogOptions struct {
	EventsTopic          string
	PluginIngestionTopic string
	PluginIngestion      bool
}

func NewDirectLogRouter(producer LogProducer, processor EventProcessor, opts DirectLogOptions, rec *metrics.Recorder) *DirectLogRouter {
	if producer == nil {
		panic("routing: log producer must not be nil")
	}
	if processor == nil && !opts.PluginIngestion {
		panic("routing: event processor is required when plugin ingestion is off")
	}
	if opts.EventsTopic == "" {
		opts.EventsTopic = DefaultEventsTopic
	}
	if opts.PluginIngestionTopic == "" {
		opts.PluginIngestionTopic = DefaultPluginIngestionTopic
	}
	if rec == nil {
		rec = metrics.Nop()
	}
	return &DirectLogRouter{
		producer:        producer,
		processor:       processor,
		eventsTopic:     opts.EventsTopic,
		pluginTopic:     opts.PluginIngestionTopic,
		pluginIngestion: opts.PluginIngestion,
		metrics:         rec,
	}
}

func (r *DirectLogRouter) Route(ctx context.Context, evt *v1.Event, _ *storage.Tenant) (v1.RoutingTarget, error) {
	topics := DirectLogTopics(r.eventsTopic, r.pluginTopic, r.pluginIngestion)

	started := time.Now()
	if err := r.producer.Emit(ctx, evt, topics); err != nil {
		return v1.RoutingTarget{}, fmt.Errorf("emit event %s: %w", evt.UUID, err)
	}
	r.metrics.Routed(ModeDirectLog, started)

	if r.pluginIngestion {
		r.metrics.PluginIngestionTotal.Inc()
		return v1.DirectLog(topics...), nil
	}

	// must follow Emit: the processor mutates the event
	if err := r.processor.Process(ctx, evt); err != nil {
		return v1.RoutingTarget{}, fmt.Errorf("process event %s: %w", evt.UUID, err)
	}
	return v1.DirectLog(topics...), nil
}
