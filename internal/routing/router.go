// Package routing decides which downstream delivery path receives an event.
//
// Exactly one DeliveryRouter is built at startup from the ingestion mode:
// DirectLogRouter emits to durable-log topics, QueuedTaskRouter enqueues a
// processing task. Neither retries; transport errors are returned as-is.
package routing

import (
	"context"
	"fmt"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/aevon-lab/aevon-capture/internal/metrics"
)

// Ingestion modes.
const (
	ModeDirectLog  = "direct_log"
	ModeQueuedTask = "queued_task"
)

// Default topic, task and queue names.
const (
	DefaultEventsTopic          = "events_wal"
	DefaultPluginIngestionTopic = "events_plugin_ingestion"
	DefaultTaskName             = "posthog.tasks.process_event.process_event"
	WithPluginsSuffix           = "_with_plugins"
	DefaultQueue                = "celery"
	DefaultPluginsQueue         = "posthog-plugins"
)

// DeliveryRouter delivers one enriched event and reports where it went.
type DeliveryRouter interface {
	Route(ctx context.Context, evt *v1.Event, tenant *storage.Tenant) (v1.RoutingTarget, error)
}

// LogProducer appends an event to every named durable-log topic.
type LogProducer interface {
	Emit(ctx context.Context, evt *v1.Event, topics []string) error
}

// EventProcessor is the in-process step that runs after log emission when the
// plugin server is not ingesting. It may mutate the event.
type EventProcessor interface {
	Process(ctx context.Context, evt *v1.Event) error
}

// Task is a named unit of deferred work with positional arguments.
type Task struct {
	Name  string
	Queue string
	Args  []interface{}
}

// TaskQueue submits tasks to a worker queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// DirectLogTopics returns the topic set for direct-log mode.
func DirectLogTopics(baseline, pluginTopic string, pluginIngestion bool) []string {
	if pluginIngestion {
		return []string{baseline, pluginTopic}
	}
	return []string{baseline}
}

// TaskTarget picks the task and queue for queued-task mode. The with-plugins
// variant is used when plugin ingestion is on globally or the tenant opted in.
func TaskTarget(baseTask, defaultQueue, pluginsQueue string, pluginIngestion, tenantOptIn bool) (task, queue string) {
	if pluginIngestion || tenantOptIn {
		return baseTask + WithPluginsSuffix, pluginsQueue
	}
	return baseTask, defaultQueue
}

// TaskArgs builds the positional argument tuple for the processing task:
// (distinct_id, ip, site_url, event, team_id, received_at, sent_at).
// Missing ip and sent_at are sent as null.
func TaskArgs(evt *v1.Event) []interface{} {
	var ip, sentAt interface{}
	if evt.IP != "" {
		ip = evt.IP
	}
	if evt.SentAt != nil {
		sentAt = evt.SentAt.Format(isoLayout)
	}
	return []interface{}{
		evt.DistinctID,
		ip,
		evt.SiteURL,
		evt.Data,
		evt.TeamID,
		evt.ReceivedAt.Format(isoLayout),
		sentAt,
	}
}

// isoLayout is microsecond ISO-8601 with a numeric offset, the form the task
// workers parse.
const isoLayout = "2006-01-02T15:04:05.000000-07:00"

// Transports holds the delivery handles acquired at startup. Only the ones the
// selected mode needs must be set.
type Transports struct {
	Producer  LogProducer
	Processor EventProcessor
	Queue     TaskQueue
}

// Options selects and configures the router for the process.
type Options struct {
	Mode       string
	DirectLog  DirectLogOptions
	QueuedTask QueuedTaskOptions
}

// New builds the DeliveryRouter for opts.Mode.
func New(opts Options, t Transports, rec *metrics.Recorder) (DeliveryRouter, error) {
	switch opts.Mode {
	case ModeDirectLog:
		if t.Producer == nil {
			return nil, fmt.Errorf("%s mode requires a log producer", ModeDirectLog)
		}
		if t.Processor == nil && !opts.DirectLog.PluginIngestion {
			return nil, fmt.Errorf("%s mode requires an event processor when plugin ingestion is off", ModeDirectLog)
		}
		return NewDirectLogRouter(t.Producer, t.Processor, opts.DirectLog, rec), nil
	case ModeQueuedTask:
		if t.Queue == nil {
			return nil, fmt.Errorf("%s mode requires a task queue", ModeQueuedTask)
		}
		return NewQueuedTaskRouter(t.Queue, opts.QueuedTask, rec), nil
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", opts.Mode)
	}
}
