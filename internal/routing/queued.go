package routing

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/aevon-lab/aevon-capture/internal/metrics"
)

// QueuedTaskRouter enqueues a processing task per event.
type QueuedTaskRouter struct {
	queue           TaskQueue
	taskName        string
	defaultQueue    string
	pluginsQueue    string
	pluginIngestion bool
	metrics         *metrics.Recorder
}

// QueuedTaskOptions configures a QueuedTaskRouter. Empty names use the defaults.
type QueuedTaskOptions struct {
	TaskName        string
	DefaultQueue    string
	PluginsQueue    string
	PluginIngestion bool
}

func NewQueuedTaskRouter(queue TaskQueue, opts QueuedTaskOptions, rec *metrics.Recorder) *QueuedTaskRouter {
	if queue == nil {
		panic("routing: task queue must not be nil")
	}
	if opts.TaskName == "" {
		opts.TaskName = DefaultTaskName
	}
	if opts.DefaultQueue == "" {
		opts.DefaultQueue = DefaultQueue
	}
	if opts.PluginsQueue == "" {
		opts.PluginsQueue = DefaultPluginsQueue
	}
	if rec == nil {
		rec = metrics.Nop()
	}
	return &QueuedTaskRouter{
		queue:           queue,
		taskName:        opts.TaskName,
		defaultQueue:    opts.DefaultQueue,
		pluginsQueue:    opts.PluginsQueue,
		pluginIngestion: opts.PluginIngestion,
		metrics:         rec,
	}
}

func (r *QueuedTaskRouter) Route(ctx context.Context, evt *v1.Event, tenant *storage.Tenant) (v1.RoutingTarget, error) {
	name, queue := TaskTarget(r.taskName, r.defaultQueue, r.pluginsQueue, r.pluginIngestion, tenant.PluginsOptIn)

	started := time.Now()
	task := Task{Name: name, Queue: queue, Args: TaskArgs(evt)}
	if err := r.queue.Enqueue(ctx, task); err != nil {
		return v1.RoutingTarget{}, fmt.Errorf("enqueue %s on %s: %w", name, queue, err)
	}
	r.metrics.Routed(ModeQueuedTask, started)

	return v1.QueuedTask(name, queue), nil
}
