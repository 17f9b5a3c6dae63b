package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/aevon-lab/aevon-capture/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProducer struct{ mock.Mock }

func (m *mockProducer) Emit(ctx context.Context, evt *v1.Event, topics []string) error {
	return m.Called(ctx, evt, topics).Error(0)
}

type mockProcessor struct{ mock.Mock }

func (m *mockProcessor) Process(ctx context.Context, evt *v1.Event) error {
	return m.Called(ctx, evt).Error(0)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Enqueue(ctx context.Context, task Task) error {
	return m.Called(ctx, task).Error(0)
}

func testEvent() *v1.Event {
	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &v1.Event{
		UUID:       "evt-1",
		DistinctID: "abc",
		TeamID:     2,
		IP:         "10.0.0.1",
		SiteURL:    "https://capture.example.com",
		ReceivedAt: time.Date(2024, 3, 1, 10, 0, 1, 500000000, time.UTC),
		SentAt:     &sent,
		Name:       "$pageview",
		Properties: map[string]interface{}{},
		Data:       map[string]interface{}{"event": "$pageview"},
	}
}

// The full routing table: mode x plugin ingestion flag x tenant opt-in.
func TestRoutingMatrix(t *testing.T) {
	tests := []struct {
		name            string
		mode            string
		pluginIngestion bool
		optIn           bool
		want            v1.RoutingTarget
	}{
		{"direct log, flag off, no opt-in", ModeDirectLog, false, false,
			v1.DirectLog(DefaultEventsTopic)},
		{"direct log, flag off, opt-in ignored", ModeDirectLog, false, true,
			v1.DirectLog(DefaultEventsTopic)},
		{"direct log, flag on", ModeDirectLog, true, false,
			v1.DirectLog(DefaultEventsTopic, DefaultPluginIngestionTopic)},
		{"direct log, flag on, opt-in", ModeDirectLog, true, true,
			v1.DirectLog(DefaultEventsTopic, DefaultPluginIngestionTopic)},
		{"queued, flag off, no opt-in", ModeQueuedTask, false, false,
			v1.QueuedTask(DefaultTaskName, DefaultQueue)},
		{"queued, flag off, opt-in", ModeQueuedTask, false, true,
			v1.QueuedTask(DefaultTaskName+WithPluginsSuffix, DefaultPluginsQueue)},
		{"queued, flag on, no opt-in", ModeQueuedTask, true, false,
			v1.QueuedTask(DefaultTaskName+WithPluginsSuffix, DefaultPluginsQueue)},
		{"queued, flag on, opt-in", ModeQueuedTask, true, true,
			v1.QueuedTask(DefaultTaskName+WithPluginsSuffix, DefaultPluginsQueue)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &mockProducer{}
			producer.On("Emit", mock.Anything, mock.Anything, tt.want.Topics).Return(nil).Maybe()
			processor := &mockProcessor{}
			processor.On("Process", mock.Anything, mock.Anything).Return(nil).Maybe()
			queue := &mockQueue{}
			queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task Task) bool {
				return task.Name == tt.want.TaskName && task.Queue == tt.want.QueueName
			})).Return(nil).Maybe()

			router, err := New(Options{
				Mode:       tt.mode,
				DirectLog:  DirectLogOptions{PluginIngestion: tt.pluginIngestion},
				QueuedTask: QueuedTaskOptions{PluginIngestion: tt.pluginIngestion},
			}, Transports{Producer: producer, Processor: processor, Queue: queue}, metrics.Nop())
			require.NoError(t, err)

			got, err := router.Route(context.Background(), testEvent(), &storage.Tenant{ID: 2, PluginsOptIn: tt.optIn})
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			producer.AssertExpectations(t)
			queue.AssertExpectations(t)
		})
	}
}

func TestDirectLogRouter_ProcessorRunsAfterEmit(t *testing.T) {
	var order []string
	producer := &mockProducer{}
	producer.On("Emit", mock.Anything, mock.Anything, []string{DefaultEventsTopic}).
		Run(func(mock.Arguments) { order = append(order, "emit") }).
		Return(nil).Once()
	processor := &mockProcessor{}
	processor.On("Process", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "process") }).
		Return(nil).Once()

	router := NewDirectLogRouter(producer, processor, DirectLogOptions{}, metrics.Nop())
	_, err := router.Route(context.Background(), testEvent(), &storage.Tenant{ID: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"emit", "process"}, order)
}

func TestDirectLogRouter_PluginIngestionCountsAndSkipsProcessor(t *testing.T) {
	producer := &mockProducer{}
	producer.On("Emit", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	processor := &mockProcessor{}

	rec := metrics.Nop()
	router := NewDirectLogRouter(producer, processor, DirectLogOptions{PluginIngestion: true}, rec)
	for i := 0; i < 2; i++ {
		_, err := router.Route(context.Background(), testEvent(), &storage.Tenant{ID: 2})
		require.NoError(t, err)
	}

	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	require.Equal(t, 2.0, testutil.ToFloat64(rec.PluginIngestionTotal))
	require.Equal(t, 2.0, testutil.ToFloat64(rec.EventsTotal.WithLabelValues(ModeDirectLog)))
}

func TestDirectLogRouter_EmitFailureStopsProcessing(t *testing.T) {
	producer := &mockProducer{}
	producer.On("Emit", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	processor := &mockProcessor{}

	router := NewDirectLogRouter(producer, processor, DirectLogOptions{}, nil)
	_, err := router.Route(context.Background(), testEvent(), &storage.Tenant{ID: 2})
	require.ErrorContains(t, err, "broker down")
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestQueuedTaskRouter_Args(t *testing.T) {
	queue := &mockQueue{}
	var got Task
	queue.On("Enqueue", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(Task) }).
		Return(nil).Once()

	router := NewQueuedTaskRouter(queue, QueuedTaskOptions{}, nil)
	evt := testEvent()
	_, err := router.Route(context.Background(), evt, &storage.Tenant{ID: 2})
	require.NoError(t, err)

	require.Len(t, got.Args, 7)
	require.Equal(t, "abc", got.Args[0])
	require.Equal(t, "10.0.0.1", got.Args[1])
	require.Equal(t, "https://capture.example.com", got.Args[2])
	require.Equal(t, evt.Data, got.Args[3])
	require.Equal(t, int64(2), got.Args[4])
	require.Equal(t, "2024-03-01T10:00:01.500000+00:00", got.Args[5])
	require.Equal(t, "2024-03-01T10:00:00.000000+00:00", got.Args[6])
}

func TestTaskArgs_NullsForAbsentFields(t *testing.T) {
	evt := testEvent()
	evt.IP = ""
	evt.SentAt = nil

	args := TaskArgs(evt)
	require.Nil(t, args[1])
	require.Nil(t, args[6])
}

func TestQueuedTaskRouter_EnqueueFailure(t *testing.T) {
	queue := &mockQueue{}
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("redis unavailable")).Once()

	router := NewQueuedTaskRouter(queue, QueuedTaskOptions{}, nil)
	_, err := router.Route(context.Background(), testEvent(), &storage.Tenant{ID: 2})
	require.ErrorContains(t, err, "redis unavailable")
}

func TestNew_RejectsMissingTransports(t *testing.T) {
	_, err := New(Options{Mode: ModeDirectLog}, Transports{}, nil)
	require.ErrorContains(t, err, "log producer")

	_, err = New(Options{Mode: ModeDirectLog}, Transports{Producer: &mockProducer{}}, nil)
	require.ErrorContains(t, err, "event processor")

	_, err = New(Options{Mode: ModeQueuedTask}, Transports{}, nil)
	require.ErrorContains(t, err, "task queue")

	_, err = New(Options{Mode: "carrier_pigeon"}, Transports{}, nil)
	require.ErrorContains(t, err, "unknown ingestion mode")
}
