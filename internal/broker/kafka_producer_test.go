package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaProducer_EmitToEveryTopic(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w}

	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	evt := &v1.Event{
		UUID:       "evt-1",
		DistinctID: "abc",
		TeamID:     2,
		IP:         "10.0.0.1",
		SiteURL:    "https://capture.example.com",
		ReceivedAt: time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC),
		SentAt:     &sent,
		Data:       map[string]interface{}{"event": "$pageview", "properties": map[string]interface{}{"$lib": "web"}},
	}

	err := p.Emit(context.Background(), evt, []string{"events_wal", "events_plugin_ingestion"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	require.Equal(t, "events_wal", w.msgs[0].Topic)
	require.Equal(t, "events_plugin_ingestion", w.msgs[1].Topic)
	require.Equal(t, []byte("abc"), w.msgs[0].Key)
	require.Equal(t, w.msgs[0].Value, w.msgs[1].Value)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	require.Equal(t, "evt-1", msg["uuid"])
	require.Equal(t, "10.0.0.1", msg["ip"])
	require.Equal(t, float64(2), msg["team_id"])
	require.Equal(t, "2024-03-01T10:00:01Z", msg["now"])
	require.Equal(t, "2024-03-01T10:00:00Z", msg["sent_at"])

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg["data"].(string)), &data))
	require.Equal(t, "$pageview", data["event"])
}

func TestKafkaProducer_NullIPAndSentAt(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w}

	evt := &v1.Event{UUID: "evt-2", DistinctID: "abc", TeamID: 2, Data: map[string]interface{}{}}
	require.NoError(t, p.Emit(context.Background(), evt, []string{"events_wal"}))

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	require.Contains(t, msg, "ip")
	require.Nil(t, msg["ip"])
	require.Nil(t, msg["sent_at"])
}

func TestKafkaProducer_WriteFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := &KafkaProducer{writer: w}

	err := p.Emit(context.Background(), &v1.Event{Data: map[string]interface{}{}}, []string{"events_wal"})
	require.ErrorContains(t, err, "leader not available")

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}
