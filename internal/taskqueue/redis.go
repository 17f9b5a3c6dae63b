// Package taskqueue submits processing tasks to a Celery worker pool through
// Redis. Each task is LPUSHed as a protocol v2 message onto the list named
// after its queue, where Celery workers BRPOP it.
package taskqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aevon-lab/aevon-capture/internal/routing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements routing.TaskQueue.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue parses a redis:// URL and connects lazily.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts)}, nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// message is the kombu envelope Celery reads off a Redis list.
type message struct {
	Body            string            `json:"body"`
	ContentEncoding string            `json:"content-encoding"`
	ContentType     string            `json:"content-type"`
	Headers         messageHeaders    `json:"headers"`
	Properties      messageProperties `json:"properties"`
}

type messageHeaders struct {
	Lang     string      `json:"lang"`
	Task     string      `json:"task"`
	ID       string      `json:"id"`
	RootID   string      `json:"root_id"`
	ParentID interface{} `json:"parentId"`
	Group    interface{} `json:"group"`
	Retries  int         `json:"retries"`
	ETA      interface{} `json:"eta"`
	Expires  interface{} `json:"expires"`
	ArgsRepr string      `json:"argsrepr"`
}

type messageProperties struct {
	CorrelationID string       `json:"correlation_id"`
	ReplyTo       string       `json:"reply_to"`
	DeliveryMode  int          `json:"delivery_mode"`
	DeliveryInfo  deliveryInfo `json:"delivery_info"`
	Priority      int          `json:"priority"`
	BodyEncoding  string       `json:"body_encoding"`
	DeliveryTag   string       `json:"delivery_tag"`
}

type deliveryInfo struct {
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

type embedOptions struct {
	Callbacks interface{} `json:"callbacks"`
	Errbacks  interface{} `json:"errbacks"`
	Chain     interface{} `json:"chain"`
	Chord     interface{} `json:"chord"`
}

// Enqueue pushes one task. The push is acknowledged by Redis before it returns.
func (q *RedisQueue) Enqueue(ctx context.Context, task routing.Task) error {
	payload, err := encodeTask(task, uuid.NewString(), uuid.NewString())
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, task.Queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", task.Name, task.Queue, err)
	}
	return nil
}

func encodeTask(task routing.Task, taskID, deliveryTag string) ([]byte, error) {
	args := task.Args
	if args == nil {
		args = []interface{}{}
	}
	body, err := json.Marshal([]interface{}{args, map[string]interface{}{}, embedOptions{}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task body: %w", err)
	}

	msg := message{
		Body:            base64.StdEncoding.EncodeToString(body),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: messageHeaders{
			Lang:   "py",
			Task:   task.Name,
			ID:     taskID,
			RootID: taskID,
		},
		Properties: messageProperties{
			CorrelationID: taskID,
			DeliveryMode:  2,
			DeliveryInfo:  deliveryInfo{RoutingKey: task.Queue},
			BodyEncoding:  "base64",
			DeliveryTag:   deliveryTag,
		},
	}
	return json.Marshal(msg)
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
