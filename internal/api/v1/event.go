package v1

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxDistinctIDLength is the number of characters kept from a client distinct id.
const MaxDistinctIDLength = 200

// Event is the canonical record produced from one raw SDK event.
// It separates the "Envelope" (server-assigned attributes) from the raw event body.
type Event struct {
	// --- Envelope ---

	// UUID is assigned on ingestion. Clients never set it.
	UUID string `json:"uuid"`

	// DistinctID identifies the end user or device that generated the event.
	// Truncated to MaxDistinctIDLength characters.
	DistinctID string `json:"distinct_id"`

	// TeamID binds the event to the resolved tenant.
	TeamID int64 `json:"team_id"`

	// IP is the caller address, empty when the tenant anonymizes IPs.
	IP string `json:"ip,omitempty"`

	// SiteURL is the scheme+host the request was sent to.
	SiteURL string `json:"site_url"`

	// ReceivedAt is the request start time, shared across a batch.
	ReceivedAt time.Time `json:"now"`

	// SentAt is the client-reported send time, shared across a batch.
	SentAt *time.Time `json:"sent_at,omitempty"`

	// --- Raw body ---

	// Name is the event name, e.g. "$pageview".
	Name string `json:"-"`

	// Properties always exists after normalization, possibly empty.
	Properties map[string]interface{} `json:"-"`

	// Data is the normalized raw event object. Name and Properties alias
	// Data["event"] and Data["properties"].
	Data map[string]interface{} `json:"data"`
}

// Validate ensures the event carries everything a delivery path relies on.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if e.DistinctID == "" {
		return fmt.Errorf("distinct_id is required")
	}
	if utf8.RuneCountInString(e.DistinctID) > MaxDistinctIDLength {
		return fmt.Errorf("distinct_id exceeds %d characters", MaxDistinctIDLength)
	}
	if e.Properties == nil {
		return fmt.Errorf("properties are required")
	}
	if e.TeamID == 0 {
		return fmt.Errorf("team_id is required")
	}
	return nil
}

// RouteKind tags the RoutingTarget variant.
type RouteKind string

const (
	RouteDirectLog  RouteKind = "direct_log"
	RouteQueuedTask RouteKind = "queued_task"
)

// RoutingTarget describes where one event was delivered.
// Topics is set for RouteDirectLog; TaskName and QueueName for RouteQueuedTask.
type RoutingTarget struct {
	Kind      RouteKind `json:"kind"`
	Topics    []string  `json:"topics,omitempty"`
	TaskName  string    `json:"task_name,omitempty"`
	QueueName string    `json:"queue_name,omitempty"`
}

// DirectLog builds a durable-log target.
func DirectLog(topics ...string) RoutingTarget {
	return RoutingTarget{Kind: RouteDirectLog, Topics: topics}
}

// QueuedTask builds a task-queue target.
func QueuedTask(taskName, queueName string) RoutingTarget {
	return RoutingTarget{Kind: RouteQueuedTask, TaskName: taskName, QueueName: queueName}
}
