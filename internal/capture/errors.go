package capture

import (
	"net/http"
)

// Kind classifies a request-terminal capture failure.
type Kind string

const (
	KindMalformedPayload       Kind = "malformed_payload"
	KindEmptyPayload           Kind = "empty_payload"
	KindMissingToken           Kind = "missing_token"
	KindInvalidProjectID       Kind = "invalid_project_id"
	KindMissingProjectID       Kind = "missing_project_id"
	KindInvalidAPIKey          Kind = "invalid_api_key"
	KindUnknownTenant          Kind = "unknown_tenant"
	KindSessionRecordingReject Kind = "session_recording_validation"
	KindMissingDistinctID      Kind = "missing_distinct_id"
	KindMissingEventName       Kind = "missing_event_name"
)

const (
	msgMalformed        = "Malformed request data. Make sure you're sending valid JSON."
	msgEmpty            = "No data found. Make sure to use a POST request when sending the payload in the body of the request."
	msgMissingToken     = "API key not provided. You can find your project API key in PostHog project settings."
	msgInvalidProjectID = "Invalid project ID."
	msgProjectKeyBad    = "Project API key invalid. You can find your project API key in PostHog project settings."
	msgPersonalKeyBad   = "Personal API key invalid."
	msgUnknownTenant    = "Project ID is not accessible with this personal API key."
	msgMissingDistinct  = "You need to set user distinct ID field `distinct_id`."
	msgMissingEvent     = "You need to set event name field `event`."
	msgBadSentAt        = "Invalid sent_at timestamp."
	msgBadProperties    = "Event field `properties` must be an object."
	msgBadBatch         = "Field `batch` must be a list of events."
	msgBadBatchItem     = "Every event in a batch must be an object."
	msgPayloadTooLarge  = "Request body exceeds maximum allowed size."
)

// Status maps a failure kind to its HTTP status: 401 for credential failures,
// 400 for everything else.
func (k Kind) Status() int {
	switch k {
	case KindMissingToken, KindMissingProjectID, KindInvalidAPIKey, KindUnknownTenant:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// Error is a client-caused pipeline failure. Item carries the offending raw
// event for per-event failures.
type Error struct {
	Kind    Kind
	Message string
	Item    map[string]interface{}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func newItemError(kind Kind, message string, item map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Item: item}
}
