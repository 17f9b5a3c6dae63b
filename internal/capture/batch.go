package capture

import (
	"strings"
)

// IdentifyEventName is injected into identify calls that omit an event name.
const IdentifyEventName = "$identify"

// DefaultIdentifyMarker is the path fragment of the legacy identify endpoint.
const DefaultIdentifyMarker = "engage"

// ExpandBatch turns the decoded payload into the ordered list of raw events.
//
//   - {"batch": [...]} (posthog-python, posthog-ruby) yields the inner list
//   - an object posted to an identify path gets event=$identify when unnamed
//   - a bare array is used as-is
//   - any other object is a single event
//
// Every element must be an object. The returned maps alias the payload.
func ExpandBatch(req *Request, identifyMarker string) ([]map[string]interface{}, error) {
	var items []interface{}

	switch req.Payload.Kind {
	case PayloadObject:
		obj := req.Payload.Object
		if batch, ok := obj["batch"]; ok && batch != nil {
			list, ok := batch.([]interface{})
			if !ok {
				return nil, newItemError(KindMalformedPayload, msgBadBatch, obj)
			}
			items = list
			break
		}
		if identifyMarker != "" && strings.Contains(req.Path, identifyMarker) {
			if name, _ := obj["event"].(string); name == "" {
				obj["event"] = IdentifyEventName
			}
		}
		items = []interface{}{obj}
	case PayloadArray:
		items = req.Payload.Array
	default:
		return nil, newError(KindEmptyPayload, msgEmpty)
	}

	events := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, newError(KindMalformedPayload, msgBadBatchItem)
		}
		events = append(events, obj)
	}
	return events, nil
}
