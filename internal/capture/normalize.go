package capture

import (
	"encoding/json"
	"unicode/utf8"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
)

// Preprocessor reshapes a whole batch before per-event validation. Session
// recording snapshots are chunked here. An error rejects the entire batch.
type Preprocessor interface {
	Preprocess(events []map[string]interface{}) ([]map[string]interface{}, error)
}

// NormalizeEvent validates one raw event and fills in its defaults. On success
// raw["properties"] is guaranteed to be an object.
func NormalizeEvent(raw map[string]interface{}) (*v1.Event, error) {
	distinctID, ok := distinctIDFrom(raw)
	if !ok {
		return nil, newItemError(KindMissingDistinctID, msgMissingDistinct, raw)
	}

	name, _ := raw["event"].(string)
	if name == "" {
		return nil, newItemError(KindMissingEventName, msgMissingEvent, raw)
	}

	var props map[string]interface{}
	switch p := raw["properties"].(type) {
	case nil:
		props = map[string]interface{}{}
		raw["properties"] = props
	case map[string]interface{}:
		props = p
	default:
		return nil, newItemError(KindMalformedPayload, msgBadProperties, raw)
	}

	return &v1.Event{
		DistinctID: distinctID,
		Name:       name,
		Properties: props,
		Data:       raw,
	}, nil
}

// distinctIDFrom checks `$distinct_id`, `properties.distinct_id`, then
// `distinct_id`. Null and empty values count as absent.
func distinctIDFrom(raw map[string]interface{}) (string, bool) {
	candidates := []interface{}{raw["$distinct_id"]}
	if props, ok := raw["properties"].(map[string]interface{}); ok {
		candidates = append(candidates, props["distinct_id"])
	}
	candidates = append(candidates, raw["distinct_id"])

	for _, c := range candidates {
		if s := distinctIDString(c); s != "" {
			return truncateRunes(s, v1.MaxDistinctIDLength), true
		}
	}
	return "", false
}

func distinctIDString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string, json.Number, bool:
		return stringValue(t)
	default:
		// objects and arrays are kept as their JSON text
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
