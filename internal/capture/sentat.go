package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxSecondsDigits is the longest all-digit timestamp treated as Unix seconds.
// Anything longer is milliseconds; eleven digits of seconds run out in 5138.
const maxSecondsDigits = 11

// maxMillisDigits caps millisecond timestamps well inside int64 and year 9999.
const maxMillisDigits = 16

const maxSentAtYear = 9999

var allDigits = regexp.MustCompile(`^[0-9]+$`)

var thousand = decimal.NewFromInt(1000)

// isoLayouts are tried in order for non-numeric sent_at values.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ResolveSentAt returns the client-reported send time, or nil when the
// request carries none. Sources, first match wins:
//   - query `_` (posthog-js)
//   - body field `sent_at` (posthog-android, posthog-ios)
//   - form field `sent_at` (urlencoded posts)
func ResolveSentAt(req *Request) (*time.Time, error) {
	raw := req.Query.Get("_")
	if raw == "" && req.Payload.Kind == PayloadObject {
		raw = stringValue(req.Payload.Object["sent_at"])
	}
	if raw == "" {
		raw = req.Form.Get("sent_at")
	}
	if raw == "" {
		return nil, nil
	}

	t, err := ParseSentAt(raw)
	if err != nil {
		return nil, newError(KindMalformedPayload, msgBadSentAt)
	}
	return &t, nil
}

// ParseSentAt parses an all-digit Unix timestamp (seconds up to 11 digits,
// milliseconds up to 16) or an ISO-8601 string. Results are in UTC and no
// later than year 9999.
func ParseSentAt(raw string) (time.Time, error) {
	t, err := parseSentAt(raw)
	if err != nil {
		return time.Time{}, err
	}
	if t.Year() > maxSentAtYear {
		return time.Time{}, fmt.Errorf("sent_at %q is past year %d", raw, maxSentAtYear)
	}
	return t, nil
}

func parseSentAt(raw string) (time.Time, error) {
	if allDigits.MatchString(raw) {
		if len(raw) > maxMillisDigits {
			return time.Time{}, fmt.Errorf("sent_at %q has too many digits", raw)
		}
		if len(raw) > maxSecondsDigits {
			ms, err := decimal.NewFromString(raw)
			if err != nil {
				return time.Time{}, err
			}
			secs := ms.Div(thousand)
			whole := secs.Truncate(0)
			nanos := secs.Sub(whole).Shift(9).IntPart()
			return time.Unix(whole.IntPart(), nanos).UTC(), nil
		}
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs, 0).UTC(), nil
	}

	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, strings.TrimSpace(raw))
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// stringValue renders scalar JSON values as text. Objects, arrays and null
// yield "".
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "True"
		}
		return "False"
	default:
		return ""
	}
}
