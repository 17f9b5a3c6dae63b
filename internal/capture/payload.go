package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	lzstring "github.com/daku10/go-lz-string"
	"github.com/klauspost/compress/gzip"
)

// PayloadKind tags the RawPayload variant.
type PayloadKind int

const (
	PayloadObject PayloadKind = iota + 1
	PayloadArray
)

// RawPayload is the decoded request body: either a single object or an array.
// Numbers are kept as json.Number so ids and timestamps survive untouched.
type RawPayload struct {
	Kind   PayloadKind
	Object map[string]interface{}
	Array  []interface{}
}

// First returns the object a legacy single-event SDK sent: the payload itself
// for objects, the first element for arrays (Mixpanel Swift SDK wraps one
// event in a list). ok is false when there is no such object.
func (p RawPayload) First() (map[string]interface{}, bool) {
	switch p.Kind {
	case PayloadObject:
		return p.Object, true
	case PayloadArray:
		if len(p.Array) == 0 {
			return nil, false
		}
		obj, ok := p.Array[0].(map[string]interface{})
		return obj, ok
	}
	return nil, false
}

// Request is everything the pipeline reads from one HTTP request.
type Request struct {
	Path    string
	Query   url.Values
	Form    url.Values
	Payload RawPayload
}

// DecodeRequest reads the body of r (bounded by maxBytes) and decodes it.
//
// Form posts carry the payload in the `data` field, GET requests in the `data`
// query parameter, anything else is a raw body. Raw bodies may be gzipped
// (compression=gzip, gzip-js or Content-Encoding: gzip); any data may be
// lz-string compressed (compression=lz64). Data that is not JSON
// is retried as base64-encoded JSON, the encoding older JS and mobile SDKs use.
func DecodeRequest(r *http.Request, maxBytes int64) (*Request, error) {
	req := &Request{
		Path:  r.URL.Path,
		Query: r.URL.Query(),
		Form:  url.Values{},
	}

	raw, err := readData(r, req, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, newError(KindEmptyPayload, msgEmpty)
	}
	if compressionOf(r, req) == compressionLZ64 {
		if raw, err = decompressLZ64(raw); err != nil {
			return nil, err
		}
	}

	payload, err := decodeJSONPayload(raw)
	if err != nil {
		return nil, err
	}
	req.Payload = payload
	return req, nil
}

func readData(r *http.Request, req *Request, maxBytes int64) ([]byte, error) {
	if r.Method == http.MethodGet {
		return []byte(req.Query.Get("data")), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBytes); err != nil {
				return nil, formError(err)
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, formError(err)
		}
		req.Form = r.PostForm
		return []byte(req.Form.Get("data")), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, newError(KindMalformedPayload, msgMalformed)
	}
	if int64(len(body)) > maxBytes {
		return nil, newError(KindMalformedPayload, msgPayloadTooLarge)
	}

	if isGzip(r, req) && len(body) > 0 {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, newError(KindMalformedPayload, msgMalformed)
		}
		defer zr.Close()
		body, err = io.ReadAll(io.LimitReader(zr, maxBytes+1))
		if err != nil {
			return nil, newError(KindMalformedPayload, msgMalformed)
		}
		if int64(len(body)) > maxBytes {
			return nil, newError(KindMalformedPayload, msgPayloadTooLarge)
		}
	}
	return body, nil
}

func formError(err error) *Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newError(KindMalformedPayload, msgPayloadTooLarge)
	}
	return newError(KindMalformedPayload, msgMalformed)
}

const compressionLZ64 = "lz64"

// compressionOf reads the `compression` query or form field, falling back to
// Content-Encoding.
func compressionOf(r *http.Request, req *Request) string {
	compression := req.Query.Get("compression")
	if compression == "" {
		compression = req.Form.Get("compression")
	}
	if compression == "" {
		compression = r.Header.Get("Content-Encoding")
	}
	return strings.ToLower(compression)
}

func isGzip(r *http.Request, req *Request) bool {
	compression := compressionOf(r, req)
	return compression == "gzip" || compression == "gzip-js"
}

// decompressLZ64 undoes lz-string's base64 compression, used by older
// posthog-js builds. Form encoding may have turned '+' into ' '.
func decompressLZ64(raw []byte) ([]byte, error) {
	data := strings.ReplaceAll(strings.TrimSpace(string(raw)), " ", "+")
	out, err := lzstring.DecompressFromBase64(data)
	if err != nil || out == "" {
		return nil, newError(KindMalformedPayload, msgMalformed)
	}
	return []byte(out), nil
}

// decodeJSONPayload parses plain or base64-wrapped JSON into a RawPayload.
func decodeJSONPayload(raw []byte) (RawPayload, error) {
	value, err := unmarshalJSON(raw)
	if err != nil {
		decoded, b64err := decodeBase64(raw)
		if b64err != nil {
			return RawPayload{}, newError(KindMalformedPayload, msgMalformed)
		}
		if value, err = unmarshalJSON(decoded); err != nil {
			return RawPayload{}, newError(KindMalformedPayload, msgMalformed)
		}
	}

	switch v := value.(type) {
	case nil:
		return RawPayload{}, newError(KindEmptyPayload, msgEmpty)
	case map[string]interface{}:
		if len(v) == 0 {
			return RawPayload{}, newError(KindEmptyPayload, msgEmpty)
		}
		return RawPayload{Kind: PayloadObject, Object: v}, nil
	case []interface{}:
		if len(v) == 0 {
			return RawPayload{}, newError(KindEmptyPayload, msgEmpty)
		}
		return RawPayload{Kind: PayloadArray, Array: v}, nil
	default:
		return RawPayload{}, newError(KindMalformedPayload, msgMalformed)
	}
}

func unmarshalJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not. Form posts
// sometimes turn '+' into ' ', which is undone first.
func decodeBase64(raw []byte) ([]byte, error) {
	s := strings.ReplaceAll(strings.TrimSpace(string(raw)), " ", "+")
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, errors.New("not base64")
}
