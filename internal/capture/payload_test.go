package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxBytes = 1 << 20

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var cerr *Error
	require.True(t, errors.As(err, &cerr), "expected *Error, got %v", err)
	return cerr.Kind
}

func gzipBytes(t *testing.T, raw string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeRequest_JSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/e/?_=1700000000", strings.NewReader(`{"event":"$pageview","properties":{"count":12345678901234567890}}`))
	r.Header.Set("Content-Type", "application/json")

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "/e/", req.Path)
	assert.Equal(t, "1700000000", req.Query.Get("_"))
	assert.Equal(t, PayloadObject, req.Payload.Kind)
	assert.Equal(t, "$pageview", req.Payload.Object["event"])

	props := req.Payload.Object["properties"].(map[string]interface{})
	assert.Equal(t, json.Number("12345678901234567890"), props["count"])
}

func TestDecodeRequest_ArrayBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/track/", strings.NewReader(`[{"event":"a"},{"event":"b"}]`))

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, PayloadArray, req.Payload.Kind)
	assert.Len(t, req.Payload.Array, 2)

	first, ok := req.Payload.First()
	require.True(t, ok)
	assert.Equal(t, "a", first["event"])
}

func TestDecodeRequest_FormBase64(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"event":"$pageview","distinct_id":"abc"}`))
	form := url.Values{"data": {data}, "api_key": {"phc_token"}, "sent_at": {"1700000000"}}
	r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "phc_token", req.Form.Get("api_key"))
	assert.Equal(t, "1700000000", req.Form.Get("sent_at"))
	assert.Equal(t, "abc", req.Payload.Object["distinct_id"])
}

func TestDecodeRequest_FormPlainJSON(t *testing.T) {
	form := url.Values{"data": {`{"event":"e","token":"t"}`}}
	r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "t", req.Payload.Object["token"])
}

func TestDecodeRequest_GetQueryData(t *testing.T) {
	data := base64.URLEncoding.EncodeToString([]byte(`{"event":"e","token":"t"}`))
	r := httptest.NewRequest(http.MethodGet, "/e/?data="+url.QueryEscape(data), nil)

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "e", req.Payload.Object["event"])
}

func TestDecodeRequest_Gzip(t *testing.T) {
	body := gzipBytes(t, `{"event":"e","token":"t"}`)

	r := httptest.NewRequest(http.MethodPost, "/e/?compression=gzip-js", bytes.NewReader(body))
	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "t", req.Payload.Object["token"])

	r = httptest.NewRequest(http.MethodPost, "/e/", bytes.NewReader(body))
	r.Header.Set("Content-Encoding", "gzip")
	req, err = DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "e", req.Payload.Object["event"])

	r = httptest.NewRequest(http.MethodPost, "/e/?compression=gzip", strings.NewReader("not gzip"))
	_, err = DecodeRequest(r, testMaxBytes)
	assert.Equal(t, KindMalformedPayload, kindOf(t, err))
}

// lz-string compressToBase64 output, as older posthog-js builds send it.
const (
	lz64Object = "N4IgpgbmB2AuIC4QBIAOBDA5pAlmA7iADQgAmOAzrDtAMawD6OpiI6ARrcW6jgwNZgAnq1QALWg1gB7QdBABfIA="
	lz64Array  = "NobwRApgbhB2AuYBcYCGYA0YAmBLAzvLrAMbwD6u2yYArgIxgC+G40ciKARpjgUaQpUatAEzMAukA==="
)

func TestDecodeRequest_LZ64(t *testing.T) {
	form := url.Values{"data": {lz64Object}, "compression": {"lz64"}}
	r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	req, err := DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, PayloadObject, req.Payload.Kind)
	assert.Equal(t, "$pageview", req.Payload.Object["event"])
	assert.Equal(t, "phc_token", req.Payload.Object["api_key"])

	r = httptest.NewRequest(http.MethodPost, "/batch/?compression=lz64", strings.NewReader(lz64Array))
	req, err = DecodeRequest(r, testMaxBytes)
	require.NoError(t, err)
	require.Equal(t, PayloadArray, req.Payload.Kind)
	assert.Len(t, req.Payload.Array, 2)

	r = httptest.NewRequest(http.MethodPost, "/e/?compression=lz64", strings.NewReader("%%%not-lz%%%"))
	_, err = DecodeRequest(r, testMaxBytes)
	assert.Equal(t, KindMalformedPayload, kindOf(t, err))
}

func TestDecodeRequest_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Kind
	}{
		{"no body", "", KindEmptyPayload},
		{"whitespace", "   ", KindEmptyPayload},
		{"null", "null", KindEmptyPayload},
		{"empty object", "{}", KindEmptyPayload},
		{"empty array", "[]", KindEmptyPayload},
		{"not json", "not json!!", KindMalformedPayload},
		{"scalar", "42", KindMalformedPayload},
		{"trailing data", `{"a":1} {"b":2}`, KindMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(tt.body))
			_, err := DecodeRequest(r, testMaxBytes)
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}
}

func TestDecodeRequest_TooLarge(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(`{"event":"a long enough payload"}`))
	_, err := DecodeRequest(r, 10)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindMalformedPayload, cerr.Kind)
	assert.Equal(t, msgPayloadTooLarge, cerr.Message)
}

func TestDecodeRequest_FormTooLarge(t *testing.T) {
	form := url.Values{"data": {strings.Repeat("x", 100)}}
	r := httptest.NewRequest(http.MethodPost, "/e/", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := DecodeRequest(r, 10)
	assert.Equal(t, KindMalformedPayload, kindOf(t, err))
}
