// Package recordings compresses and chunks session-recording snapshots before
// they are routed.
//
// Raw `$snapshot` events of one batch are grouped by `$session_id`; the
// snapshot data of each session is JSON-encoded, gzipped, base64-encoded and
// split into fixed-size string chunks. Every chunk becomes one `$snapshot`
// event that copies the first event of the session and replaces
// `$snapshot_data` with a chunk descriptor. Consumers reassemble by chunk_id.
package recordings

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	SnapshotEvent = "$snapshot"

	propSessionID    = "$session_id"
	propSnapshotData = "$snapshot_data"

	// CompressionGzipBase64 tags chunk data encoded by this package.
	CompressionGzipBase64 = "gzip-base64"

	// DefaultChunkSize is the maximum length of one chunk's data string.
	DefaultChunkSize = 512 * 1024

	// snapshotTypeFull is the rrweb event type of a full DOM snapshot.
	snapshotTypeFull = 2
)

var (
	ErrMissingSessionID    = errors.New("$snapshot events must set properties.$session_id")
	ErrMissingSnapshotData = errors.New("$snapshot events must set properties.$snapshot_data")
)

// Chunker implements capture.Preprocessor.
type Chunker struct {
	chunkSize int
	newID     func() string
}

// NewChunker returns a Chunker; chunkSize <= 0 selects DefaultChunkSize.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize, newID: uuid.NewString}
}

type session struct {
	id     string
	events []map[string]interface{}
}

// Preprocess passes non-snapshot events through in order and appends the
// chunk events of each session in order of first appearance. Snapshots that
// are already chunks pass through untouched.
func (c *Chunker) Preprocess(events []map[string]interface{}) ([]map[string]interface{}, error) {
	result := make([]map[string]interface{}, 0, len(events))
	var sessions []*session
	bySession := make(map[string]*session)

	for _, evt := range events {
		if !isRawSnapshot(evt) {
			result = append(result, evt)
			continue
		}
		props, _ := evt["properties"].(map[string]interface{})
		sid, ok := sessionID(props)
		if !ok {
			return nil, ErrMissingSessionID
		}
		if props[propSnapshotData] == nil {
			return nil, ErrMissingSnapshotData
		}

		s, found := bySession[sid]
		if !found {
			s = &session{id: sid}
			bySession[sid] = s
			sessions = append(sessions, s)
		}
		s.events = append(s.events, evt)
	}

	for _, s := range sessions {
		chunks, err := c.compressAndChunk(s)
		if err != nil {
			return nil, err
		}
		result = append(result, chunks...)
	}
	return result, nil
}

func (c *Chunker) compressAndChunk(s *session) ([]map[string]interface{}, error) {
	data := make([]interface{}, 0, len(s.events))
	hasFull := false
	for _, evt := range s.events {
		snapshot := evt["properties"].(map[string]interface{})[propSnapshotData]
		data = append(data, snapshot)
		if isFullSnapshot(snapshot) {
			hasFull = true
		}
	}

	compressed, err := compressToString(data)
	if err != nil {
		return nil, fmt.Errorf("compress session %s: %w", s.id, err)
	}

	parts := chunkString(compressed, c.chunkSize)
	chunkID := c.newID()
	first := s.events[0]
	firstProps := first["properties"].(map[string]interface{})

	out := make([]map[string]interface{}, 0, len(parts))
	for i, part := range parts {
		evt := make(map[string]interface{}, len(first))
		for k, v := range first {
			evt[k] = v
		}
		props := make(map[string]interface{}, len(firstProps))
		for k, v := range firstProps {
			props[k] = v
		}
		props[propSessionID] = s.id
		props[propSnapshotData] = map[string]interface{}{
			"chunk_id":          chunkID,
			"chunk_index":       i,
			"chunk_count":       len(parts),
			"data":              part,
			"compression":       CompressionGzipBase64,
			"has_full_snapshot": hasFull,
		}
		evt["properties"] = props
		out = append(out, evt)
	}
	return out, nil
}

func isRawSnapshot(evt map[string]interface{}) bool {
	if name, _ := evt["event"].(string); name != SnapshotEvent {
		return false
	}
	props, _ := evt["properties"].(map[string]interface{})
	if data, ok := props[propSnapshotData].(map[string]interface{}); ok {
		if _, chunked := data["chunk_id"]; chunked {
			return false
		}
	}
	return true
}

func sessionID(props map[string]interface{}) (string, bool) {
	switch v := props[propSessionID].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func isFullSnapshot(snapshot interface{}) bool {
	m, ok := snapshot.(map[string]interface{})
	if !ok {
		return false
	}
	switch t := m["type"].(type) {
	case json.Number:
		n, err := t.Int64()
		return err == nil && n == snapshotTypeFull
	case float64:
		return t == snapshotTypeFull
	case int:
		return t == snapshotTypeFull
	default:
		return false
	}
}

func compressToString(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecompressString reverses the chunk encoding of a reassembled data string.
func DecompressString(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func chunkString(s string, size int) []string {
	if s == "" {
		return []string{""}
	}
	parts := make([]string, 0, (len(s)+size-1)/size)
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		parts = append(parts, s[start:end])
	}
	return parts
}
