package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record types.
const (
	TypeText      = "text"
	TypeVoiceNote = "voice_note"
)

// Record is one durable history entry describing a sent message or voice
// note. The on-disk shape is the ad hoc brace format existing logs were
// written in, kept deliberately so old .jsonl files remain readable:
//
//	{type:text,from:alice,target:bob,isGroup:false,msg:hi there,ts:2026-09-01T10:00:00Z}
//	{type:voice_note,from:alice,target:dev,isGroup:true,file:data/media/vn_1_1.raw,ts:...}
//
// For voice notes Payload holds the blob path instead of message text.
type Record struct {
	Type    string
	From    string
	Target  string
	IsGroup bool
	Payload string
	SentAt  time.Time
}

// Format renders the record as a single log line.
func (r Record) Format() string {
	payloadField := "msg"
	if r.Type == TypeVoiceNote {
		payloadField = "file"
	}
	return fmt.Sprintf("{type:%s,from:%s,target:%s,isGroup:%t,%s:%s,ts:%s}",
		r.Type, r.From, r.Target, r.IsGroup, payloadField, r.Payload,
		r.SentAt.UTC().Format(time.RFC3339Nano))
}

// Parse reads a formatted line back into a Record. Field markers are
// positional, so a payload containing a marker sequence cannot be
// recovered; HISTORY replay streams raw lines and never re-parses them, so
// Parse is only used by tooling and tests.
func Parse(line string) (Record, error) {
	body, ok := strings.CutPrefix(line, "{")
	if !ok {
		return Record{}, fmt.Errorf("malformed record: missing opening brace")
	}
	body, ok = strings.CutSuffix(body, "}")
	if !ok {
		return Record{}, fmt.Errorf("malformed record: missing closing brace")
	}

	var rec Record
	rest, ok := strings.CutPrefix(body, "type:")
	if !ok {
		return Record{}, fmt.Errorf("malformed record: missing type field")
	}
	if rec.Type, rest, ok = cutField(rest, ",from:"); !ok {
		return Record{}, fmt.Errorf("malformed record: missing from field")
	}
	if rec.From, rest, ok = cutField(rest, ",target:"); !ok {
		return Record{}, fmt.Errorf("malformed record: missing target field")
	}
	var isGroupStr string
	if rec.Target, rest, ok = cutField(rest, ",isGroup:"); !ok {
		return Record{}, fmt.Errorf("malformed record: missing isGroup field")
	}

	payloadMarker := ",msg:"
	if idx := strings.Index(rest, ",file:"); idx >= 0 && (strings.Index(rest, ",msg:") < 0 || idx < strings.Index(rest, ",msg:")) {
		payloadMarker = ",file:"
	}
	if isGroupStr, rest, ok = cutField(rest, payloadMarker); !ok {
		return Record{}, fmt.Errorf("malformed record: missing payload field")
	}
	isGroup, err := strconv.ParseBool(isGroupStr)
	if err != nil {
		return Record{}, fmt.Errorf("malformed record: bad isGroup value %q", isGroupStr)
	}
	rec.IsGroup = isGroup

	// The timestamp is the last field; search from the end so payload text
	// containing ",ts:" earlier in the line does not truncate it.
	tsIdx := strings.LastIndex(rest, ",ts:")
	if tsIdx < 0 {
		return Record{}, fmt.Errorf("malformed record: missing ts field")
	}
	rec.Payload = rest[:tsIdx]
	ts, err := time.Parse(time.RFC3339Nano, rest[tsIdx+len(",ts:"):])
	if err != nil {
		return Record{}, fmt.Errorf("malformed record: bad timestamp: %w", err)
	}
	rec.SentAt = ts

	return rec, nil
}

func cutField(s, nextMarker string) (value, rest string, ok bool) {
	idx := strings.Index(s, nextMarker)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(nextMarker):], true
}
