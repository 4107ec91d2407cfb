package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFormatTextRecord(t *testing.T) {
	rec := Record{
		Type:    TypeText,
		From:    "alice",
		Target:  "bob",
		Payload: "hi there",
		SentAt:  time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
	assert.Equal(t,
		"{type:text,from:alice,target:bob,isGroup:false,msg:hi there,ts:2026-09-01T10:00:00Z}",
		rec.Format())
}

func TestFormatVoiceNoteRecord(t *testing.T) {
	rec := Record{
		Type:    TypeVoiceNote,
		From:    "alice",
		Target:  "dev",
		IsGroup: true,
		Payload: "data/media/vn_1_1.raw",
		SentAt:  time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
	assert.Equal(t,
		"{type:voice_note,from:alice,target:dev,isGroup:true,file:data/media/vn_1_1.raw,ts:2026-09-01T10:00:00Z}",
		rec.Format())
}

func TestFormatNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	rec := Record{
		Type:   TypeText,
		From:   "a",
		Target: "b",
		SentAt: time.Date(2026, 9, 1, 12, 0, 0, 0, loc),
	}
	assert.Contains(t, rec.Format(), "ts:2026-09-01T10:00:00Z}")
}

func TestParseTextRecord(t *testing.T) {
	line := "{type:text,from:alice,target:bob,isGroup:false,msg:hi there,ts:2026-09-01T10:00:00Z}"
	rec, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, TypeText, rec.Type)
	assert.Equal(t, "alice", rec.From)
	assert.Equal(t, "bob", rec.Target)
	assert.False(t, rec.IsGroup)
	assert.Equal(t, "hi there", rec.Payload)
	assert.True(t, rec.SentAt.Equal(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)))
}

func TestParseVoiceNoteRecord(t *testing.T) {
	line := "{type:voice_note,from:alice,target:dev,isGroup:true,file:data/media/vn_1_1.raw,ts:2026-09-01T10:00:00Z}"
	rec, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, TypeVoiceNote, rec.Type)
	assert.True(t, rec.IsGroup)
	assert.Equal(t, "data/media/vn_1_1.raw", rec.Payload)
}

func TestParsePayloadContainingCommas(t *testing.T) {
	line := "{type:text,from:a,target:b,isGroup:false,msg:one, two, three,ts:2026-09-01T10:00:00Z}"
	rec, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, "one, two, three", rec.Payload)
}

func TestParseRejectsMalformedLines(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"no braces", "type:text,from:a"},
		{"missing closing brace", "{type:text,from:a,target:b,isGroup:false,msg:x,ts:2026-09-01T10:00:00Z"},
		{"missing type", "{from:a,target:b,isGroup:false,msg:x,ts:2026-09-01T10:00:00Z}"},
		{"missing payload", "{type:text,from:a,target:b,isGroup:false,ts:2026-09-01T10:00:00Z}"},
		{"bad isGroup", "{type:text,from:a,target:b,isGroup:maybe,msg:x,ts:2026-09-01T10:00:00Z}"},
		{"missing ts", "{type:text,from:a,target:b,isGroup:false,msg:x}"},
		{"bad ts", "{type:text,from:a,target:b,isGroup:false,msg:x,ts:yesterday}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.line)
			assert.Error(t, err)
		})
	}
}

// TestRecordRoundTrip formats and re-parses records whose fields avoid the
// positional field markers, the one shape the format can faithfully carry.
func TestRecordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nameGen := rapid.StringMatching(`[a-zA-Z0-9_-]{1,16}`)
		payloadGen := rapid.StringMatching(`[a-zA-Z0-9 .!?/_-]{0,60}`)

		recType := TypeText
		if rapid.Bool().Draw(t, "isVoice") {
			recType = TypeVoiceNote
		}
		rec := Record{
			Type:    recType,
			From:    nameGen.Draw(t, "from"),
			Target:  nameGen.Draw(t, "target"),
			IsGroup: rapid.Bool().Draw(t, "isGroup"),
			Payload: payloadGen.Draw(t, "payload"),
			SentAt:  time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "sec"), 0).UTC(),
		}

		parsed, err := Parse(rec.Format())
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if parsed.Type != rec.Type || parsed.From != rec.From ||
			parsed.Target != rec.Target || parsed.IsGroup != rec.IsGroup ||
			parsed.Payload != rec.Payload || !parsed.SentAt.Equal(rec.SentAt) {
			t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", rec, parsed)
		}
	})
}
