package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDecodeFrame_KeepsRaw(t *testing.T) {
	line := `  {"type":"result","subtype":"success"}` + "\n"
	f, err := DecodeFrame([]byte(line))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(f.Raw) != `{"type":"result","subtype":"success"}` {
		t.Errorf("raw should be the trimmed frame, got %s", f.Raw)
	}
	if f.Type != FrameTypeResult || f.Subtype != "success" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestDecodeFrame_RawIsCopied(t *testing.T) {
	buf := []byte(`{"type":"stopped"}`)
	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	buf[2] = 'X'
	if string(f.Raw) != `{"type":"stopped"}` {
		t.Errorf("raw aliases the input buffer: %s", f.Raw)
	}
}

func TestDecodeError_Message(t *testing.T) {
	_, err := DecodeFrame([]byte("plain text"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not a JSON object") {
		t.Errorf("unexpected error text %q", err.Error())
	}

	_, err = DecodeFrame([]byte(`{"type":}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if _, ok := de.Unwrap().(*json.SyntaxError); !ok {
		t.Errorf("expected syntax error cause, got %T", de.Unwrap())
	}
}

func TestTruncateForLog(t *testing.T) {
	short := "abc"
	if truncateForLog(short) != short {
		t.Error("short strings should be unchanged")
	}
	long := strings.Repeat("x", 300)
	got := truncateForLog(long)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected truncation of length %d", len(got))
	}
}

func TestDecodeFrame_MistypedMetadataIsIgnored(t *testing.T) {
	line := `{"type":"result","subtype":"success","num_turns":"3","duration_ms":1200,"is_error":null,"session_id":7}`
	f, err := DecodeFrame([]byte(line))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameTypeResult || f.Subtype != "success" {
		t.Errorf("unexpected frame %+v", f)
	}
	if f.NumTurns != 0 || f.SessionID != "" {
		t.Errorf("mistyped fields should stay zero, got %d %q", f.NumTurns, f.SessionID)
	}
	if f.DurationMs != 1200 {
		t.Errorf("well-typed metadata should survive, got %d", f.DurationMs)
	}

	ev, err := ClassifyBytes([]byte(line))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, ok := ev.(TurnComplete); !ok {
		t.Errorf("expected TurnComplete, got %T", ev)
	}
}

func TestDecodeFrame_MistypedCoreFieldFails(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":5}`)); err == nil {
		t.Error("expected error for non-string type")
	}
}

func TestTruncateForLog_RuneBoundary(t *testing.T) {
	// 199 ASCII bytes followed by a 3-byte rune straddling the limit.
	s := strings.Repeat("x", 199) + strings.Repeat("世", 10)
	got := truncateForLog(s)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got[190:])
	}
	if got != strings.Repeat("x", 199)+"..." {
		t.Errorf("unexpected truncation %q", got[190:])
	}
}

func TestRawString(t *testing.T) {
	cases := []struct{ in, want string }{
		{``, ""},
		{`null`, ""},
		{`"hi"`, "hi"},
		{`[1, 2]`, "[1,2]"},
		{`{"a": "b"}`, `{"a":"b"}`},
		{`42`, "42"},
	}
	for _, c := range cases {
		if got := rawString(json.RawMessage(c.in)); got != c.want {
			t.Errorf("rawString(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
