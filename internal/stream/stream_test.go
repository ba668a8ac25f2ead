package stream

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_IncompleteInputNeverEmits(t *testing.T) {
	fragments := []string{`}}noise`, ` {"response":`, `"he`, `llo"`, ` `}
	b := NewBuffer()
	var all strings.Builder
	for _, f := range fragments {
		all.WriteString(f)
		require.Empty(t, b.Append(f))
		require.Equal(t, all.String(), b.Pending())
	}
}

func TestBuffer_SplitAtEveryBoundary(t *testing.T) {
	const obj = `{"response":"hello"}`
	for i := 0; i <= len(obj); i++ {
		b := NewBuffer()
		var got []string
		got = append(got, b.Append(obj[:i])...)
		got = append(got, b.Append(obj[i:])...)
		require.Equal(t, []string{obj}, got, "split at %d", i)
		assert.Empty(t, b.Pending())
	}
}

func TestBuffer_MultipleObjectsInOneFragment(t *testing.T) {
	b := NewBuffer()
	got := b.Append("{\"response\":\"a\"}\n{\"response\":\"b\"}\n{\"resp")
	assert.Equal(t, []string{`{"response":"a"}`, `{"response":"b"}`}, got)
	assert.Equal(t, "\n{\"resp", b.Pending())

	got = b.Append(`onse":"c"}` + "\n")
	assert.Equal(t, []string{`{"response":"c"}`}, got)
	assert.Equal(t, "\n", b.Pending())
}

func TestBuffer_BracesInsideStrings(t *testing.T) {
	b := NewBuffer()
	const obj = `{"response":"} {\"x\": {"}`
	var got []string
	for _, r := range obj {
		got = append(got, b.Append(string(r))...)
	}
	require.Equal(t, []string{obj}, got)
	assert.Equal(t, Delta(`} {"x": {`), Decode(got[0]))
}

func TestBuffer_NestedObjects(t *testing.T) {
	b := NewBuffer()
	got := b.Append(`{"a":{"b":{}},"context":[1]}`)
	assert.Equal(t, []string{`{"a":{"b":{}},"context":[1]}`}, got)
}

func TestBuffer_TruncatedRecordIsDroppedAtNewline(t *testing.T) {
	b := NewBuffer()
	assert.Empty(t, b.Append(`{"response":"a`+"\n"))
	assert.Empty(t, b.Pending())
	assert.Equal(t, 1, b.Dropped())

	got := b.Append(`{"response":"b"}` + "\n")
	got = append(got, b.Append(`{"context":[1],"eval_count":1,"eval_duration":1}`+"\n")...)
	require.Equal(t, []string{`{"response":"b"}`, `{"context":[1],"eval_count":1,"eval_duration":1}`}, got)
	assert.Equal(t, Delta("b"), Decode(got[0]))
	assert.Equal(t, KindTerminalStats, Decode(got[1]).Kind)
	assert.Equal(t, 1, b.Dropped())
}

func TestBuffer_TruncatedRecordOutsideString(t *testing.T) {
	b := NewBuffer()
	got := b.Append(`{"a":{"b":1` + "\n" + `{"response":"ok"}`)
	assert.Equal(t, []string{`{"response":"ok"}`}, got)
	assert.Equal(t, 1, b.Dropped())
	assert.Empty(t, b.Pending())
}

func TestBuffer_EscapedNewlineStaysInString(t *testing.T) {
	b := NewBuffer()
	got := b.Append(`{"response":"line\nnext"}`)
	require.Len(t, got, 1)
	assert.Equal(t, Delta("line\nnext"), Decode(got[0]))
	assert.Zero(t, b.Dropped())
}

func TestBuffer_FlushAndReset(t *testing.T) {
	b := NewBuffer()
	b.Append(`{"response":"x"} {"respo`)
	assert.Equal(t, `{"respo`, b.Flush())
	assert.Equal(t, 0, b.Len())

	// scan state must not leak into the next object
	assert.Equal(t, []string{`{"response":"y"}`}, b.Append(`{"response":"y"}`))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Record
	}{
		{"delta", `{"model":"m1","response":"He","done":false}`, Delta("He")},
		{"terminal", `{"response":"","done":true,"context":[1,2,3],"eval_count":10,"eval_duration":500}`, Stats(10, 500, []int{1, 2, 3})},
		{"terminal without response", `{"context":[],"eval_count":0,"eval_duration":0}`, Stats(0, 0, []int{})},
		{"service error", `{"error":"model 'x' not found"}`, Record{Kind: KindServiceError, Err: "model 'x' not found"}},
		{"invalid json", `{not valid json`, Malformed},
		{"no recognized fields", `{"done":false}`, Malformed},
		{"not an object", `[1,2]`, Malformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decode(tc.in))
		})
	}
}

func TestTerminalStats_TokensPerSecond(t *testing.T) {
	s := TerminalStats{EvalCount: 100, EvalDurationNs: 1_000_000_000}
	assert.Equal(t, 100.0, s.TokensPerSecond())

	assert.True(t, math.IsInf(TerminalStats{EvalCount: 5}.TokensPerSecond(), 1))
	assert.True(t, math.IsNaN(TerminalStats{}.TokensPerSecond()))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "content_delta", KindContentDelta.String())
	assert.Equal(t, "terminal_stats", KindTerminalStats.String())
	assert.Equal(t, "service_error", KindServiceError.String())
	assert.Equal(t, "malformed", KindMalformed.String())
}
