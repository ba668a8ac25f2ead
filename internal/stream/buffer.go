// Package stream reconstructs JSON records from a streamed generation
// response whose object boundaries do not line up with delivery chunks.
package stream

import "strings"

// Buffer accumulates raw text fragments and extracts complete top-level
// JSON objects. Matching counts brace depth and ignores braces inside string
// literals, so `{"response":"}"}` is one object.
//
// The stream is newline-delimited: a raw newline never occurs inside a
// record, so an object still open at a newline was truncated. It is dropped
// and scanning resumes with the next object.
//
// A Buffer is not safe for concurrent use; fragments must be appended in
// delivery order.
type Buffer struct {
	pending []byte

	// scan state, carried between Append calls
	pos     int  // next byte of pending to scan
	start   int  // offset of the opening brace of the object being scanned
	depth   int  // current brace depth, 0 outside an object
	inStr   bool // inside a string literal of the current object
	escaped bool // previous byte was a backslash inside a string

	dropped int
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Append adds fragment to the pending text and returns every object that it
// completed, in arrival order. Text before an emitted object's opening brace
// is dropped along with the object. When nothing is emitted and no truncated
// object was dropped, the pending text is left untouched.
func (b *Buffer) Append(fragment string) []string {
	b.pending = append(b.pending, fragment...)

	var out []string
	consumed := 0
	for ; b.pos < len(b.pending); b.pos++ {
		c := b.pending[b.pos]
		if b.depth == 0 {
			if c == '{' {
				b.start = b.pos
				b.depth = 1
			}
			continue
		}
		if c == '\n' {
			b.depth, b.inStr, b.escaped = 0, false, false
			b.dropped++
			consumed = b.pos + 1
			continue
		}
		if b.inStr {
			switch {
			case b.escaped:
				b.escaped = false
			case c == '\\':
				b.escaped = true
			case c == '"':
				b.inStr = false
			}
			continue
		}
		switch c {
		case '"':
			b.inStr = true
		case '{':
			b.depth++
		case '}':
			b.depth--
			if b.depth == 0 {
				out = append(out, string(b.pending[b.start:b.pos+1]))
				consumed = b.pos + 1
			}
		}
	}

	if consumed > 0 {
		rest := len(b.pending) - consumed
		copy(b.pending, b.pending[consumed:])
		b.pending = b.pending[:rest]
		b.pos -= consumed
		if b.depth > 0 {
			b.start -= consumed
		}
	}
	return out
}

// Dropped reports how many truncated objects have been discarded since the
// last Reset.
func (b *Buffer) Dropped() int { return b.dropped }

// Pending returns the text not yet confirmed to belong to an emitted object.
func (b *Buffer) Pending() string { return string(b.pending) }

// Len reports the number of pending bytes.
func (b *Buffer) Len() int { return len(b.pending) }

// Reset discards all pending text and scan state.
func (b *Buffer) Reset() { *b = Buffer{} }

// Flush returns whatever is still pending, trimmed, and resets the buffer.
// A stream that ends mid-object leaves its tail here.
func (b *Buffer) Flush() string {
	s := strings.TrimSpace(string(b.pending))
	b.Reset()
	return s
}
