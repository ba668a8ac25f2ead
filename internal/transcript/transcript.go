// Package transcript holds the ordered conversation of a chat session and
// the reducer that folds decoded stream records into it.
package transcript

import (
	"strconv"

	"ragbench/internal/stream"
)

// UserSpeaker is the speaker name of questions typed by the user.
const UserSpeaker = "user"

// Turn is one message in the transcript. An open turn may still receive
// content deltas; TerminalStats closes it.
type Turn struct {
	Speaker        string
	Text           string
	StatAnnotation string
	Closed         bool
}

// Transcript is the visible conversation plus the continuation context the
// generation service hands back at the end of every answer.
type Transcript struct {
	Turns   []Turn
	Context []int
}

// Clone returns a deep copy.
func (t Transcript) Clone() Transcript {
	out := Transcript{}
	if t.Turns != nil {
		out.Turns = append(make([]Turn, 0, len(t.Turns)+1), t.Turns...)
	}
	if t.Context != nil {
		out.Context = append(make([]int, 0, len(t.Context)), t.Context...)
	}
	return out
}

// Begin starts an ask: the user's question, closed, followed by an empty open
// turn for model.
func (t Transcript) Begin(question, model string) Transcript {
	out := t.Clone()
	out.Turns = append(out.Turns,
		Turn{Speaker: UserSpeaker, Text: question, Closed: true},
		Turn{Speaker: model},
	)
	return out
}

// Last returns the trailing turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t.Turns) == 0 {
		return Turn{}, false
	}
	return t.Turns[len(t.Turns)-1], true
}

// Reducer applies records produced for Model.
type Reducer struct {
	Model string
}

// Apply returns the transcript that results from rec. t itself is never
// modified.
//
// A content delta extends the trailing turn only while it is open and
// belongs to Model; a delta arriving after the turn was closed starts a new
// turn.
func (r Reducer) Apply(rec stream.Record, t Transcript) Transcript {
	switch rec.Kind {
	case stream.KindContentDelta:
		out := t.Clone()
		if n := len(out.Turns); n > 0 && out.Turns[n-1].Speaker == r.Model && !out.Turns[n-1].Closed {
			out.Turns[n-1].Text += rec.Text
			return out
		}
		out.Turns = append(out.Turns, Turn{Speaker: r.Model, Text: rec.Text})
		return out

	case stream.KindTerminalStats:
		out := t.Clone()
		if n := len(out.Turns); n > 0 {
			out.Turns[n-1].StatAnnotation = Annotation(rec.Stats.TokensPerSecond())
			out.Turns[n-1].Closed = true
		}
		out.Context = append(out.Context, rec.Stats.Context...)
		return out

	default:
		return t
	}
}

// Annotation formats a throughput for display on a closed turn.
func Annotation(tokensPerSecond float64) string {
	return "tokens per second: " + strconv.FormatFloat(tokensPerSecond, 'f', -1, 64)
}
