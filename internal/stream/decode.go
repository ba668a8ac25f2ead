package stream

import "encoding/json"

// Kind classifies a decoded record.
type Kind int

const (
	KindMalformed Kind = iota
	KindContentDelta
	KindTerminalStats
	KindServiceError
)

func (k Kind) String() string {
	switch k {
	case KindContentDelta:
		return "content_delta"
	case KindTerminalStats:
		return "terminal_stats"
	case KindServiceError:
		return "service_error"
	default:
		return "malformed"
	}
}

// TerminalStats closes a turn. Context is the generation service's running
// state, replayed on the next request.
type TerminalStats struct {
	EvalCount      int64
	EvalDurationNs int64
	Context        []int
}

// TokensPerSecond is EvalCount / EvalDurationNs * 1e9. A zero duration
// yields +Inf (or NaN when EvalCount is also zero).
func (s TerminalStats) TokensPerSecond() float64 {
	return float64(s.EvalCount) / float64(s.EvalDurationNs) * 1e9
}

// Record is the decoded meaning of one candidate object. Only the fields for
// its Kind are set.
type Record struct {
	Kind  Kind
	Text  string        // KindContentDelta
	Stats TerminalStats // KindTerminalStats
	Err   string        // KindServiceError
}

// Delta builds a content delta record.
func Delta(text string) Record { return Record{Kind: KindContentDelta, Text: text} }

// Stats builds a terminal stats record.
func Stats(evalCount, evalDurationNs int64, context []int) Record {
	return Record{Kind: KindTerminalStats, Stats: TerminalStats{
		EvalCount:      evalCount,
		EvalDurationNs: evalDurationNs,
		Context:        context,
	}}
}

// Malformed is the record for text that could not be classified.
var Malformed = Record{Kind: KindMalformed}

// wire shape of a streamed /api/generate line
type generateChunk struct {
	Response     string `json:"response"`
	Context      []int  `json:"context"`
	EvalCount    int64  `json:"eval_count"`
	EvalDuration int64  `json:"eval_duration"`
	Error        string `json:"error"`
}

// Decode classifies candidate. It never fails: anything it cannot make sense
// of becomes Malformed.
func Decode(candidate string) Record {
	var c generateChunk
	if err := json.Unmarshal([]byte(candidate), &c); err != nil {
		return Malformed
	}
	switch {
	case c.Response != "":
		return Delta(c.Response)
	case c.Context != nil:
		return Stats(c.EvalCount, c.EvalDuration, c.Context)
	case c.Error != "":
		return Record{Kind: KindServiceError, Err: c.Error}
	default:
		return Malformed
	}
}
