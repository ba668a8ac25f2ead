// Package chat runs ask interactions against a generation server and keeps
// the resulting transcript for a renderer to display.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragbench/internal/config"
	"ragbench/internal/domain"
	"ragbench/internal/ollama"
	"ragbench/internal/stats"
	"ragbench/internal/stream"
	"ragbench/internal/transcript"
)

// ErrBusy is returned by Ask while another ask is streaming.
var ErrBusy = errors.New("an answer is still streaming")

// Generator streams a generate request as raw text fragments.
type Generator interface {
	GenerateStream(ctx context.Context, req ollama.GenerateRequest, onFragment func(string)) error
}

// ServiceError is an error record reported inside the response stream.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string { return "generation failed: " + e.Message }

// Session is one chat: a transcript, its continuation context and the
// settings used to ask. The transcript is only mutated by Ask and the
// explicit context actions; Snapshot is safe to call from another goroutine.
type Session struct {
	id        string
	llm       config.LLMConfig
	gen       Generator
	retriever domain.Retriever
	timeout   time.Duration
	log       *zap.Logger

	// OnUpdate, when set, is called after every change to the transcript.
	OnUpdate func(transcript.Transcript)

	mu         sync.Mutex
	tr         transcript.Transcript
	busy       bool
	throughput []float64
}

// Option configures a Session.
type Option func(*Session)

// WithRetriever augments every question with retrieved context.
func WithRetriever(r domain.Retriever) Option {
	return func(s *Session) { s.retriever = r }
}

// WithTimeout bounds each ask, overriding the configured timeout_secs. Zero
// means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates an empty session.
func NewSession(llm config.LLMConfig, gen Generator, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		llm:     llm,
		gen:     gen,
		timeout: time.Duration(llm.TimeoutSecs) * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("session_id", s.id), zap.String("model", llm.Model))
	return s
}

// ID returns the session id attached to its log entries.
func (s *Session) ID() string { return s.id }

// Model is the speaker name of answers in this session.
func (s *Session) Model() string { return s.llm.Model }

// Ask sends question to the model and streams the answer into the
// transcript. A transport failure is returned and leaves the transcript as
// far as it got; records that fail to decode are skipped. The session
// timeout, when set, bounds the whole ask including retrieval.
func (s *Session) Ask(ctx context.Context, question string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.tr = s.tr.Begin(question, s.llm.Model)
	replay := append([]int(nil), s.tr.Context...)
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.notify()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prompt := question
	if s.retriever != nil {
		p, err := s.retriever.Retrieve(ctx, question)
		if err != nil {
			s.log.Error("retrieval failed", zap.Error(err))
			return err
		}
		prompt = p
	}

	req := ollama.GenerateRequest{
		Model:   s.llm.Model,
		Prompt:  prompt,
		Context: replay,
		Options: &ollama.Options{Temperature: s.llm.Temperature},
	}
	reducer := transcript.Reducer{Model: s.llm.Model}
	buf := stream.NewBuffer()
	var streamErr error

	err := s.gen.GenerateStream(ctx, req, func(fragment string) {
		if streamErr != nil {
			return
		}
		for _, candidate := range buf.Append(fragment) {
			rec := stream.Decode(candidate)
			switch rec.Kind {
			case stream.KindMalformed:
				s.log.Debug("skipping undecodable record", zap.String("candidate", candidate))
				continue
			case stream.KindServiceError:
				streamErr = &ServiceError{Message: rec.Err}
				return
			case stream.KindTerminalStats:
				s.log.Info("answer complete",
					zap.Int64("eval_count", rec.Stats.EvalCount),
					zap.Int64("eval_duration_ns", rec.Stats.EvalDurationNs),
					zap.Int("context_tokens", len(rec.Stats.Context)),
				)
			}
			s.mu.Lock()
			s.tr = reducer.Apply(rec, s.tr)
			if rec.Kind == stream.KindTerminalStats {
				s.throughput = append(s.throughput, rec.Stats.TokensPerSecond())
			}
			s.mu.Unlock()
			s.notify()
		}
	})
	if n := buf.Dropped(); n > 0 {
		s.log.Warn("dropped truncated records", zap.Int("count", n))
	}
	if tail := buf.Flush(); tail != "" {
		s.log.Debug("stream ended mid-record", zap.String("pending", tail))
	}
	if err == nil {
		err = streamErr
	}
	if err != nil {
		s.log.Error("ask failed", zap.Error(err))
		return fmt.Errorf("ask %s: %w", s.llm.Model, err)
	}
	return nil
}

// Snapshot returns a copy of the transcript.
func (s *Session) Snapshot() transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Clone()
}

// Busy reports whether an ask is streaming.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Throughput summarizes tokens per second over every answer so far.
func (s *Session) Throughput() stats.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stats.Summarize(s.throughput)
}

// Samples returns the tokens-per-second value of every answer so far, in
// order.
func (s *Session) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.throughput...)
}

// ClearContext forgets the continuation context, keeping the visible turns.
func (s *Session) ClearContext() {
	s.mu.Lock()
	s.tr.Context = nil
	s.mu.Unlock()
	s.notify()
}

// Reset clears turns, context and throughput samples.
func (s *Session) Reset() {
	s.mu.Lock()
	s.tr = transcript.Transcript{}
	s.throughput = nil
	s.mu.Unlock()
	s.notify()
}

// SetContext replaces the continuation context to replay on the next ask.
func (s *Session) SetContext(tokens []int) {
	s.mu.Lock()
	s.tr.Context = append([]int(nil), tokens...)
	s.mu.Unlock()
	s.notify()
}

// SaveContext writes the continuation context to path and returns the file
// actually written.
func (s *Session) SaveContext(path string) (string, error) {
	written, err := transcript.SaveContext(path, s.Snapshot().Context)
	if err != nil {
		return "", err
	}
	s.log.Info("context saved", zap.String("path", written))
	return written, nil
}

// LoadContext replaces the continuation context with the one stored at path.
func (s *Session) LoadContext(path string) error {
	tokens, err := transcript.LoadContext(path)
	if err != nil {
		return err
	}
	s.SetContext(tokens)
	s.log.Info("context loaded", zap.String("path", path), zap.Int("tokens", len(tokens)))
	return nil
}

func (s *Session) notify() {
	if s.OnUpdate != nil {
		s.OnUpdate(s.Snapshot())
	}
}
