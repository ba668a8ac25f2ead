// Package bench runs a question set through a chat session one question at
// a time and summarizes generation throughput.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragbench/internal/stats"
)

// ErrNoQuestions is returned for a question set without any question.
var ErrNoQuestions = errors.New("question set is empty")

// Question is one entry of a question set file. Answer is the reference
// answer; it is carried through to the report but not scored.
type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// LoadQuestions reads a JSON array of questions.
func LoadQuestions(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var qs []Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	for i, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("parse %s: entry %d has no question", path, i)
		}
	}
	return qs, nil
}

// Asker is the part of a chat session the runner drives.
type Asker interface {
	Ask(ctx context.Context, question string) error
	ClearContext()
	Samples() []float64
}

// Result is the outcome of one question. TokensPerSecond is nil when the
// answer failed or reported no usable throughput.
type Result struct {
	Index           int      `json:"index" yaml:"index"`
	Question        string   `json:"question" yaml:"question"`
	Reference       string   `json:"reference,omitempty" yaml:"reference,omitempty"`
	TokensPerSecond *float64 `json:"tokens_per_second,omitempty" yaml:"tokens_per_second,omitempty"`
	ElapsedMs       int64    `json:"elapsed_ms" yaml:"elapsed_ms"`
	Error           string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is a whole run.
type Report struct {
	Model   string        `json:"model" yaml:"model"`
	Results []Result      `json:"results" yaml:"results"`
	Summary stats.Summary `json:"summary" yaml:"summary"`
	Failed  int           `json:"failed" yaml:"failed"`
}

// Runner asks every question of a set against one session.
type Runner struct {
	asker Asker
	log   *zap.Logger
}

// NewRunner creates a runner. A nil log discards output.
func NewRunner(asker Asker, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{asker: asker, log: log}
}

// Run asks the questions in order. Each question starts from an empty
// continuation context so answers are independent. A failed question is
// recorded and the run goes on; cancelling ctx stops the run and returns
// what was collected with ctx.Err().
func (r *Runner) Run(ctx context.Context, questions []Question, onResult func(Result)) (Report, error) {
	var (
		report  Report
		samples []float64
	)
	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			report.Summary = stats.Summarize(samples)
			return report, err
		}
		r.asker.ClearContext()
		before := len(r.asker.Samples())

		start := time.Now()
		err := r.asker.Ask(ctx, q.Question)
		res := Result{
			Index:     i + 1,
			Question:  q.Question,
			Reference: q.Answer,
			ElapsedMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			res.Error = err.Error()
			report.Failed++
			r.log.Warn("question failed", zap.Int("index", res.Index), zap.Error(err))
		} else if after := r.asker.Samples(); len(after) > before {
			tps := after[len(after)-1]
			if !math.IsNaN(tps) && !math.IsInf(tps, 0) {
				res.TokensPerSecond = &tps
				samples = append(samples, tps)
			}
		}
		report.Results = append(report.Results, res)
		if onResult != nil {
			onResult(res)
		}
	}
	report.Summary = stats.Summarize(samples)
	r.log.Info("bench complete",
		zap.Int("questions", len(questions)),
		zap.Int("failed", report.Failed),
		zap.Float64("mean_tps", report.Summary.Mean),
		zap.Float64("sd_tps", report.Summary.StdDev),
	)
	return report, nil
}
