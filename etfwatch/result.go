package etfwatch

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/ranking"
)

// Kind classifies the outcome of one batch item.
type Kind int

const (
	Success Kind = iota
	// Problem is a data-quality failure: recorded, the batch goes on.
	Problem
	// Fatal is a configuration or persistence failure of the item.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Problem:
		return "problem"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Result is the outcome of one batch item.
type Result struct {
	Kind Kind `json:"kind"`
	// Label names the item, e.g. "[Provider: 'x' (1), ETF: 'y' (2)]".
	Label string `json:"label"`
	// Reason and Detail describe a Problem or Fatal result.
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
	// Count is the number of records the item wrote.
	Count int `json:"count,omitempty"`
}

// classify turns an item error into a Result. A *ranking.Problem anywhere
// in the chain is a Problem; anything else is Fatal.
func classify(label string, err error) Result {
	if err == nil {
		return Result{Kind: Success, Label: label}
	}
	if p, ok := ranking.AsProblem(err); ok {
		return Result{Kind: Problem, Label: label, Reason: p.Reason, Detail: p.Detail}
	}
	return Result{Kind: Fatal, Label: label, Reason: err.Error()}
}

// Line renders a non-success result as a batch log line:
// label, reason and detail separated by tabs.
func (r Result) Line() string {
	return r.Label + "\t" + r.Reason + "\t" + r.Detail
}

// Summary counts the results of one batch.
type Summary struct {
	Success int `json:"success"`
	Problem int `json:"problem"`
	Fatal   int `json:"fatal"`
	// Lines holds the log line of every non-success result.
	Lines []string `json:"lines,omitempty"`
}

// Add counts r.
func (s *Summary) Add(r Result) {
	switch r.Kind {
	case Success:
		s.Success++
		return
	case Problem:
		s.Problem++
	default:
		s.Fatal++
	}
	s.Lines = append(s.Lines, r.Line())
}

// Total is the number of items counted.
func (s *Summary) Total() int { return s.Success + s.Problem + s.Fatal }

// ErrProcessRunning is returned when a process is started while a run of
// it is still in flight.
var ErrProcessRunning = errors.New("etfwatch: process already running")
