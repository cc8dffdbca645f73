package manager

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Level classifies a status message.
type Level int

// Status levels.
const (
	LevelInfo Level = iota
	LevelOK
	LevelWarn
	LevelFail
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "OK"
	case LevelWarn:
		return "WARN"
	case LevelFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// Status is one human-readable progress message.
type Status struct {
	Level   Level
	Target  string
	Message string
}

// Sink receives status messages as work progresses.
type Sink interface {
	Status(s Status)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Status)

// Status implements Sink.
func (f SinkFunc) Status(s Status) { f(s) }

// NopSink discards every message.
var NopSink Sink = SinkFunc(func(Status) {})

// Outcome is the result of one target operation. Warning marks a success
// that only partially took effect.
type Outcome struct {
	Target  string `yaml:"target" json:"target"`
	Success bool   `yaml:"success" json:"success"`
	Warning bool   `yaml:"warning,omitempty" json:"warning,omitempty"`
	Message string `yaml:"message" json:"message"`
	Err     error  `yaml:"-" json:"-"`
}

// Report collects the outcomes of a batch in request order.
type Report struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that did not succeed.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}

// Succeeded returns how many targets succeeded.
func (r Report) Succeeded() int {
	return len(r.Outcomes) - len(r.Failed())
}

// Err returns nil when every target succeeded, otherwise one error listing
// each failure.
func (r Report) Err() error {
	var result *multierror.Error
	for _, o := range r.Failed() {
		err := o.Err
		if err == nil {
			err = errors.New(o.Message)
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", o.Target, err))
	}
	return result.ErrorOrNil()
}
