package harness

import (
	"fmt"
	"strings"
)

// Trace event directions.
const (
	DirSend       = ">"
	DirRecv       = "<"
	DirDisconnect = "x"
)

// TraceEvent is one frame crossing a connection.
type TraceEvent struct {
	Seq   int    `json:"seq"`
	Conn  string `json:"conn"`
	Dir   string `json:"dir"`
	Frame string `json:"frame,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(conn, dir, frame string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:   len(r.Trace) + 1,
		Conn:  conn,
		Dir:   dir,
		Frame: frame,
	})
}

// Render formats the trace one event per line.
func (r *Result) Render(scenario string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario)
	for _, ev := range r.Trace {
		if ev.Frame == "" {
			fmt.Fprintf(&b, "%03d %s %s\n", ev.Seq, ev.Conn, ev.Dir)
			continue
		}
		fmt.Fprintf(&b, "%03d %s %s %s\n", ev.Seq, ev.Conn, ev.Dir, ev.Frame)
	}
	return b.String()
}
