package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
)

// AssertionContext carries what the state assertions query.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Sessions *session.Registry
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEdgeExists, AssertEdgeAbsent:
		return assertEdge(actx, a)
	case AssertMailboxCount:
		return assertMailboxCount(actx, a)
	case AssertSessionLive, AssertSessionAbsent:
		return assertSession(actx, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertEdge(actx *AssertionContext, a Assertion) error {
	rel, err := store.ParseRelation(a.Relation)
	if err != nil {
		return err
	}
	ok, err := actx.Store.HasEdge(actx.Ctx, rel, a.Main, a.Peer)
	if err != nil {
		return fmt.Errorf("read %s edge: %w", rel, err)
	}
	want := a.Type == AssertEdgeExists
	if ok != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s edge %d→%d present=%t", rel, a.Main, a.Peer, want),
			Actual:   fmt.Sprintf("present=%t", ok),
		}
	}
	return nil
}

func assertMailboxCount(actx *AssertionContext, a Assertion) error {
	rows, err := actx.Store.ReadMessagesByRecipient(actx.Ctx, a.Recipient)
	if err != nil {
		return fmt.Errorf("read mailbox: %w", err)
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d queued for %d", a.Count, a.Recipient),
			Actual:   fmt.Sprintf("%d queued", len(rows)),
		}
	}
	return nil
}

func assertSession(actx *AssertionContext, a Assertion) error {
	_, live := actx.Sessions.Lookup(a.Token)
	want := a.Type == AssertSessionLive
	if live != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("token %s live=%t", a.Token, want),
			Actual:   fmt.Sprintf("live=%t", live),
		}
	}
	return nil
}

// delivered counts frames delivered to conn that contain text.
func delivered(trace []TraceEvent, conn, text string) int {
	n := 0
	for _, ev := range trace {
		if ev.Dir == DirRecv && ev.Conn == conn && strings.Contains(ev.Frame, text) {
			n++
		}
	}
	return n
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	if delivered(trace, a.Conn, a.Contains) == 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a frame on %s containing %s", a.Conn, a.Contains),
			Actual:   "none",
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	if n := delivered(trace, a.Conn, a.Contains); n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d frames on %s containing %s", a.Count, a.Conn, a.Contains),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}
