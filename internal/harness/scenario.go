package harness

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
)

// Scenario is a scripted protocol exchange.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Identities seeds identities 1..n before anything else runs.
	Identities int `yaml:"identities"`

	// Policy is the session collision policy: replace (default) or
	// keep_first.
	Policy string `yaml:"policy,omitempty"`

	// Setup writes rows directly to the store. It is not traced.
	Setup []SetupStep `yaml:"setup,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SetupStep creates one relationship edge or one mailbox entry.
type SetupStep struct {
	Relation string `yaml:"relation,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Main     int64  `yaml:"main"`
	Peer     int64  `yaml:"peer"`
}

// Step acts on one named connection. Exactly one of Send, Raw and
// Disconnect is set.
type Step struct {
	Conn string `yaml:"conn"`

	// Send is marshaled to JSON and sent as a frame.
	Send map[string]any `yaml:"send,omitempty"`

	// Raw is sent verbatim, e.g. "ping" or a deliberately broken frame.
	Raw string `yaml:"raw,omitempty"`

	Disconnect bool `yaml:"disconnect,omitempty"`

	// Expect is the exact reply, after timestamps are masked.
	Expect string `yaml:"expect,omitempty"`

	// ExpectError is shorthand for expect: {"error":"<ExpectError>"}.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	// edge_exists, edge_absent
	Relation string `yaml:"relation,omitempty"`
	Main     int64  `yaml:"main,omitempty"`
	Peer     int64  `yaml:"peer,omitempty"`

	// mailbox_count
	Recipient int64 `yaml:"recipient,omitempty"`

	// session_live, session_absent
	Token string `yaml:"token,omitempty"`

	// trace_contains, trace_count
	Conn     string `yaml:"conn,omitempty"`
	Contains string `yaml:"contains,omitempty"`

	// mailbox_count, trace_count
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertEdgeExists    = "edge_exists"
	AssertEdgeAbsent    = "edge_absent"
	AssertMailboxCount  = "mailbox_count"
	AssertSessionLive   = "session_live"
	AssertSessionAbsent = "session_absent"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and validates a scenario file. Unknown keys are an
// error so typos do not silently skip a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(bytes.NewReader(data))
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Identities < 0 {
		return fmt.Errorf("identities must be non-negative")
	}
	if _, err := session.ParsePolicy(s.Policy); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, st := range s.Setup {
		switch {
		case st.Relation != "" && st.Message != "":
			return fmt.Errorf("setup[%d]: relation and message are exclusive", i)
		case st.Relation != "":
			if _, err := store.ParseRelation(st.Relation); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
		case st.Message == "":
			return fmt.Errorf("setup[%d]: relation or message is required", i)
		}
		if st.Main <= 0 || st.Peer <= 0 {
			return fmt.Errorf("setup[%d]: main and peer are required", i)
		}
	}

	for i, st := range s.Steps {
		if st.Conn == "" {
			return fmt.Errorf("steps[%d]: conn is required", i)
		}
		actions := 0
		if st.Send != nil {
			actions++
		}
		if st.Raw != "" {
			actions++
		}
		if st.Disconnect {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("steps[%d]: exactly one of send, raw, disconnect is required", i)
		}
		if st.Expect != "" && st.ExpectError != "" {
			return fmt.Errorf("steps[%d]: expect and expect_error are exclusive", i)
		}
		if st.Disconnect && (st.Expect != "" || st.ExpectError != "") {
			return fmt.Errorf("steps[%d]: disconnect has no reply to expect", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEdgeExists, AssertEdgeAbsent:
		if _, err := store.ParseRelation(a.Relation); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Main <= 0 || a.Peer <= 0 {
			return fmt.Errorf("assertions[%d]: main and peer are required for %s", index, a.Type)
		}
	case AssertMailboxCount:
		if a.Recipient <= 0 {
			return fmt.Errorf("assertions[%d]: recipient is required for mailbox_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertSessionLive, AssertSessionAbsent:
		if a.Token == "" {
			return fmt.Errorf("assertions[%d]: token is required for %s", index, a.Type)
		}
	case AssertTraceContains, AssertTraceCount:
		if a.Conn == "" || a.Contains == "" {
			return fmt.Errorf("assertions[%d]: conn and contains are required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
