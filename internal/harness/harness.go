package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/authz"
	"github.com/roach88/potluck/internal/dispatch"
	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
	"github.com/roach88/potluck/internal/testutil"
)

// timestampField matches store-assigned timestamps inside reply rows.
var timestampField = regexp.MustCompile(`"(create_date|last_update|last_chat_update)":"[^"]*"`)

// Harness holds the state of one scenario run.
type Harness struct {
	store      *store.Store
	sessions   *session.Registry
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	conns map[string]*testutil.RecordingConn
	seen  map[string]int
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes scenario against a fresh SQLite store in a temporary
// directory. The returned error covers setup failures; expectation and
// assertion failures are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := os.MkdirTemp("", "potluck-scenario-")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(store.Config{
		Dialect: querysql.SQLite,
		DSN:     filepath.Join(dir, "scenario.db"),
	}, store.WithClock(testutil.NewDeterministicClock().Now), store.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	defer st.Shutdown()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	policy, err := session.ParsePolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}
	sessions := session.NewRegistry(session.WithPolicy(policy), session.WithLogger(o.logger))

	h := &Harness{
		store:    st,
		sessions: sessions,
		dispatcher: dispatch.New(st, authz.New(st, authz.WithLogger(o.logger)), sessions,
			dispatch.WithLogger(o.logger)),
		logger: o.logger.With(zap.String("component", "harness"), zap.String("scenario", scenario.Name)),
		conns:  make(map[string]*testutil.RecordingConn),
		seen:   make(map[string]int),
	}

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.step(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Sessions: sessions}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for i := 1; i <= scenario.Identities; i++ {
		if _, err := h.store.CreateIdentity(ctx, testutil.IdentityWrite(i)); err != nil {
			return fmt.Errorf("identity %d: %w", i, err)
		}
	}
	for i, st := range scenario.Setup {
		if st.Message != "" {
			if _, err := h.store.CreateMessage(ctx, st.Main, st.Peer, st.Message); err != nil {
				return fmt.Errorf("setup[%d]: %w", i, err)
			}
			continue
		}
		rel, err := store.ParseRelation(st.Relation)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if _, err := h.store.CreateEdge(ctx, rel, st.Main, st.Peer); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) conn(label string) *testutil.RecordingConn {
	c, ok := h.conns[label]
	if !ok {
		c = testutil.NewRecordingConn(label)
		h.conns[label] = c
	}
	return c
}

func (h *Harness) step(ctx context.Context, index int, step Step, result *Result) error {
	c := h.conn(step.Conn)

	if step.Disconnect {
		c.Close()
		h.dispatcher.Disconnect(c)
		result.record(step.Conn, DirDisconnect, "")
		return nil
	}

	frame := []byte(step.Raw)
	if step.Send != nil {
		var err error
		frame, err = json.Marshal(step.Send)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
	}
	result.record(step.Conn, DirSend, string(frame))

	if err := h.dispatcher.Handle(ctx, c, frame); err != nil {
		h.logger.Debug("reply not delivered", zap.Int("step", index), zap.Error(err))
	}

	reply := h.collect(step.Conn, result)

	want := step.Expect
	if step.ExpectError != "" {
		b, _ := json.Marshal(dispatch.Response{Error: step.ExpectError})
		want = string(b)
	}
	if want != "" && reply != want {
		result.AddError(fmt.Sprintf("steps[%d] on %s: expected reply %s, got %q", index, step.Conn, want, reply))
	}
	return nil
}

// collect records every frame delivered since the last step, connection by
// connection in label order, and returns the sender's last frame.
func (h *Harness) collect(sender string, result *Result) string {
	labels := make([]string, 0, len(h.conns))
	for label := range h.conns {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var reply string
	for _, label := range labels {
		frames := h.conns[label].Frames()
		for _, f := range frames[h.seen[label]:] {
			f = mask(f)
			result.record(label, DirRecv, f)
			if label == sender {
				reply = f
			}
		}
		h.seen[label] = len(frames)
	}
	return reply
}

func mask(frame string) string {
	return timestampField.ReplaceAllString(frame, `"$1":"TIME"`)
}
