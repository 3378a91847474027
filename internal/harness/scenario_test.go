package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
name: minimal
description: "ping only"
steps:
  - conn: a
    raw: ping
    expect: pong
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, 0, s.Identities)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "ping", s.Steps[0].Raw)
	assert.Equal(t, "pong", s.Steps[0].Expect)
}

func TestParseScenario_SendDecodesNestedPayload(t *testing.T) {
	s, err := ParseScenario(strings.NewReader(`
name: send
description: "nested payload"
steps:
  - conn: a
    send: {token: "1", command: request_friend, payload: {peer_user_id: 2}}
`))
	require.NoError(t, err)

	send := s.Steps[0].Send
	assert.Equal(t, "1", send["token"])
	payload, ok := send["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, payload["peer_user_id"])
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseScenario_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key",
			doc:  minimal + "assertion: []\n",
			want: "field assertion not found",
		},
		{
			name: "missing name",
			doc:  "description: x\nsteps: [{conn: a, raw: ping}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: x\nsteps: [{conn: a, raw: ping}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			doc:  "name: x\ndescription: y\n",
			want: "steps list is required",
		},
		{
			name: "bad policy",
			doc:  "name: x\ndescription: y\npolicy: random\nsteps: [{conn: a, raw: ping}]\n",
			want: "unknown session policy",
		},
		{
			name: "step without conn",
			doc:  "name: x\ndescription: y\nsteps: [{raw: ping}]\n",
			want: "conn is required",
		},
		{
			name: "step with two actions",
			doc:  "name: x\ndescription: y\nsteps: [{conn: a, raw: ping, disconnect: true}]\n",
			want: "exactly one of send, raw, disconnect",
		},
		{
			name: "step with no action",
			doc:  "name: x\ndescription: y\nsteps: [{conn: a}]\n",
			want: "exactly one of send, raw, disconnect",
		},
		{
			name: "both expects",
			doc:  "name: x\ndescription: y\nsteps: [{conn: a, raw: ping, expect: pong, expect_error: nope}]\n",
			want: "expect and expect_error are exclusive",
		},
		{
			name: "expect on disconnect",
			doc:  "name: x\ndescription: y\nsteps: [{conn: a, disconnect: true, expect: pong}]\n",
			want: "disconnect has no reply",
		},
		{
			name: "setup with unknown relation",
			doc:  "name: x\ndescription: y\nsetup: [{relation: enemy, main: 1, peer: 2}]\nsteps: [{conn: a, raw: ping}]\n",
			want: `unknown relation "enemy"`,
		},
		{
			name: "setup without kind",
			doc:  "name: x\ndescription: y\nsetup: [{main: 1, peer: 2}]\nsteps: [{conn: a, raw: ping}]\n",
			want: "relation or message is required",
		},
		{
			name: "setup without ids",
			doc:  "name: x\ndescription: y\nsetup: [{relation: friend}]\nsteps: [{conn: a, raw: ping}]\n",
			want: "main and peer are required",
		},
		{
			name: "unknown assertion",
			doc:  minimal + "assertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "edge assertion without ids",
			doc:  minimal + "assertions: [{type: edge_exists, relation: friend}]\n",
			want: "main and peer are required for edge_exists",
		},
		{
			name: "mailbox assertion without recipient",
			doc:  minimal + "assertions: [{type: mailbox_count, count: 1}]\n",
			want: "recipient is required",
		},
		{
			name: "session assertion without token",
			doc:  minimal + "assertions: [{type: session_live}]\n",
			want: "token is required",
		},
		{
			name: "trace assertion without text",
			doc:  minimal + "assertions: [{type: trace_contains, conn: a}]\n",
			want: "conn and contains are required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
