// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package space

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
space:
  id: demo
  name: Demo Space
participants:
  human:
    type: human
    tokens: [human-token]
    capabilities:
      - kind: "*"
  agent:
    type: agent
    routing: directed
    tokens: [agent-token, agent-token-backup]
    capabilities:
      - kind: mcp/proposal
      - kind: chat
      - id: read-tools
        kind: mcp/request
        payload:
          method: tools/call
          params:
            name: "read_*"
  calculator:
    type: bridge
    auto_start: true
    tokens: [calc-token]
    capabilities:
      - kind: mcp/response
`

func TestParseValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Space.ID)
	assert.Equal(t, "Demo Space", cfg.Space.Name)
	require.Len(t, cfg.Participants, 3)

	agent := cfg.Participants["agent"]
	assert.Equal(t, TypeAgent, agent.Type)
	require.Len(t, agent.Capabilities, 3)
	assert.Equal(t, "read-tools", agent.Capabilities[2].ID)
	assert.Equal(t, "mcp/request", agent.Capabilities[2].Kind)

	calc := cfg.Participants["calculator"]
	assert.True(t, calc.AutoStart)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Space.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing space id",
			yaml:    "space: {name: x}\nparticipants:\n  a:\n    tokens: [t]\n",
			wantErr: "space.id",
		},
		{
			name:    "no participants",
			yaml:    "space: {id: demo}\n",
			wantErr: "at least one participant",
		},
		{
			name:    "participant without tokens",
			yaml:    "space: {id: demo}\nparticipants:\n  a: {capabilities: [{kind: chat}]}\n",
			wantErr: "at least one token",
		},
		{
			name:    "duplicate token",
			yaml:    "space: {id: demo}\nparticipants:\n  a:\n    tokens: [t]\n  b:\n    tokens: [t]\n",
			wantErr: "already assigned",
		},
		{
			name:    "unknown type",
			yaml:    "space: {id: demo}\nparticipants:\n  a:\n    tokens: [t]\n    type: robot\n",
			wantErr: "unknown type",
		},
		{
			name:    "unknown routing",
			yaml:    "space: {id: demo}\nparticipants:\n  a:\n    tokens: [t]\n    routing: sometimes\n",
			wantErr: "unknown routing",
		},
		{
			name:    "malformed capability regex",
			yaml:    "space: {id: demo}\nparticipants:\n  a:\n    tokens: [t]\n    capabilities: [{kind: '/([bad/'}]\n",
			wantErr: "invalid regex",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	id, ok := cfg.Authenticate("agent-token")
	require.True(t, ok)
	assert.Equal(t, "agent", id)

	id, ok = cfg.Authenticate("agent-token-backup")
	require.True(t, ok)
	assert.Equal(t, "agent", id)

	_, ok = cfg.Authenticate("wrong-token")
	assert.False(t, ok)
	_, ok = cfg.Authenticate("")
	assert.False(t, ok)
}

func TestRoutingFor(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, RoutingAll, cfg.RoutingFor("human"))
	assert.Equal(t, RoutingDirected, cfg.RoutingFor("agent"))
	assert.Equal(t, RoutingAll, cfg.RoutingFor("stranger"))
}
