package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "sweep"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.RunE, name)
	}
}

func TestSweepRunsAgainstFreshDatabase(t *testing.T) {
	t.Setenv("DB_PATH", t.TempDir()+"/goally.db")
	t.Setenv("LLM_GRPC_ADDR", "")
	t.Setenv("LLM_PRIMARY_MODEL", "test-model")
	t.Setenv("NATS_URL", "")
	t.Setenv("ANCHORS_FILE", "")

	root := newRootCmd()
	root.SetArgs([]string{"sweep"})
	require.NoError(t, root.Execute())
}
