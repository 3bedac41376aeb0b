package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// The default configuration uses the in-memory store with database and
// pubsub disabled, so commands run end to end without external services.

func TestReportCommandWithEmptyLedger(t *testing.T) {
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"report", "2026-09-01"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), `"ledger_found": false`)
	require.Contains(t, buf.String(), `"date": "2026-09-01"`)
}

func TestLoadCommandRejectsBadDate(t *testing.T) {
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"load", "not-a-date"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid date")
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"load", "refresh", "report", "serve", "prune"} {
		require.True(t, names[want], "missing subcommand %s", want)
	}
}
