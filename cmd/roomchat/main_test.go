package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootFlagsDefaultFromEnv(t *testing.T) {
	t.Setenv("ROOMCHAT_TRANSPORT", "nats")
	t.Setenv("ROOMCHAT_PROFILE", "work")

	cmd := newRootCmd()
	transport, err := cmd.Flags().GetString("transport")
	require.NoError(t, err)
	assert.Equal(t, "nats", transport)

	require.NoError(t, cmd.Flags().Parse([]string{"--profile", "home"}))
	profile, err := cmd.Flags().GetString("profile")
	require.NoError(t, err)
	assert.Equal(t, "home", profile)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--transport", "smoke-signals"})
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRelayCommandRegistered(t *testing.T) {
	cmd := newRootCmd()
	relayCmd, _, err := cmd.Find([]string{"relay"})
	require.NoError(t, err)
	assert.Equal(t, "relay", relayCmd.Name())
	assert.NotNil(t, relayCmd.Flags().Lookup("listen"))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
