package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefreshTestModeRereadsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	require.False(t, InTestMode(), "cached until refreshed")
	RefreshTestMode()
	require.True(t, InTestMode())
}
