//go:build integration
// +build integration

package scripts

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptsIntegration(t *testing.T) {
	if os.Getenv("RUN_SCRIPTS_TESTS") == "" {
		t.Skip("skipping integration test; set RUN_SCRIPTS_TESTS=1 to run")
	}

	t.Run("SmokeLedger", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, RunSmokeLedger(context.Background(), t.TempDir(), &out), out.String())
		assert.Contains(t, out.String(), "OK: JSON1")
		assert.Contains(t, out.String(), "Smoke checks completed")
	})
}
