package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configPath = ""
		initForce = false
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestHashToken(t *testing.T) {
	out, err := execute(t, "", "hash-token", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, authz.HashToken("s3cret")+"\n", out)

	out, err = execute(t, "s3cret\n", "hash-token")
	require.NoError(t, err)
	assert.Equal(t, authz.HashToken("s3cret")+"\n", out)

	_, err = execute(t, "\n", "hash-token")
	assert.Error(t, err)
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, err := execute(t, "", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = execute(t, "", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "", "init", "--config", path, "--force")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Control.Port)
}

func TestSweepAndAuditOffline(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  output: stderr
server:
  data_dir: "`+dataDir+`"
metadata:
  type: sqlite
`), 0o600))

	out, err := execute(t, "", "sweep", "--config", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "repaired:            0")

	out, err = execute(t, "", "audit", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OPERATION")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "dittostore dev"), out)
}
