package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/metricbench/internal/config"
)

func TestConfigPathCmd_PrintsUserConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	var out bytes.Buffer
	c := newConfigPathCmd()
	c.SetOut(&out)
	require.NoError(t, c.RunE(c, nil))

	assert.Equal(t, config.GetUserConfigPath()+"\n", out.String())
}

func TestConfigBackupAndRestoreCmd_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0o644))

	var backupOut bytes.Buffer
	backupCmd := newConfigBackupCmd()
	backupCmd.SetOut(&backupOut)
	require.NoError(t, backupCmd.RunE(backupCmd, nil))
	backupPath := bytes.TrimSpace(backupOut.Bytes())
	require.NotEmpty(t, backupPath)
	assert.FileExists(t, string(backupPath))

	var listOut bytes.Buffer
	listCmd := newConfigListBackupsCmd()
	listCmd.SetOut(&listOut)
	require.NoError(t, listCmd.RunE(listCmd, nil))
	assert.Contains(t, listOut.String(), string(backupPath))

	require.NoError(t, os.WriteFile(configPath, []byte("version: 2\n"), 0o644))

	restoreCmd := newConfigRestoreCmd()
	restoreCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, restoreCmd.RunE(restoreCmd, []string{string(backupPath)}))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestConfigBackupCmd_NoUserConfig_PrintsMessageNotError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	var out bytes.Buffer
	c := newConfigBackupCmd()
	c.SetOut(&out)
	require.NoError(t, c.RunE(c, nil))
	assert.Contains(t, out.String(), "no user configuration")
}
