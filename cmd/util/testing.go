package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// PrepareTempConfigDir resets viper, points HOME at a temporary directory
// and returns its empty config directory.
func PrepareTempConfigDir(t *testing.T) string {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := os.Stat("/etc/docmediator/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/docmediator/config.yaml would disturb test result.")

	homedir := t.TempDir()
	t.Setenv("HOME", homedir)

	confdir := filepath.Join(homedir, ".docmediator")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

// PrepareTempConfigFile writes config as the config.yaml of a temporary
// config directory.
func PrepareTempConfigFile(t *testing.T, config string) {
	confdir := PrepareTempConfigDir(t)
	confFile, err := os.Create(filepath.Join(confdir, "config.yaml"))
	require.NoError(t, err)
	_, err = confFile.WriteString(config)
	require.NoError(t, err)
	require.NoError(t, confFile.Close())
}
