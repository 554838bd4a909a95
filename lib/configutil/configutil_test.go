package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl  string `json:"base_url"`
	Cooldown int    `json:"cooldown_seconds"`
}

func TestReadConfigWithLocalOverride(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(
		filepath.Join(dir, "portal.json5"),
		[]byte(`{base_url: "https://portal.example.com", cooldown_seconds: 5}`),
		0600,
	)
	require.NoError(t, err)
	err = os.WriteFile(
		filepath.Join(dir, "portal.local.json5"),
		[]byte(`{cooldown_seconds: 1}`),
		0600,
	)
	require.NoError(t, err)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "portal.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://portal.example.com", config.BaseUrl)
	require.Equal(t, 1, config.Cooldown)
}

func TestReadConfigMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadConfig[testConfig](filepath.Join(dir, "nope.json5"))
	require.True(t, os.IsNotExist(err))
}
