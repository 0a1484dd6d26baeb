// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySettings_Precedence(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
max-concurrent: 9
max-retries: 2
timeout: 45
ext: [go, md]
output: ./from-file
unknown-key: ignored
`), 0o600))
	t.Setenv("GH_FOLDER_DOWNLOAD_MAX_CONCURRENT", "11")

	root, ro := newRootCmd(context.Background(), "test")
	require.NoError(t, root.ParseFlags([]string{"--config", cfgPath, "--max-retries", "7"}))
	require.NoError(t, applySettings(root, ro))

	f := root.Flags()
	conc, _ := f.GetInt("max-concurrent")
	retries, _ := f.GetInt("max-retries")
	timeout, _ := f.GetDuration("timeout")
	exts, _ := f.GetStringSlice("ext")
	output, _ := f.GetString("output")

	assert.Equal(t, 11, conc, "environment beats file")
	assert.Equal(t, 7, retries, "flag beats file")
	assert.Equal(t, 45*time.Second, timeout, "bare numbers are seconds")
	assert.Equal(t, []string{"go", "md"}, exts)
	assert.Equal(t, "./from-file", output)
	assert.Equal(t, cfgPath, ro.configUsed)
}

func TestApplySettings_DiscoversXDGConfig(t *testing.T) {
	isolate(t)
	path := DefaultConfigPath(false)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"verify": "size", "rate-limit-buffer": 250}`), 0o600))

	root, ro := newRootCmd(context.Background(), "test")
	require.NoError(t, root.ParseFlags(nil))
	require.NoError(t, applySettings(root, ro))

	verify, _ := root.Flags().GetString("verify")
	buf, _ := root.Flags().GetInt("rate-limit-buffer")
	assert.Equal(t, "size", verify)
	assert.Equal(t, 250, buf)
	assert.Equal(t, path, ro.configUsed)
}

func TestApplySettings_Errors(t *testing.T) {
	dir := isolate(t)

	root, ro := newRootCmd(context.Background(), "test")
	require.NoError(t, root.ParseFlags([]string{"--config", filepath.Join(dir, "missing.yaml")}))
	assert.Error(t, applySettings(root, ro))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max-retries: lots\n"), 0o600))
	root, ro = newRootCmd(context.Background(), "test")
	require.NoError(t, root.ParseFlags([]string{"--config", bad}))
	err := applySettings(root, ro)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max-retries")
}

func TestLoadEnv(t *testing.T) {
	isolate(t)
	t.Setenv("GITHUB_TOKEN", "plain-token")
	t.Setenv("GH_FOLDER_DOWNLOAD_CACHE_ENABLED", "false")
	t.Setenv("GH_FOLDER_DOWNLOAD_CACHE_SIZE_GB", "0.5")
	t.Setenv("GH_FOLDER_DOWNLOAD_RATE_LIMIT_BUFFER", "300")
	t.Setenv("GH_FOLDER_DOWNLOAD_DEFAULT_OUTPUT", "/srv/out")

	values, err := loadEnv()
	require.NoError(t, err)
	assert.Equal(t, "plain-token", values["token"])
	assert.Equal(t, "true", values["no-cache"])
	assert.Equal(t, "536870912", values["cache-max-size"])
	assert.Equal(t, "300", values["rate-limit-buffer"])
	assert.Equal(t, "/srv/out", values["output"])
	assert.NotContains(t, values, "max-retries")

	t.Setenv("GH_FOLDER_DOWNLOAD_GITHUB_TOKEN", "prefixed-token")
	values, err = loadEnv()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-token", values["token"])

	t.Setenv("GH_FOLDER_DOWNLOAD_MAX_RETRIES", "many")
	_, err = loadEnv()
	assert.Error(t, err)
}

func TestConfigInit_RoundTrip(t *testing.T) {
	for _, useYAML := range []bool{false, true} {
		isolate(t)
		path := DefaultConfigPath(useYAML)
		require.NoError(t, writeDefaultConfig(path, useYAML, false))
		assert.Error(t, writeDefaultConfig(path, useYAML, false), "exists without --force")
		require.NoError(t, writeDefaultConfig(path, useYAML, true))

		values, err := loadConfigFile(path)
		require.NoError(t, err)

		root, _ := newRootCmd(context.Background(), "test")
		require.NoError(t, root.ParseFlags(nil))
		require.NoError(t, setFlags(root.Flags(), nil, values), "yaml=%v", useYAML)

		conc, _ := root.Flags().GetInt("max-concurrent")
		assert.Equal(t, 5, conc)
	}
}

func TestSplitComma(t *testing.T) {
	assert.Nil(t, splitComma(""))
	assert.Equal(t, []string{"a", "b"}, splitComma(" a, ,b "))
}
