package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

const testConfig = `
cacheName: pages
navigationTimeout: 500ms
navigationPreload: false
rules:
  - prefix: /assets/
    override: max-age=600
  - path: /
    default: max-age=10
    headers:
      X-Rule: root
`

func writeConfig(t *testing.T) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "swcache.yml")
	require.NoError(t, os.WriteFile(filename, []byte(testConfig), 0644))
	return filename
}

func TestGetConfig(t *testing.T) {
	config, err := getConfig(writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "pages", config.CacheName)
	assert.Equal(t, 500*time.Millisecond, config.NavigationTimeout)
	assert.False(t, config.preloadEnabled())
	require.Len(t, config.Rules, 2)
	assert.Equal(t, "/assets/", config.Rules[0].Prefix)
	assert.Equal(t, "max-age=600", config.Rules[0].Override)
	assert.Equal(t, "root", config.Rules[1].Headers["X-Rule"])
}

func runLoadConfig(t *testing.T, args ...string) Config {
	t.Helper()
	var config Config
	cmd := newCommand()
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		var err error
		config, err = loadConfig(c)
		return err
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"swcache"}, args...)))
	return config
}

func TestLoadConfigDefaults(t *testing.T) {
	config := runLoadConfig(t)

	assert.Equal(t, "static", config.CacheName)
	assert.Equal(t, 2*time.Second, config.NavigationTimeout)
	assert.True(t, config.preloadEnabled())
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	filename := writeConfig(t)

	config := runLoadConfig(t, "--config", filename)
	assert.Equal(t, "pages", config.CacheName)
	assert.Equal(t, 500*time.Millisecond, config.NavigationTimeout)

	config = runLoadConfig(t, "--config", filename, "--cache-name", "other", "--navigation-timeout", "1s")
	assert.Equal(t, "other", config.CacheName)
	assert.Equal(t, time.Second, config.NavigationTimeout)
}

func TestGetOrigin(t *testing.T) {
	originURL, host, err := getOrigin("http://localhost:3000", "10.0.0.1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", originURL.String())
	assert.Empty(t, host)

	originURL, host, err = getOrigin("", "10.0.0.1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1", originURL.String())
	assert.Equal(t, "example.com", host)

	_, _, err = getOrigin("", "", "")
	assert.Error(t, err)
}
