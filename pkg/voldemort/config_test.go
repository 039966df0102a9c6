package voldemort

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	o, err := ClusterOptions{Host: "localhost", Port: 6666}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, defaultProtocolTag, o.ProtocolTag)
	assert.Equal(t, defaultHealthTick, o.HealthTick)
	assert.Equal(t, defaultRequestTimeout, o.RequestTimeout)
	assert.Equal(t, defaultBootstrapRetryInterval, o.BootstrapRetryInterval)
	assert.NotNil(t, o.Logger)
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	o, err := ClusterOptions{
		Host:           "localhost",
		Port:           6666,
		ProtocolTag:    "xyz",
		HealthTick:     time.Minute,
		RequestTimeout: 2 * time.Minute,
	}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, "xyz", o.ProtocolTag)
	assert.Equal(t, time.Minute, o.HealthTick)
	assert.Equal(t, 2*time.Minute, o.RequestTimeout)
}

func TestWithDefaultsRejectsBadProtocolTagLength(t *testing.T) {
	_, err := ClusterOptions{Host: "h", Port: 1, ProtocolTag: "toolong"}.withDefaults()
	require.Error(t, err)
}

func TestLoadOptionsOverridesTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.toml")
	contents := `
protocol_tag = "pb1"
health_tick_seconds = 15
request_timeout_seconds = 20
bootstrap_retry_seconds = 30
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	base := ClusterOptions{Host: "localhost", Port: 6666}
	merged, err := LoadOptions(path, base)
	require.NoError(t, err)

	assert.Equal(t, "pb1", merged.ProtocolTag)
	assert.Equal(t, 15*time.Second, merged.HealthTick)
	assert.Equal(t, 20*time.Second, merged.RequestTimeout)
	assert.Equal(t, 30*time.Second, merged.BootstrapRetryInterval)
	assert.Equal(t, "localhost", merged.Host, "Host is never touched by the TOML overlay")
}

func TestLoadOptionsLeavesMissingKeysAtBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte(`health_tick_seconds = 9`), 0o600))

	base := ClusterOptions{Host: "h", Port: 1, ProtocolTag: "pb0", RequestTimeout: time.Second}
	merged, err := LoadOptions(path, base)
	require.NoError(t, err)
	assert.Equal(t, "pb0", merged.ProtocolTag)
	assert.Equal(t, time.Second, merged.RequestTimeout)
	assert.Equal(t, 9*time.Second, merged.HealthTick)
}

func TestLoadOptionsPropagatesDecodeError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := LoadOptions(path, ClusterOptions{})
	require.Error(t, err)
}
