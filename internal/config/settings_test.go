package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, opt := range DefaultSchema().options {
		if opt.EnvVar != "" {
			// Setenv restores the original value after the test.
			t.Setenv(opt.EnvVar, "")
			require.NoError(t, os.Unsetenv(opt.EnvVar))
		}
	}
}

func TestResolve_Defaults(t *testing.T) {
	clearEnv(t)
	st, err := Resolve(NewConfig())
	require.NoError(t, err)
	assert.Equal(t, Settings{
		Listen:       "127.0.0.1:8910",
		Mode:         "loop",
		LogLevel:     "info",
		LogFormat:    "text",
		Transport:    "grpc",
		HTTPTimeout:  30 * time.Second,
		Health:       true,
		MaxMessageMB: 16,
		BaseURL:      "https://realm.mongodb.com",
	}, st)
}

func TestResolve_FileThenEnv(t *testing.T) {
	clearEnv(t)
	c, err := LoadFromReader(strings.NewReader(`listen :7000
mode poll
http-timeout 5s
health off
mode-typo x

otel-endpoint http://collector:4318

[app]
base-url http://file`))
	require.NoError(t, err)

	st, err := Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, ":7000", st.Listen)
	assert.Equal(t, "poll", st.Mode)
	assert.Equal(t, 5*time.Second, st.HTTPTimeout)
	assert.False(t, st.Health)
	assert.Equal(t, "http://file", st.BaseURL)
	assert.Equal(t, "http://collector:4318", st.OTelEndpoint)

	t.Setenv("REALM_RPC_LISTEN", ":7001")
	t.Setenv("REALM_RPC_BASE_URL", "http://env")
	t.Setenv("REALM_RPC_HTTP_TIMEOUT", "1m")
	st, err = Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, ":7001", st.Listen)
	assert.Equal(t, "http://env", st.BaseURL)
	assert.Equal(t, time.Minute, st.HTTPTimeout)
	assert.Equal(t, "poll", st.Mode)
}

func TestResolve_InvalidFileValueFallsBack(t *testing.T) {
	clearEnv(t)
	c, err := LoadFromReader(strings.NewReader("mode sideways\nmax-message-mb lots\n"))
	require.NoError(t, err)
	require.Len(t, c.Warnings, 2)

	st, err := Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, "loop", st.Mode)
	assert.Equal(t, 16, st.MaxMessageMB)
}

func TestResolve_InvalidEnv(t *testing.T) {
	for name, tc := range map[string]struct {
		key, value, msg string
	}{
		"choice":   {"REALM_RPC_MODE", "sideways", "mode: expected one of loop, poll"},
		"duration": {"REALM_RPC_HTTP_TIMEOUT", "soon", "parse env"},
		"size":     {"REALM_RPC_MAX_MESSAGE_MB", "0", "max-message-mb must be positive"},
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Resolve(NewConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}
