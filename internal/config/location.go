package config

import (
	"os"
	"path/filepath"
)

// PathEnvVar names the environment variable that overrides the config path.
const PathEnvVar = "REALM_RPC_CONFIG"

// GetConfigPath returns $REALM_RPC_CONFIG when set, otherwise the default
// path under the home directory.
func GetConfigPath() (string, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return DefaultPath(home), nil
}

// DefaultPath is the config file location for a home directory.
func DefaultPath(home string) string {
	return filepath.Join(home, ".realm-rpc", "config")
}
