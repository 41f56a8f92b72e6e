package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvConfigDir = "RESTBRO_CONFIG_DIR"
	appDirName   = "restbro"
)

// Dir returns $RESTBRO_CONFIG_DIR when set, else restbro under the user
// config directory. It falls back to ./.restbro when neither is available.
func Dir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return filepath.Clean(dir)
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, appDirName)
	}
	return filepath.Join(".", "."+appDirName)
}
