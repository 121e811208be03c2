package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultLogSubdir = "logs"

// LogDir returns the absolute log directory. Relative paths are taken from
// the directory of the running binary so a service unit's working directory
// does not matter.
func (c *AppConfig) LogDir() string {
	dir := defaultLogSubdir
	if c != nil && strings.TrimSpace(c.Log.Dir) != "" {
		dir = strings.TrimSpace(c.Log.Dir)
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(binaryDir(), dir)
}

func binaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		if wd, wdErr := os.Getwd(); wdErr == nil {
			return wd
		}
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
