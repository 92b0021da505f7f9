//go:build unix

package config

import (
	"fmt"
	"os"
)

// permissionWarning flags an environment file that group or others can read.
func permissionWarning(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Sprintf("WARNING: the environment file %s is readable by other users (%04o)\n"+
			"         It may hold connection credentials. Run: chmod 600 %s\n\n", path, perm, path)
	}
	return ""
}
