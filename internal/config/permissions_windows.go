//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// permissionWarning flags an environment file whose ACL grants access to a
// broad group.
func permissionWarning(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(out))
	for _, group := range []string{"everyone", "authenticated users", "builtin\\users"} {
		if strings.Contains(acl, group) {
			return fmt.Sprintf("WARNING: the environment file %s may be readable by other users (%s)\n"+
				"         It may hold connection credentials. Secure it with:\n"+
				"         icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n", path, group, path)
		}
	}
	return ""
}
