//go:build linux

package config

import (
	"os"
	"strconv"
	"strings"
)

// totalMemoryMB reads MemTotal from /proc/meminfo.
func totalMemoryMB() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return defaultMemoryMB
	}
	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, "MemTotal:")
		if !ok {
			continue
		}
		kb, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(rest), " kB"), 10, 64)
		if err != nil {
			break
		}
		return kb / 1024
	}
	return defaultMemoryMB
}
