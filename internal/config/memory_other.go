//go:build !linux

package config

func totalMemoryMB() int64 {
	return defaultMemoryMB
}
