//go:build linux

package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// getAvailableMemoryMB returns available system memory in MB on Linux,
// read from /proc/meminfo (MemAvailable, falling back to MemFree).
func getAvailableMemoryMB() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 4096 // Default 4GB if unreadable
	}
	defer f.Close()

	var memFree int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemAvailable:":
			return kb / 1024
		case "MemFree:":
			memFree = kb / 1024
		}
	}
	if memFree > 0 {
		return memFree
	}
	return 4096
}
