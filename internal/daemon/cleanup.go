package daemon

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"spockfs/internal/util"
)

// CleanupResult contains the result of a cleanup operation
type CleanupResult struct {
	StaleMounts    []string // Mount points that were unmounted
	CleanedPidFile bool     // Whether PID file was cleaned
	CleanedSocket  bool     // Whether socket file was cleaned
	Errors         []error  // Any errors encountered
}

// Any reports whether anything was cleaned or failed
func (r *CleanupResult) Any() bool {
	return len(r.StaleMounts) > 0 || r.CleanedPidFile || r.CleanedSocket || len(r.Errors) > 0
}

// CleanupStale removes what a crashed daemon left behind: mounts at the
// given mount points, the PID file and the IPC socket. Nothing is touched
// while a daemon answers on the socket.
func CleanupStale(mountPoints ...string) *CleanupResult {
	result := &CleanupResult{}
	if IsDaemonRunning() {
		return result
	}

	for _, mountPoint := range mountPoints {
		if mountPoint == "" || !IsMounted(mountPoint) {
			continue
		}
		if err := Unmount(mountPoint); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to unmount %s: %w", mountPoint, err))
		} else {
			result.StaleMounts = append(result.StaleMounts, mountPoint)
		}
	}

	result.CleanedPidFile = cleanupStalePidFile()
	result.CleanedSocket = cleanupStaleSocket()
	return result
}

// cleanupStalePidFile removes the PID file if its process is gone
func cleanupStalePidFile() bool {
	pid, err := GetPID()
	if err != nil {
		return false
	}
	if util.IsProcessRunning(pid) && pid != os.Getpid() {
		return false
	}
	if err := os.Remove(PidPath()); err != nil {
		log.Debugf("cleanup: remove %s: %v", PidPath(), err)
		return false
	}
	return true
}

// cleanupStaleSocket removes the socket file if no daemon answers on it
func cleanupStaleSocket() bool {
	socketPath := SocketPath()
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return false
	}
	if IsDaemonRunning() {
		return false
	}
	return os.Remove(socketPath) == nil
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if len(result.StaleMounts) > 0 {
		parts = append(parts, fmt.Sprintf("Unmounted %d stale mount(s):", len(result.StaleMounts)))
		for _, m := range result.StaleMounts {
			parts = append(parts, fmt.Sprintf("  - %s", m))
		}
	}

	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}

	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}
