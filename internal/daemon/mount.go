// Copyright 2024 SpockFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// unmountTimeout is the maximum time to wait for each unmount attempt.
// After the NFS server is shut down, the kernel NFS client may block unmount
// commands while it waits for the server to respond (up to soft timeout).
const unmountTimeout = 3 * time.Second

// unmountCommands lists the commands tried in order, gentlest first
func unmountCommands(mountPoint string) [][]string {
	if runtime.GOOS == "darwin" {
		return [][]string{
			{"diskutil", "unmount", mountPoint},
			{"umount", mountPoint},
			{"umount", "-f", mountPoint},
		}
	}
	return [][]string{
		{"fusermount3", "-u", mountPoint},
		{"fusermount", "-u", mountPoint},
		{"umount", mountPoint},
		{"umount", "-l", mountPoint},
	}
}

// Unmount unmounts a filesystem. Paths that are not mounted are left alone.
func Unmount(mountPoint string) error {
	if !IsMounted(mountPoint) {
		log.Debugf("Unmount: %s is not mounted, nothing to do", mountPoint)
		return nil
	}

	var lastErr error
	for _, args := range unmountCommands(mountPoint) {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			log.Infof("Unmount: %s succeeded for %s", args[0], mountPoint)
			return nil
		}
		log.Debugf("Unmount: %s failed: %v, output: %s", strings.Join(args, " "), err, string(output))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, lastErr)
}

// IsMounted checks if a path is a mount point by checking the mount table
func IsMounted(mountPoint string) bool {
	// On macOS /tmp is /private/tmp in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	realPath = filepath.Clean(realPath)

	if data, err := os.ReadFile("/proc/self/mounts"); err == nil {
		return procMountsContain(data, realPath)
	}

	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	return containsMount(string(output), realPath)
}

// procMountsContain reports whether a /proc/mounts table lists mountPoint.
// Spaces in paths are octal escaped there.
func procMountsContain(table []byte, mountPoint string) bool {
	escaped := strings.ReplaceAll(mountPoint, " ", `\040`)
	scanner := bufio.NewScanner(bytes.NewReader(table))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == escaped {
			return true
		}
	}
	return false
}

// containsMount checks if a mount point is in `mount` output, whose lines
// read "something on /mount/point (type options)"
func containsMount(mountOutput, mountPoint string) bool {
	for _, line := range strings.Split(mountOutput, "\n") {
		if strings.Contains(line, " on "+mountPoint+" ") || strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}
