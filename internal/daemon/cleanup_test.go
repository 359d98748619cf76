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
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCleanupResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   *CleanupResult
		contains []string
	}{
		{"empty", &CleanupResult{}, []string{"No cleanup needed"}},
		{"stale mounts", &CleanupResult{StaleMounts: []string{"/mnt/a", "/mnt/b"}}, []string{"Unmounted 2 stale mount(s)", "/mnt/a", "/mnt/b"}},
		{"pid file", &CleanupResult{CleanedPidFile: true}, []string{"stale PID file"}},
		{"socket", &CleanupResult{CleanedSocket: true}, []string{"stale socket file"}},
		{"errors", &CleanupResult{Errors: []error{errors.New("error 1"), errors.New("error 2")}}, []string{"2 error(s)", "error 1", "error 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatted := FormatCleanupResult(tt.result)
			for _, want := range tt.contains {
				assert.Contains(t, formatted, want)
			}
		})
	}
}

func TestCleanupStale(t *testing.T) {
	shortConfigDir(t)

	// a PID that cannot belong to a live process
	require.NoError(t, os.WriteFile(PidPath(), []byte(strconv.Itoa(1<<22+12345)), 0600))
	require.NoError(t, os.WriteFile(SocketPath(), nil, 0600))

	result := CleanupStale(t.TempDir())
	assert.True(t, result.CleanedPidFile)
	assert.True(t, result.CleanedSocket)
	assert.Empty(t, result.StaleMounts, "an unmounted directory is not stale")
	assert.Empty(t, result.Errors)

	_, err := os.Stat(PidPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(SocketPath())
	assert.True(t, os.IsNotExist(err))

	result = CleanupStale()
	assert.Equal(t, "No cleanup needed", FormatCleanupResult(result))
}

func TestContainsMount(t *testing.T) {
	t.Parallel()

	output := "127.0.0.1:/ on /Users/me/spock (nfs, nodev, nosuid)\n/dev/disk1 on / (apfs, local)\n"
	assert.True(t, containsMount(output, "/Users/me/spock"))
	assert.True(t, containsMount(output, "/"))
	assert.False(t, containsMount(output, "/Users/me"))

	table := []byte("spockfs /mnt/spock fuse.spockfs rw 0 0\nspockfs /mnt/with\\040space fuse rw 0 0\n")
	assert.True(t, procMountsContain(table, "/mnt/spock"))
	assert.True(t, procMountsContain(table, "/mnt/with space"))
	assert.False(t, procMountsContain(table, "/mnt"))
}
