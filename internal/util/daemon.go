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

package util

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DaemonStartConfig configures daemon start behavior.
type DaemonStartConfig struct {
	Notify     io.Writer  // Progress messages go here; nil is silent
	PollConfig PollConfig // How long to wait for the daemon to answer
	Env        []string   // Environment for the daemon; nil inherits ours
}

// StartDaemonIfNeeded starts this executable with args in the background
// unless isRunning already reports true, then waits for isRunning.
func StartDaemonIfNeeded(ctx context.Context, cfg DaemonStartConfig, isRunning func() bool, args []string) error {
	if isRunning() {
		return nil
	}
	notify := func(format string, a ...interface{}) {
		if cfg.Notify != nil {
			fmt.Fprintf(cfg.Notify, format, a...)
		}
	}

	notify("Starting daemon...")
	exe, err := os.Executable()
	if err != nil {
		notify(" failed\n")
		return err
	}
	proc, err := StartBackgroundProcess(exe, args, cfg.Env)
	if err != nil {
		notify(" failed\n")
		return err
	}

	// Give up early if the child exits, e.g. because another daemon holds
	// the lock or settings are invalid.
	err = PollUntil(ctx, cfg.PollConfig, func() bool {
		return isRunning() || !IsProcessRunning(proc.Pid)
	})
	if err != nil || !isRunning() {
		notify(" failed\n")
		return fmt.Errorf("daemon did not start (PID %d); see the daemon log", proc.Pid)
	}
	notify(" done\n")
	return nil
}
