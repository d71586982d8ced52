// Copyright 2026 Blink Labs Software
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

package miner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning indicates another process holds the instance lock.
// Two instances mining the same account would double-send heartbeats and
// fight over the watch target.
var ErrAlreadyRunning = errors.New("another instance is already running")

const lockFileName = "dropmine.lock"

// acquireLock takes an exclusive advisory lock on a file in the data
// directory and writes our pid into it. The returned release function
// unlocks and closes the file; the lock is also released by the kernel if
// the process dies.
func acquireLock(dataDir string) (func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	lockPath := filepath.Join(dataDir, lockFileName)
	f, err := os.OpenFile(
		lockPath,
		os.O_CREATE|os.O_RDWR,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, lockPath)
		}
		return nil, fmt.Errorf("locking %s: %w", lockPath, err)
	}
	// Best effort pid breadcrumb for operators; the flock is the lock
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	release := func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}
	return release, nil
}
