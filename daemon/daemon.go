// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon runs the server in the background and keeps track of it
// through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRunning    = errors.New("Server is already running")
	ErrNotRunning = errors.New("Server is not running")
	ErrNoPidFile  = errors.New("No PID file")
)

// EnvChild is set in the environment of a forked server.
const EnvChild = "SWALLOW_DAEMON"

// DefaultPidFile returns the PID file used with a log file: pywps.pid in
// the same directory.
func DefaultPidFile(logFile string) string {
	dir := "."
	if logFile != "" && logFile != "stdout" {
		dir = filepath.Dir(logFile)
	}
	return filepath.Join(dir, "pywps.pid")
}

// DefaultOutput returns the file receiving the standard output and error
// of a forked server: the log file with the extension .out.  It is never
// the log file itself, which the logger rotates.
func DefaultOutput(logFile string) string {
	if logFile == "" || logFile == "stdout" {
		return "pywps.out"
	}
	out := strings.TrimSuffix(logFile, filepath.Ext(logFile)) + ".out"
	if out == logFile {
		out += ".out"
	}
	return out
}

// PidFile is the path of a file holding the process id of the server.
type PidFile string

// Read returns the recorded process id.
func (p PidFile) Read() (int, error) {
	b, e := os.ReadFile(string(p))
	if e != nil {
		if os.IsNotExist(e) {
			return 0, ErrNoPidFile
		}
		return 0, e
	}
	pid, e := strconv.Atoi(strings.TrimSpace(string(b)))
	if e != nil || pid <= 0 {
		return 0, fmt.Errorf("bad PID file %s", string(p))
	}
	return pid, nil
}

// Write records pid, replacing whatever was there.
func (p PidFile) Write(pid int) error {
	if dir := filepath.Dir(string(p)); dir != "" {
		if e := os.MkdirAll(dir, 0o755); e != nil {
			return e
		}
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Remove deletes the file.  A missing file is not an error.
func (p PidFile) Remove() error {
	if e := os.Remove(string(p)); e != nil && !os.IsNotExist(e) {
		return e
	}
	return nil
}

// Claim records pid unless another live process is recorded.  A stale
// file left by a crashed server is replaced.
func (p PidFile) Claim(pid int) error {
	if old, e := p.Read(); e == nil && old != pid && alive(old) {
		return fmt.Errorf("%w (pid %d)", ErrRunning, old)
	}
	return p.Write(pid)
}

// Release removes the file if it still records pid.
func (p PidFile) Release(pid int) error {
	if old, e := p.Read(); e == nil && old != pid {
		return nil
	}
	return p.Remove()
}

// Status returns the process id of the running server.
func Status(p PidFile) (int, error) {
	pid, e := p.Read()
	if e != nil {
		if errors.Is(e, ErrNoPidFile) {
			return 0, ErrNotRunning
		}
		return 0, e
	}
	if !alive(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// StatusText is the one line summary printed by "swallow status".
func StatusText(p PidFile) string {
	pid, e := Status(p)
	if e != nil {
		return "not running"
	}
	return fmt.Sprintf("running (pid %d)", pid)
}

// Stop terminates the running server and waits up to timeout for it to
// exit.  A stale PID file is removed.
func Stop(p PidFile, timeout time.Duration) (int, error) {
	pid, e := p.Read()
	if e != nil {
		if errors.Is(e, ErrNoPidFile) {
			return 0, ErrNotRunning
		}
		return 0, e
	}
	if !alive(pid) {
		p.Remove()
		return pid, ErrNotRunning
	}
	if e := terminate(pid); e != nil {
		return pid, fmt.Errorf("signal %d: %w", pid, e)
	}
	deadline := time.Now().Add(timeout)
	for alive(pid) {
		if time.Now().After(deadline) {
			return pid, fmt.Errorf("server %d did not stop within %v",
				pid, timeout)
		}
		time.Sleep(time.Millisecond * 50)
	}
	return pid, p.Release(pid)
}

// Options control Fork.
type Options struct {
	// Executable defaults to the running binary.
	Executable string
	Args       []string
	Env        []string

	// Output receives the standard output and error of the child.  It
	// is appended to.  Empty discards them.
	Output string

	PidFile PidFile

	// Stdout is where the forked process id is reported.
	Stdout io.Writer
}

// Fork starts the server again in its own session, records its PID and
// reports it.  The caller should release the returned process and exit.
func Fork(o Options) (*os.Process, error) {
	if pid, e := Status(o.PidFile); e == nil {
		return nil, fmt.Errorf("%w (pid %d)", ErrRunning, pid)
	}
	exe := o.Executable
	if exe == "" {
		var e error
		if exe, e = os.Executable(); e != nil {
			return nil, e
		}
	}
	null, e := os.Open(os.DevNull)
	if e != nil {
		return nil, e
	}
	defer null.Close()

	cmd := exec.Command(exe, o.Args...)
	cmd.Stdin = null
	if o.Output != "" {
		f, e := os.OpenFile(o.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if e != nil {
			return nil, e
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}
	cmd.Env = append(append(os.Environ(), o.Env...), EnvChild+"=1")
	cmd.SysProcAttr = sysProcAttr()
	if e := cmd.Start(); e != nil {
		return nil, fmt.Errorf("fork: %w", e)
	}
	pid := cmd.Process.Pid
	if o.PidFile != "" {
		if e := o.PidFile.Write(pid); e != nil {
			cmd.Process.Kill()
			return nil, e
		}
	}
	if o.Stdout != nil {
		fmt.Fprintf(o.Stdout, "forked process id: %d\n", pid)
	}
	return cmd.Process, nil
}

// IsChild reports whether this process was started by Fork.
func IsChild() bool {
	return os.Getenv(EnvChild) == "1"
}
