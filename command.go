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

package swallow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Command is an external program run on behalf of a process, such as the
// NAME runner or the plotter.  Its standard output and error are logged
// line by line.
type Command struct {
	Args []string
	Dir  string

	// Env is added to the environment of the service.
	Env []string

	// Timeout bounds the run time.  Zero means no limit.
	Timeout time.Duration

	// StopTime is how long a cancelled command gets between SIGTERM and
	// being killed.  Zero means ten seconds.
	StopTime time.Duration

	Logger *zap.Logger
}

// ParseCommandLine splits a configured command line into arguments.  No
// shell quoting is supported.
func ParseCommandLine(s string) []string {
	return strings.Fields(s)
}

func (c *Command) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Command) doLog(wg *sync.WaitGroup, r io.Reader, prefix string) {
	defer wg.Done()
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			c.logger().Info(prefix + strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// Run starts the command and waits for it.  Cancelling the context sends
// SIGTERM to the process group of the command, followed by a kill after
// StopTime.  A timeout kills the group at once.
func (c *Command) Run(ctx context.Context) error {
	if len(c.Args) == 0 {
		return ErrNoCommand
	}
	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = groupAttr()
	if len(c.Env) != 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	stdout, e := cmd.StdoutPipe()
	if e != nil {
		return e
	}
	stderr, e := cmd.StderrPipe()
	if e != nil {
		return e
	}

	log := c.logger()
	log.Info("running command", zap.Strings("args", c.Args),
		zap.String("dir", c.Dir))
	if e := cmd.Start(); e != nil {
		return fmt.Errorf("%s: %w", c.Args[0], e)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.doLog(&wg, stdout, "stdout> ")
	go c.doLog(&wg, stderr, "stderr> ")

	proc := cmd.Process
	var mx sync.Mutex
	timedOut := false
	var timer *time.Timer
	if c.Timeout > 0 {
		timer = time.AfterFunc(c.Timeout, func() {
			log.Warn("Timeout waiting for command")
			mx.Lock()
			timedOut = true
			mx.Unlock()
			signalGroup(proc, syscall.SIGKILL)
		})
	}

	stopTime := c.StopTime
	if stopTime == 0 {
		stopTime = time.Second * 10
	}
	var killer *time.Timer
	stop := context.AfterFunc(ctx, func() {
		if e := signalGroup(proc, syscall.SIGTERM); e != nil {
			log.Warn("Failed sending SIGTERM", zap.Error(e))
			signalGroup(proc, syscall.SIGKILL)
			return
		}
		mx.Lock()
		killer = time.AfterFunc(stopTime, func() {
			log.Warn("Graceful shutdown timed out")
			signalGroup(proc, syscall.SIGKILL)
		})
		mx.Unlock()
	})

	// The pipes must be drained before Wait closes them.
	wg.Wait()
	e = cmd.Wait()

	stop()
	if timer != nil {
		timer.Stop()
	}
	mx.Lock()
	if killer != nil {
		killer.Stop()
	}
	expired := timedOut
	mx.Unlock()

	switch {
	case expired:
		return fmt.Errorf("%s: %w after %v", c.Args[0], ErrTimeout,
			c.Timeout)
	case ctx.Err() != nil:
		return ctx.Err()
	case e != nil:
		log.Warn("command failed", zap.Error(e))
		return fmt.Errorf("%s: %w", c.Args[0], e)
	}
	return nil
}
