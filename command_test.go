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

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

// These tests rely on /bin/sh, and so are specific to POSIX systems.

package swallow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

func logText(l *Log) string {
	recs, _ := l.GetRecords(0)
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.Text)
	}
	return strings.Join(lines, "\n")
}

func TestCommandRun(t *testing.T) {
	Convey("Commands log their output", t, func() {
		l := NewLog()
		c := &Command{
			Args:   []string{"/bin/sh", "-c", "echo hello; echo oops >&2; echo $SWALLOW_TEST"},
			Env:    []string{"SWALLOW_TEST=from-env"},
			Logger: teeLogger(zap.NewNop(), l),
		}
		So(c.Run(context.Background()), ShouldBeNil)
		text := logText(l)
		So(text, ShouldContainSubstring, "stdout> hello")
		So(text, ShouldContainSubstring, "stderr> oops")
		So(text, ShouldContainSubstring, "stdout> from-env")
	})

	Convey("Commands run in their directory", t, func() {
		dir := t.TempDir()
		c := &Command{
			Args: []string{"/bin/sh", "-c", "echo x > marker"},
			Dir:  dir,
		}
		So(c.Run(context.Background()), ShouldBeNil)
		_, e := os.Stat(filepath.Join(dir, "marker"))
		So(e, ShouldBeNil)
	})

	Convey("Failing commands return an error", t, func() {
		c := &Command{Args: []string{"/bin/sh", "-c", "exit 3"}}
		e := c.Run(context.Background())
		So(e, ShouldNotBeNil)
		So(e.Error(), ShouldContainSubstring, "exit status 3")

		c = &Command{Args: []string{"/nonexistent/command"}}
		So(c.Run(context.Background()), ShouldNotBeNil)

		c = &Command{}
		So(c.Run(context.Background()), ShouldEqual, ErrNoCommand)
	})

	Convey("Slow commands time out", t, func() {
		l := NewLog()
		c := &Command{
			Args:    []string{"/bin/sh", "-c", "exec sleep 30"},
			Timeout: time.Millisecond * 100,
			Logger:  teeLogger(zap.NewNop(), l),
		}
		start := time.Now()
		e := c.Run(context.Background())
		So(errors.Is(e, ErrTimeout), ShouldBeTrue)
		So(time.Since(start), ShouldBeLessThan, time.Second*10)
		So(logText(l), ShouldContainSubstring, "Timeout waiting for command")
	})

	Convey("Cancelled commands are stopped", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		c := &Command{
			Args:     []string{"/bin/sh", "-c", "exec sleep 30"},
			StopTime: time.Millisecond * 100,
		}
		time.AfterFunc(time.Millisecond*50, cancel)
		start := time.Now()
		e := c.Run(ctx)
		So(e, ShouldEqual, context.Canceled)
		So(time.Since(start), ShouldBeLessThan, time.Second*10)
	})

	Convey("Shell scripts time out with their children", t, func() {
		c := &Command{
			Args:    []string{"/bin/sh", "-c", "sleep 30; echo done"},
			Timeout: time.Millisecond * 100,
		}
		start := time.Now()
		e := c.Run(context.Background())
		So(errors.Is(e, ErrTimeout), ShouldBeTrue)
		So(time.Since(start), ShouldBeLessThan, time.Second*2)
	})

	Convey("Cancelled shell scripts are stopped with their children", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		c := &Command{
			Args:     []string{"/bin/sh", "-c", "sleep 30; echo done"},
			StopTime: time.Second * 5,
		}
		time.AfterFunc(time.Millisecond*50, cancel)
		start := time.Now()
		e := c.Run(ctx)
		So(e, ShouldEqual, context.Canceled)
		So(time.Since(start), ShouldBeLessThan, time.Second*2)
	})
}

func TestParseCommandLine(t *testing.T) {
	Convey("Command lines are split on blanks", t, func() {
		So(ParseCommandLine("  run_name.sh  --fast x "), ShouldResemble,
			[]string{"run_name.sh", "--fast", "x"})
		So(len(ParseCommandLine("")), ShouldEqual, 0)
	})
}
