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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cedadev/swallow/config"
	"github.com/cedadev/swallow/daemon"
	"github.com/cedadev/swallow/rest"
	"github.com/cedadev/swallow/swallow/util"
)

const defaultAPI = "http://localhost:5000/api"

// API selects the admin API of a running server.
type API struct {
	URL string `short:"u" default:"${default_api}" help:"URL of the admin API."`
}

func (a *API) client() *rest.Client {
	return rest.NewClient(nil, a.URL)
}

func showJob(w io.Writer, j *rest.JobInfo, now time.Time) {
	fmt.Fprintf(w, "%-36s %-10s %-14s %10s %s\n", j.ID, j.Process,
		util.Progress(j), util.FormatDuration(util.Since(j, now)), j.Message)
}

func showInfo(w io.Writer, j *rest.JobInfo) {
	fmt.Fprintf(w, "Job:       %s\n", j.ID)
	fmt.Fprintf(w, "Process:   %s\n", j.Process)
	fmt.Fprintf(w, "Status:    %s\n", util.Progress(j))
	fmt.Fprintf(w, "Message:   %s\n", j.Message)
	fmt.Fprintf(w, "Async:     %v\n", j.Async)
	fmt.Fprintf(w, "Stored:    %v\n", j.Stored)
	fmt.Fprintf(w, "Created:   %v\n", j.Created.Local())
	if !j.Started.IsZero() {
		fmt.Fprintf(w, "Started:   %v\n", j.Started.Local())
	}
	if !j.Finished.IsZero() {
		fmt.Fprintf(w, "Finished:  %v\n", j.Finished.Local())
	}
	if j.Code != "" {
		fmt.Fprintf(w, "Error:     %s (%s) %s\n", j.Code, j.Locator, j.Error)
	}
	for _, in := range j.Inputs {
		fmt.Fprintf(w, "Input:     %s = %s\n", in.Identifier, in.Value)
	}
	for _, out := range j.Outputs {
		v := out.Href
		if v == "" {
			v = out.Data
		}
		fmt.Fprintf(w, "Output:    %s = %s\n", out.Identifier, v)
	}
}

type JobsCmd struct {
	API
}

func (c *JobsCmd) Run() error {
	client := c.client()
	ids, e := client.Jobs()
	if e != nil {
		return e
	}
	jobs := make([]*rest.JobInfo, 0, len(ids))
	for _, id := range ids {
		j, e := client.GetJob(id)
		if e != nil {
			// purged meanwhile
			continue
		}
		jobs = append(jobs, j)
	}
	util.SortJobs(jobs)
	now := time.Now()
	for _, j := range jobs {
		showJob(os.Stdout, j, now)
	}
	return nil
}

type InfoCmd struct {
	API
	Job string `arg:"" help:"Job identifier."`
}

func (c *InfoCmd) Run() error {
	j, e := c.client().GetJob(c.Job)
	if e != nil {
		return e
	}
	showInfo(os.Stdout, j)
	return nil
}

type LogCmd struct {
	API
	Job    string `arg:"" optional:"" help:"Job identifier. Without one the log of the server is printed."`
	Follow bool   `short:"f" help:"Keep printing new lines."`
}

func (c *LogCmd) Run() error {
	client := c.client()
	info, e := client.GetLog(c.Job)
	if e != nil {
		return e
	}
	var last int64
	for {
		for _, r := range info.Records {
			if r.Id > last {
				fmt.Printf("%s %s\n", r.Time.Format(time.StampMilli), r.Text)
				last = r.Id
			}
		}
		if !c.Follow {
			return nil
		}
		next, e := client.WatchLog(context.Background(), c.Job, info)
		if e != nil {
			return e
		}
		info = next
	}
}

type DismissCmd struct {
	API
	Job string `arg:"" help:"Job identifier."`
}

func (c *DismissCmd) Run() error {
	return c.client().DismissJob(c.Job)
}

func showRequest(w io.Writer, r *rest.Request) {
	end := "-"
	if r.End != nil {
		end = util.FormatDuration(r.End.Sub(r.Start))
	}
	fmt.Fprintf(w, "%-36s %-10s %-10s %5.1f%% %19s %10s %s\n", r.UUID,
		r.Identifier, r.Status, r.Percent,
		r.Start.Local().Format(time.DateTime), end, r.Message)
}

type RequestsCmd struct {
	API
	Limit int    `short:"n" default:"20" help:"Requests shown, newest first. Zero shows all of them."`
	UUID  string `arg:"" optional:"" help:"Request identifier. With one only that request is shown."`
}

func (c *RequestsCmd) Run() error {
	client := c.client()
	if c.UUID != "" {
		r, e := client.GetRequest(c.UUID)
		if e != nil {
			return e
		}
		showRequest(os.Stdout, r)
		return nil
	}
	rs, e := client.Requests(c.Limit)
	if e != nil {
		return e
	}
	for _, r := range rs {
		showRequest(os.Stdout, r)
	}
	return nil
}

type StopCmd struct {
	Timeout time.Duration `default:"30s" help:"How long to wait for the server to exit."`
}

func (c *StopCmd) Run(cli *CLI) error {
	cfg, e := config.Load(config.Options{Path: cli.Config})
	if e != nil {
		return e
	}
	pid, e := daemon.Stop(cli.pidFile(cfg), c.Timeout)
	if errors.Is(e, daemon.ErrNotRunning) {
		fmt.Println("not running")
		return nil
	}
	if e != nil {
		return e
	}
	fmt.Printf("stopped process id: %d\n", pid)
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	cfg, e := config.Load(config.Options{Path: cli.Config})
	if e != nil {
		return e
	}
	fmt.Println(daemon.StatusText(cli.pidFile(cfg)))
	return nil
}
