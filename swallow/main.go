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

// Command swallow runs the swallow Web Processing Service, and talks to a
// running one through its admin API.  It uses subcommands.
//
// Subcommands are
//
//	start               - serve WPS on http://localhost:5000/wps
//	start --daemon      - the same, in the background
//	stop                - stop the background server
//	status              - tell whether the background server runs
//	jobs                - list the jobs of a running server
//	info <job>          - show the details of a job
//	log [<job>]         - print the log of a job, or of the server
//	dismiss <job>       - dismiss a job that has not finished
//	requests [<uuid>]   - print the request log of a running server
//	monitor             - follow the jobs on a terminal screen
//	version             - print the version
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/cedadev/swallow/config"
	"github.com/cedadev/swallow/daemon"
)

// Version is set at link time.
var Version = "1.0.0"

// CLI holds the flags shared by every subcommand.
type CLI struct {
	Config  string `short:"c" help:"Configuration file. Without one, ${default_paths} are searched." type:"path"`
	PidFile string `help:"PID file of the background server. Defaults to the one in the configuration."`

	Start    StartCmd    `cmd:"" help:"Start the WPS service."`
	Stop     StopCmd     `cmd:"" help:"Stop the background WPS service."`
	Status   StatusCmd   `cmd:"" help:"Show whether the background WPS service runs."`
	Jobs     JobsCmd     `cmd:"" help:"List the jobs of a running service."`
	Info     InfoCmd     `cmd:"" help:"Show the details of a job."`
	Log      LogCmd      `cmd:"" help:"Print the log of a job, or of the service."`
	Dismiss  DismissCmd  `cmd:"" help:"Dismiss a job that has not finished."`
	Requests RequestsCmd `cmd:"" help:"Print the request log of a running service."`
	Monitor  MonitorCmd  `cmd:"" help:"Follow the jobs on a terminal screen."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// pidFile finds the PID file: the flag, the configuration, or the
// default next to the log file.
func (c *CLI) pidFile(cfg *config.Config) daemon.PidFile {
	if c.PidFile != "" {
		return daemon.PidFile(c.PidFile)
	}
	if cfg.Logging.PidFile != "" {
		return daemon.PidFile(cfg.Logging.PidFile)
	}
	return daemon.PidFile(daemon.DefaultPidFile(cfg.Logging.File))
}

type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Printf("swallow %s\n", Version)
	return nil
}

func parser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name(config.ApplicationName),
		kong.Description("Swallow is a Web Processing Service for running " +
			"the NAME dispersion model and plotting its output."),
		kong.UsageOnError(),
		kong.Vars{
			"default_paths": strings.Join(config.SearchPaths, ", "),
			"default_port":  strconv.Itoa(config.DefaultPort),
			"default_host":  config.DefaultHostname,
			"default_api":   defaultAPI,
		},
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	var cli CLI
	p, e := parser(&cli)
	if e != nil {
		panic(e)
	}
	ctx, e := p.Parse(os.Args[1:])
	p.FatalIfErrorf(e)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
