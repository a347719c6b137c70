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

// The runner and plotter used here are shell scripts.

package processes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/cedadev/swallow"
)

const fakeRunner = `
test -f "$SWALLOW_PARAMS" || exit 3
echo "running $SWALLOW_RUN_ID"
touch outputs/Fields_grid1_group1_20180101.txt
touch outputs/Fields_grid1_group2_20180101.txt
touch summary.tif
`

// fakePlotter makes one plot per group, or none for group 2 when told to.
const fakePlotter = `
opts="$SWALLOW_PLOT_OPTIONS"
outdir=$(sed -n 's/.*"outdir": "\(.*\)".*/\1/p' "$opts")
group=$(sed -n 's/.*"group": \([0-9]*\).*/\1/p' "$opts")
if [ -n "$ONLY_GROUP" ] && [ "$group" != "$ONLY_GROUP" ]; then exit 0; fi
echo png > "$outdir/plot_group$group.png"
`

func script(t *testing.T, name, body string) []string {
	path := filepath.Join(t.TempDir(), name)
	if e := os.WriteFile(path, []byte(body), 0o755); e != nil {
		t.Fatal(e)
	}
	return []string{"/bin/sh", path}
}

func TestRunAndPlot(t *testing.T) {
	Convey("Given a runner and a plotter", t, func() {
		cfg := Config{
			OutputDir: t.TempDir(),
			Runner:    script(t, "run.sh", fakeRunner),
			Plotter:   script(t, "plot.sh", fakePlotter),
		}
		run := NewRunName(cfg)
		resp := swallow.NewResponse(run.Describe())
		So(run.Execute(context.Background(), request(t, run, runInputs()...),
			resp), ShouldBeNil)

		runid := resp.Output("runid").Data
		So(runid, ShouldStartWith, "Test_run_")
		So(resp.Output("FileContents").File, ShouldEndWith, runid+".zip")
		So(resp.Output("SummaryPlot").File, ShouldEqual,
			filepath.Join(cfg.OutputDir, runid, "summary.tif"))
		params, e := ReadParams(filepath.Join(cfg.OutputDir, runid, ParamsFile))
		So(e, ShouldBeNil)
		So(params["timestamp"], ShouldEqual, "daily")
		_, pct := resp.Status()
		So(pct, ShouldEqual, 100)

		plot := NewPlotName(cfg)

		Convey("Several plots are zipped", func() {
			resp := swallow.NewResponse(plot.Describe())
			So(plot.Execute(context.Background(),
				request(t, plot, "filelocation", runid), resp), ShouldBeNil)
			out := resp.Output("FileContents")
			So(out.MimeType, ShouldEqual, "application/x-zipped-shp")
			So(out.File, ShouldEndWith, runid+"_plots.zip")
		})

		Convey("A single plot is returned as is", func() {
			os.Setenv("ONLY_GROUP", "2")
			defer os.Unsetenv("ONLY_GROUP")
			resp := swallow.NewResponse(plot.Describe())
			So(plot.Execute(context.Background(),
				request(t, plot, "filelocation", runid), resp), ShouldBeNil)
			out := resp.Output("FileContents")
			So(out.MimeType, ShouldEqual, "image/png")
			So(filepath.Base(out.File), ShouldEqual, "plot_group2.png")
		})

		Convey("No plots are reported", func() {
			os.Setenv("ONLY_GROUP", "7")
			defer os.Unsetenv("ONLY_GROUP")
			resp := swallow.NewResponse(plot.Describe())
			So(plot.Execute(context.Background(),
				request(t, plot, "filelocation", runid), resp), ShouldBeNil)
			out := resp.Output("FileContents")
			So(out.MimeType, ShouldEqual, "text/plain")
			So(out.Data, ShouldEqual, NoPlots)
		})
	})

	Convey("A failing runner fails the run", t, func() {
		cfg := Config{
			OutputDir: t.TempDir(),
			Runner:    script(t, "run.sh", "echo broken >&2; exit 2"),
		}
		run := NewRunName(cfg)
		e := run.Execute(context.Background(), request(t, run, runInputs()...),
			swallow.NewResponse(run.Describe()))
		So(e, ShouldNotBeNil)
		So(strings.Contains(e.Error(), "failed"), ShouldBeTrue)
	})

	Convey("Runs need a runner", t, func() {
		run := NewRunName(Config{OutputDir: t.TempDir()})
		e := run.Execute(context.Background(), request(t, run, runInputs()...),
			swallow.NewResponse(run.Describe()))
		So(exceptionOf(e).Code, ShouldEqual, swallow.NoApplicableCode)
	})
}
