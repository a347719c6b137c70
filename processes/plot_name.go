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

package processes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cedadev/swallow"
)

// NoPlots is returned in place of plots when the plotter made none.
const NoPlots = "No plots created, check input options"

var groupPattern = regexp.MustCompile(`_group(\d+)`)

// PlotName plots the outputs of a finished NAME run.
//
// The plotter is run once per release group, with the path of a JSON
// file holding PlotOptions as its last argument, also passed as
// SWALLOW_PLOT_OPTIONS.  It writes PNG files into PlotOptions.OutDir.
type PlotName struct {
	cfg  Config
	desc *swallow.ProcessDescription
}

// PlotOptions is what the plotter is told about a group.
type PlotOptions struct {
	RunID      string    `json:"runid"`
	Group      int       `json:"group"`
	Files      []string  `json:"files"`
	OutDir     string    `json:"outdir"`
	Summarise  string    `json:"summarise"`
	Timestamp  string    `json:"timestamp,omitempty"`
	LonBounds  [2]int    `json:"lon_bounds"`
	LatBounds  [2]int    `json:"lat_bounds"`
	Station    []float64 `json:"station,omitempty"`
	Scale      []float64 `json:"scale,omitempty"`
	Projection string    `json:"projection,omitempty"`
	Colormap   string    `json:"colormap,omitempty"`
	Expected   int       `json:"expected"`
}

func NewPlotName(c Config) *PlotName {
	inputs := []swallow.LiteralInput{
		{
			Identifier: "filelocation",
			Title:      "NAME run ID",
			Abstract:   "Run ID that identifies the NAME output files",
			DataType:   swallow.TypeString,
			MinOccurs:  1,
		},
		{
			Identifier:    "summarise",
			Title:         "Summarise data",
			Abstract:      "Plot summaries of each day/week/month",
			DataType:      swallow.TypeString,
			AllowedValues: []string{"NA", "day", "week", "month", "all"},
			Default:       "NA",
			MinOccurs:     1,
		},
		{
			Identifier: "timestamp",
			Title:      "Plot specific date and time",
			Abstract: "Plot only a specific timestamp. Excludes the creation " +
				"of summary plots. Format: YYYY-MM-DD HH:MM:SSZ",
			DataType: swallow.TypeDateTime,
		},
		{
			Identifier: "station",
			Title:      "Mark release location",
			Abstract:   "Mark the location of release onto the image",
			DataType:   swallow.TypeBoolean,
		},
		{
			Identifier:    "projection",
			Title:         "Projection",
			Abstract:      "Map projection",
			DataType:      swallow.TypeString,
			AllowedValues: []string{"cyl", "npstere", "spstere"},
		},
	}
	inputs = append(inputs, boundsInputs()...)
	inputs = append(inputs, []swallow.LiteralInput{
		{
			Identifier: "scale",
			Title:      "Particle concentration scale",
			Abstract: "Particle concentration scale. If no value is set, " +
				"it will autoscale. Format: Min,Max",
			DataType: swallow.TypeString,
		},
		{
			Identifier:    "colormap",
			Title:         "Colour map",
			Abstract:      "Matplotlib color map name",
			DataType:      swallow.TypeString,
			AllowedValues: []string{"coolwarm", "viridis", "rainbow"},
			Default:       "coolwarm",
		},
	}...)

	return &PlotName{cfg: c, desc: &swallow.ProcessDescription{
		Identifier: "plot_name",
		Title:      "Plot NAME results",
		Abstract:   "Generate plots from a completed NAME job.",
		Version:    "0.1",
		Metadata: []swallow.Metadata{
			nameMetadata,
			{
				Title: "Colour maps",
				Href:  "https://matplotlib.org/users/colormaps.html",
			},
			bannerMetadata,
		},
		Inputs: inputs,
		Outputs: []swallow.Output{{
			Identifier: "FileContents",
			Title:      "Plot file(s)",
			Abstract:   "Plot files",
			Kind:       swallow.ComplexOutput,
			Formats: []string{
				"application/x-zipped-shp",
				"text/plain",
				"image/png",
				"image/tiff",
			},
			AsReference: true,
		}},
		StoreSupported:  true,
		StatusSupported: true,
	}}
}

func (p *PlotName) Describe() *swallow.ProcessDescription {
	return p.desc
}

func parseScale(s string) ([]float64, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if ok {
		min, e1 := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		max, e2 := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if e1 == nil && e2 == nil {
			return []float64{min, max}, nil
		}
	}
	return nil, swallow.InvalidParameter("scale",
		"The value %q is incorrect: expected Min,Max", s)
}

// Groups sorts the output files of a run by release group.
func Groups(files []string) (map[int][]string, error) {
	groups := make(map[int][]string)
	for _, f := range files {
		m := groupPattern.FindStringSubmatch(filepath.Base(f))
		if m == nil {
			return nil, fmt.Errorf("Cannot identify group number of %s",
				filepath.Base(f))
		}
		n, _ := strconv.Atoi(m[1])
		groups[n] = append(groups[n], f)
	}
	for _, g := range groups {
		sort.Strings(g)
	}
	return groups, nil
}

func countPlots(dir string) int {
	ents, e := os.ReadDir(dir)
	if e != nil {
		return 0
	}
	n := 0
	for _, ent := range ents {
		if ent.Type().IsRegular() {
			n++
		}
	}
	return n
}

// options builds the plot options common to every group.
func (p *PlotName) options(req *swallow.Request, runid string, params map[string]string) (*PlotOptions, error) {
	b, e := bounds(req)
	if e != nil {
		return nil, e
	}
	o := &PlotOptions{
		RunID:      runid,
		Summarise:  req.String("summarise"),
		LonBounds:  [2]int{int(b.MinLon), int(b.MaxLon)},
		LatBounds:  [2]int{int(b.MinLat), int(b.MaxLat)},
		Projection: req.String("projection"),
		Colormap:   req.String("colormap"),
	}
	if req.Has("scale") {
		if o.Scale, e = parseScale(req.String("scale")); e != nil {
			return nil, e
		}
	}
	if req.Bool("station") {
		lon, e1 := strconv.ParseFloat(params["longitude"], 64)
		lat, e2 := strconv.ParseFloat(params["latitude"], 64)
		if e1 != nil || e2 != nil {
			return nil, swallow.InvalidParameter("station",
				"Run %s does not record its release location", runid)
		}
		o.Station = []float64{lon, lat}
	}
	if req.Has("timestamp") {
		// a single timestamp excludes summaries
		o.Summarise = "NA"
		o.Timestamp = req.Time("timestamp").Format("02/01/2006 15:04 UTC")
	}
	return o, nil
}

func (p *PlotName) Execute(ctx context.Context, req *swallow.Request, resp *swallow.Response) error {
	runid := req.String("filelocation")
	if runid == "" || runid == "." || runid == ".." ||
		strings.ContainsAny(runid, `/\`) {
		return swallow.InvalidParameter("filelocation",
			"Invalid run ID %q", runid)
	}
	rundir := filepath.Join(p.cfg.OutputDir, runid)
	log := req.Logger().With(zap.String("runid", runid))
	log.Debug("working directory for plots", zap.String("dir", rundir))

	params, e := ReadParams(filepath.Join(rundir, ParamsFile))
	if e != nil {
		if os.IsNotExist(e) {
			return swallow.InvalidParameter("filelocation",
				"Unknown run ID %s", runid)
		}
		return fmt.Errorf("read run parameters: %w", e)
	}

	opts, e := p.options(req, runid, params)
	if e != nil {
		return e
	}
	opts.OutDir = filepath.Join(rundir,
		fmt.Sprintf("plots_%d", time.Now().Unix()))

	files, _ := filepath.Glob(filepath.Join(rundir, "outputs", "*_group*.txt"))
	if len(files) == 0 {
		return swallow.InvalidParameter("filelocation",
			"Unable to find any output files. File names must be named \"*_group*.txt\"")
	}
	groups, e := Groups(files)
	if e != nil {
		return e
	}
	resp.UpdateStatus("Processed plot parameters", 5)

	if len(p.cfg.Plotter) == 0 {
		return swallow.NewException(swallow.NoApplicableCode, "",
			"No plotter configured")
	}

	dt := swallow.TypeDateTime
	start, e1 := dt.Parse(params["startdate"])
	end, e2 := dt.Parse(params["enddate"])
	perGroup := 1
	if e1 == nil && e2 == nil {
		perGroup = NumDates(start.(time.Time), end.(time.Time),
			opts.Summarise, params["timestamp"])
	}
	total := perGroup * len(groups)
	opts.Expected = perGroup

	nums := make([]int, 0, len(groups))
	for n := range groups {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	resp.UpdateStatus("Plotting", 10)
	for _, n := range nums {
		if e := ctx.Err(); e != nil {
			return e
		}
		opts.Group = n
		opts.Files = groups[n]
		if e := p.plot(ctx, req, opts, log); e != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("failed to plot group", zap.Int("group", n),
				zap.Error(e))
		}
		made := countPlots(opts.OutDir)
		if made > total {
			made = total
		}
		resp.UpdateStatus("Plotting", 10+made*85/total)
	}

	resp.UpdateStatus("Formatting output", 95)
	switch countPlots(opts.OutDir) {
	case 0:
		log.Debug("did not create any plots")
		e = resp.SetData("FileContents", NoPlots, "text/plain")
	case 1:
		ents, _ := os.ReadDir(opts.OutDir)
		for _, ent := range ents {
			if ent.Type().IsRegular() {
				e = resp.SetFile("FileContents",
					filepath.Join(opts.OutDir, ent.Name()), "image/png")
			}
		}
	default:
		zipped := filepath.Join(req.Workdir, runid+"_plots.zip")
		if e := zipDir(zipped, opts.OutDir); e != nil {
			return fmt.Errorf("zip plots: %w", e)
		}
		e = resp.SetFile("FileContents", zipped, "application/x-zipped-shp")
	}
	if e != nil {
		return e
	}
	resp.UpdateStatus("done", 100)
	return nil
}

func (p *PlotName) plot(ctx context.Context, req *swallow.Request, opts *PlotOptions, log *zap.Logger) error {
	b, e := json.MarshalIndent(opts, "", "  ")
	if e != nil {
		return e
	}
	path := filepath.Join(req.Workdir, fmt.Sprintf("plot_group%d.json", opts.Group))
	if e := os.WriteFile(path, b, 0o644); e != nil {
		return e
	}
	if e := os.MkdirAll(opts.OutDir, 0o755); e != nil {
		return e
	}
	cmd := &swallow.Command{
		Args:    append(append([]string{}, p.cfg.Plotter...), path),
		Dir:     req.Workdir,
		Env:     []string{"SWALLOW_PLOT_OPTIONS=" + path},
		Timeout: p.cfg.Timeout,
		Logger:  log.With(zap.Int("group", opts.Group)),
	}
	return cmd.Run(ctx)
}
