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
	"bufio"
	"context"
	"fmt"
	"io/fs"
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

// ParamsFile is written into every run directory.  It records the inputs
// of the run, one "key: value" line each, and is read back by plot_name.
const ParamsFile = "user_input_parameters.txt"

const (
	maxRunDays   = 20
	maxRunPeriod = 93 * 24 * time.Hour
	day24        = 24 * time.Hour
)

// RunName prepares a NAME run and hands it to the configured runner.
//
// The runner is started in the run directory with the environment
// variables SWALLOW_RUN_ID, SWALLOW_RUN_DIR and SWALLOW_PARAMS set.  It
// must leave its results below the "outputs" directory of the run.
type RunName struct {
	cfg  Config
	desc *swallow.ProcessDescription
}

func NewRunName(c Config) *RunName {
	inputs := []swallow.LiteralInput{
		{
			Identifier: "title",
			Title:      "Title",
			Abstract:   "Title of job",
			DataType:   swallow.TypeString,
			MinOccurs:  1,
		},
		{
			Identifier: "longitude",
			Title:      "Longitude",
			Abstract:   "Longitude of release",
			DataType:   swallow.TypeFloat,
			MinOccurs:  1,
		},
		{
			Identifier: "latitude",
			Title:      "Latitude",
			Abstract:   "Latitude of release",
			DataType:   swallow.TypeFloat,
			MinOccurs:  1,
		},
		{
			Identifier: "elevation",
			Title:      "Elevation",
			Abstract:   "Elevation of release, m agl for land, m asl for marine release",
			DataType:   swallow.TypeInteger,
			Default:    "10",
		},
		{
			Identifier: "runBackwards",
			Title:      "Run Backwards",
			Abstract:   "Whether to run backwards in time or forwards",
			DataType:   swallow.TypeBoolean,
			Default:    "1",
		},
		{
			Identifier: "time",
			Title:      "Time to run model over",
			DataType:   swallow.TypeInteger,
			Default:    "1",
			MinOccurs:  1,
		},
		{
			Identifier:    "timeFmt",
			Title:         "Time unit",
			Abstract:      "number of days/hours NAME will run over. Maximum is 20 days.",
			DataType:      swallow.TypeString,
			AllowedValues: []string{"days", "hours"},
			Default:       "days",
			MinOccurs:     1,
		},
	}
	inputs = append(inputs, boundsInputs()...)
	inputs = append(inputs, []swallow.LiteralInput{
		{
			Identifier: "elevationOut",
			Title:      "Output elevation averaging range(s)",
			Abstract:   "Elevation range where the particle number is counted (m agl) Example: 0-100",
			DataType:   swallow.TypeString,
			Default:    "0-100",
			MinOccurs:  1,
			MaxOccurs:  4,
		},
		{
			Identifier:    "resolution",
			Title:         "Resolution",
			Abstract:      "degrees, note the UM global Met data was only 17Km resolution",
			DataType:      swallow.TypeFloat,
			AllowedValues: []string{"0.05", "0.25"},
			Default:       "0.25",
		},
		{
			Identifier:    "timestamp",
			Title:         "Run Type",
			Abstract:      "how often NAME will run",
			DataType:      swallow.TypeString,
			AllowedValues: []string{"3-hourly", "daily"},
			MinOccurs:     1,
		},
		{
			Identifier: "dailytime",
			Title:      "Daily run time (UTC)",
			Abstract:   "if running daily, at what time will it run",
			DataType:   swallow.TypeTime,
		},
		{
			Identifier:    "dailyreleaselen",
			Title:         "Daily release length",
			Abstract:      "if running daily, over how many hours will it release?",
			DataType:      swallow.TypeInteger,
			AllowedValues: []string{"1", "3", "6", "12", "24"},
		},
		{
			Identifier: "startdate",
			Title:      "Start date",
			Abstract:   "UTC start date of runs",
			DataType:   swallow.TypeDateTime,
			MinOccurs:  1,
		},
		{
			Identifier: "enddate",
			Title:      "End date",
			Abstract:   "UTC end date of runs (inclusive)",
			DataType:   swallow.TypeDateTime,
			MinOccurs:  1,
		},
	}...)

	return &RunName{cfg: c, desc: &swallow.ProcessDescription{
		Identifier: "run_name",
		Title:      "Run NAME",
		Abstract:   "Run NAME on JASMIN using user-defined release location and bounding box.",
		Version:    "0.1",
		Metadata:   []swallow.Metadata{nameMetadata, bannerMetadata},
		Inputs:     inputs,
		Outputs: []swallow.Output{
			{
				Identifier: "runid",
				Title:      "Run ID",
				Abstract:   "Unique run identifier, this is needed to create plots",
				Kind:       swallow.LiteralOutput,
				DataType:   swallow.TypeString,
			},
			{
				Identifier:  "FileContents",
				Title:       "Output files (zipped)",
				Abstract:    "Output files (zipped)",
				Kind:        swallow.ComplexOutput,
				Formats:     []string{"application/x-zipped-shp"},
				AsReference: true,
			},
			{
				Identifier:  "SummaryPlot",
				Title:       "Summary Plot",
				Abstract:    "Summary plot of whole time period",
				Kind:        swallow.ComplexOutput,
				Formats:     []string{"image/tiff"},
				AsReference: true,
			},
		},
		StoreSupported:  true,
		StatusSupported: true,
	}}
}

func (p *RunName) Describe() *swallow.ProcessDescription {
	return p.desc
}

// ElevationRange is an output averaging range in metres.
type ElevationRange struct {
	Min, Max int
}

func (r ElevationRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// ParseElevationRange parses a range such as "0-100".
func ParseElevationRange(s string) (ElevationRange, error) {
	var r ElevationRange
	if !strings.Contains(s, "-") {
		return r, swallow.InvalidParameter("elevationOut",
			"The value %q does not contain a \"-\" character to define a range, e.g. 0-100", s)
	}
	lo, hi, _ := strings.Cut(s, "-")
	min, e1 := strconv.Atoi(strings.TrimSpace(lo))
	max, e2 := strconv.Atoi(strings.TrimSpace(hi))
	if e1 != nil || e2 != nil {
		return r, swallow.InvalidParameter("elevationOut",
			"The value %s is incorrect: cannot find two numbers", s)
	}
	if min >= max {
		return r, swallow.InvalidParameter("elevationOut",
			"The value %s is incorrect: minimum is not less than maximum", s)
	}
	if min < 0 || max < 0 {
		return r, swallow.InvalidParameter("elevationOut",
			"The value %s is incorrect: Entire range must be above 0", s)
	}
	return ElevationRange{Min: min, Max: max}, nil
}

// RunParams are the checked parameters of a run.
type RunParams struct {
	Values map[string]string
	Ranges []ElevationRange
	Domain Bounds
	Start  time.Time
	End    time.Time
}

// CheckRun validates the inputs of a run, returning the parameters to
// record for it.
func CheckRun(d *swallow.ProcessDescription, req *swallow.Request) (*RunParams, error) {
	rp := &RunParams{Values: make(map[string]string)}
	for _, s := range req.Strings("elevationOut") {
		r, e := ParseElevationRange(s)
		if e != nil {
			return nil, e
		}
		rp.Ranges = append(rp.Ranges, r)
	}

	b, e := bounds(req)
	if e != nil {
		return nil, e
	}
	// NAME cannot run over the whole globe at the seam
	if b.MinLon == -180 && b.MaxLon == 180 {
		b.MinLon = -179.875
		b.MaxLon = 179.9
	}
	rp.Domain = b

	rp.Start = req.Time("startdate")
	rp.End = req.Time("enddate")
	if !rp.Start.Before(rp.End.Add(day24)) {
		return nil, swallow.InvalidParameter("enddate",
			"The end date is earlier than the start date!")
	}
	if rp.End.Add(day24).Sub(rp.Start) >= maxRunPeriod {
		return nil, swallow.InvalidParameter("enddate",
			"Can only run across a maximum of three months in one go")
	}

	limit := maxRunDays
	if req.String("timeFmt") == "hours" {
		limit = maxRunDays * 24
	}
	if req.Int("time") > limit {
		return nil, swallow.InvalidParameter("time",
			"Can only run NAME over a maximum of 20 days forwards/backwards")
	}

	for _, in := range d.Inputs {
		switch in.Identifier {
		case "elevationOut", "min_lon", "max_lon", "min_lat", "max_lat":
			continue
		}
		if req.Has(in.Identifier) {
			rp.Values[in.Identifier] = in.DataType.Format(req.Value(in.Identifier))
		}
	}
	rs := make([]string, len(rp.Ranges))
	for i, r := range rp.Ranges {
		rs[i] = r.String()
	}
	rp.Values["elevationOut"] = strings.Join(rs, ",")
	rp.Values["domain"] = fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLon,
		b.MaxLat, b.MaxLon)
	return rp, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RunID derives the identifier of a run from its title.
func RunID(title string, t time.Time) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(title, "_"), "_")
	if s == "" {
		s = "run"
	}
	return fmt.Sprintf("%s_%d", s, t.Unix())
}

// WriteParams writes the parameters file of a run.
func WriteParams(path string, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, values[k])
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ReadParams reads the parameters file of a run.
func ReadParams(path string) (map[string]string, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer f.Close()
	rv := make(map[string]string)
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		k, v, ok := strings.Cut(strings.TrimRight(scan.Text(), "\r"), ": ")
		if ok {
			rv[k] = v
		}
	}
	return rv, scan.Err()
}

func findTIFF(dir string) string {
	var found string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tif", ".tiff":
			if d.Type().IsRegular() {
				found = path
			}
		}
		return nil
	})
	return found
}

func (p *RunName) Execute(ctx context.Context, req *swallow.Request, resp *swallow.Response) error {
	rp, e := CheckRun(p.desc, req)
	if e != nil {
		return e
	}
	resp.UpdateStatus("Processed parameters", 5)

	if len(p.cfg.Runner) == 0 {
		return swallow.NewException(swallow.NoApplicableCode, "",
			"No NAME runner configured")
	}

	runid := RunID(req.String("title"), time.Now())
	rundir := filepath.Join(p.cfg.OutputDir, runid)
	if e := os.MkdirAll(filepath.Join(rundir, "outputs"), 0o755); e != nil {
		return fmt.Errorf("create run directory: %w", e)
	}
	params := filepath.Join(rundir, ParamsFile)
	if e := WriteParams(params, rp.Values); e != nil {
		return fmt.Errorf("write parameters: %w", e)
	}
	log := req.Logger().With(zap.String("runid", runid))
	log.Info("starting NAME run", zap.String("dir", rundir))
	resp.UpdateStatus("Running NAME", 10)

	cmd := &swallow.Command{
		Args: append(append([]string{}, p.cfg.Runner...), rundir),
		Dir:  rundir,
		Env: []string{
			"SWALLOW_RUN_ID=" + runid,
			"SWALLOW_RUN_DIR=" + rundir,
			"SWALLOW_PARAMS=" + params,
		},
		Timeout: p.cfg.Timeout,
		Logger:  log,
	}
	if e := cmd.Run(ctx); e != nil {
		return fmt.Errorf("NAME run %s failed: %w", runid, e)
	}

	resp.UpdateStatus("Zipping outputs", 90)
	zipped := filepath.Join(req.Workdir, runid+".zip")
	if e := zipDir(zipped, filepath.Join(rundir, "outputs")); e != nil {
		return fmt.Errorf("zip outputs: %w", e)
	}
	if e := resp.SetFile("FileContents", zipped, ""); e != nil {
		return e
	}
	if e := resp.SetLiteral("runid", runid); e != nil {
		return e
	}
	if tif := findTIFF(rundir); tif != "" {
		if e := resp.SetFile("SummaryPlot", tif, ""); e != nil {
			return e
		}
	} else {
		log.Warn("no summary plot found")
	}
	resp.UpdateStatus("done", 100)
	return nil
}
