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

// Package processes holds the WPS processes offered by swallow.  The
// NAME processes do not model anything themselves: runs and plots are
// made by external commands, configured by the operator.
package processes

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
)

// Config tells the NAME processes where runs live and what to run.
type Config struct {
	// OutputDir holds one directory per NAME run.
	OutputDir string

	Runner  []string
	Plotter []string
	Timeout time.Duration
}

// FromConfig extracts the process settings from the service
// configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		OutputDir: c.Name.OutputDir,
		Runner:    swallow.ParseCommandLine(c.Name.Runner),
		Plotter:   swallow.ParseCommandLine(c.Name.Plotter),
		Timeout:   c.Name.Timeout,
	}
}

// All returns every process.
func All(c Config) []swallow.Process {
	return []swallow.Process{
		NewHello(),
		NewSleep(),
		NewRunName(c),
		NewPlotName(c),
	}
}

// Register adds every process to the manager.
func Register(m *swallow.Manager, c Config) error {
	for _, p := range All(c) {
		if e := m.AddProcess(p); e != nil {
			return e
		}
	}
	return nil
}

var nameMetadata = swallow.Metadata{
	Title: "NAME-on-JASMIN guide",
	Href:  "http://jasmin.ac.uk/jasmin-users/stories/processing/",
}

var bannerMetadata = swallow.Metadata{
	Title: "Process image",
	Href:  "https://name-staging.ceda.ac.uk/static/phoenix/img/NAME_banner_dark.png",
	Role:  "http://www.opengis.net/spec/wps/2.0/def/process/description/media",
}

const boundsAbstract = "for plot boundary. Note that reducing the size of " +
	"the bounds will speed up the run-time of the process."

func boundsInputs() []swallow.LiteralInput {
	return []swallow.LiteralInput{
		{
			Identifier: "min_lon",
			Title:      "Minimum longitude",
			Abstract:   "Minimum longitude " + boundsAbstract,
			DataType:   swallow.TypeFloat,
			Default:    "-180",
			MinOccurs:  1,
		},
		{
			Identifier: "max_lon",
			Title:      "Maximum longitude",
			Abstract:   "Maximum longitude " + boundsAbstract,
			DataType:   swallow.TypeFloat,
			Default:    "180",
			MinOccurs:  1,
		},
		{
			Identifier: "min_lat",
			Title:      "Minimum latitude",
			Abstract:   "Minimum latitude " + boundsAbstract,
			DataType:   swallow.TypeFloat,
			Default:    "-90",
			MinOccurs:  1,
		},
		{
			Identifier: "max_lat",
			Title:      "Maximum latitude",
			Abstract:   "Maximum latitude " + boundsAbstract,
			DataType:   swallow.TypeFloat,
			Default:    "90",
			MinOccurs:  1,
		},
	}
}

// Bounds is a bounding box in degrees.
type Bounds struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// bounds reads and checks the bounding box inputs.
func bounds(req *swallow.Request) (Bounds, error) {
	b := Bounds{
		MinLon: req.Float("min_lon"),
		MaxLon: req.Float("max_lon"),
		MinLat: req.Float("min_lat"),
		MaxLat: req.Float("max_lat"),
	}
	switch {
	case b.MinLon < -180:
		return b, swallow.InvalidParameter("min_lon",
			"Bounding box minimum longitude input cannot be below -180")
	case b.MaxLon > 180:
		return b, swallow.InvalidParameter("max_lon",
			"Bounding box maximum longitude input cannot be above 180")
	case b.MinLat < -90:
		return b, swallow.InvalidParameter("min_lat",
			"Bounding box minimum latitude input cannot be below -90")
	case b.MaxLat > 90:
		return b, swallow.InvalidParameter("max_lat",
			"Bounding box maximum latitude input cannot be above 90")
	}
	return b, nil
}

// zipDir writes every regular file below dir into a zip archive at dst.
// Names in the archive are relative to dir.
func zipDir(dst, dir string) error {
	f, e := os.Create(dst)
	if e != nil {
		return e
	}
	zw := zip.NewWriter(f)
	e = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if e != nil {
		zw.Close()
		f.Close()
		return e
	}
	if e := zw.Close(); e != nil {
		f.Close()
		return e
	}
	return f.Close()
}
