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

// Package config loads the service configuration.  The file format is the
// INI dialect used by PyWPS deployments, so that existing configuration
// files keep working.  Every key can also be set from the environment, as
// SWALLOW_<SECTION>_<KEY>, for example SWALLOW_SERVER_OUTPUTPATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ApplicationName = "swallow"
	DefaultHostname = "localhost"
	DefaultPort     = 5000
)

type Server struct {
	URL                string
	OutputURL          string
	OutputPath         string
	Workdir            string
	MaxSingleProcesses int
	ParallelProcesses  int
	MaxRequestSize     int64
	StorageType        string
	Cleanup            bool
	Retention          time.Duration
	PurgeInterval      time.Duration
	Language           string
	// PublicAPI serves the admin API to every client, not only local ones.
	PublicAPI bool
}

type Logging struct {
	Level      string
	File       string
	Format     string
	Database   string
	PidFile    string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// Metadata is published in the capabilities document.
type Metadata struct {
	Title           string
	Abstract        string
	Keywords        []string
	ProviderName    string
	ProviderURL     string
	ContactName     string
	ContactPosition string
	ContactEmail    string
	ContactURL      string
}

// S3 configures the s3 storage type.  Endpoint is only needed for
// services other than AWS; PublicURL, when set, is the base of the
// returned output URLs instead of s3://bucket/key.
type S3 struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	PublicURL string
}

// Name configures the NAME processes.  Runner and Plotter are command
// lines of the external programs doing the actual work.
type Name struct {
	OutputDir string
	Runner    string
	Plotter   string
	Timeout   time.Duration
}

type Config struct {
	Server   Server
	Logging  Logging
	Metadata Metadata
	S3       S3
	Name     Name

	// Source is the file the configuration was read from, empty when
	// only defaults and the environment were used.
	Source string
}

// Options are applied while loading.  Overrides are keys such as
// "server.outputpath" that take precedence over both the file and the
// environment.
type Options struct {
	Path      string
	Hostname  string
	Port      int
	Overrides map[string]interface{}
}

func setDefaults(v *viper.Viper, o Options) {
	host := o.Hostname
	if host == "" {
		host = DefaultHostname
	}
	port := o.Port
	if port == 0 {
		port = DefaultPort
	}
	base := fmt.Sprintf("http://%s:%d", host, port)

	v.SetDefault("server.url", base+"/wps")
	v.SetDefault("server.outputurl", base+"/outputs")
	v.SetDefault("server.outputpath", "outputs")
	v.SetDefault("server.workdir", "")
	v.SetDefault("server.maxsingleprocesses", 10)
	v.SetDefault("server.parallelprocesses", 2)
	v.SetDefault("server.maxrequestsize", "3mb")
	v.SetDefault("server.storagetype", "file")
	v.SetDefault("server.cleanup", true)
	v.SetDefault("server.retention", "72h")
	v.SetDefault("server.purgeinterval", "1h")
	v.SetDefault("server.language", "en-US")
	v.SetDefault("server.publicapi", false)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.file", "pywps.log")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.database", "pywps-logs.sqlite")
	v.SetDefault("logging.pidfile", "pywps.pid")
	v.SetDefault("logging.maxsize", 100)
	v.SetDefault("logging.maxbackups", 3)
	v.SetDefault("logging.maxage", 28)

	v.SetDefault("metadata:main.identification_title", "Swallow")
	v.SetDefault("metadata:main.identification_abstract",
		"A Web Processing Service for running the NAME dispersion model "+
			"and plotting its output.")
	v.SetDefault("metadata:main.identification_keywords",
		"PyWPS,WPS,NAME,dispersion,birdhouse")
	v.SetDefault("metadata:main.provider_name", "Centre for Environmental Data Analysis")
	v.SetDefault("metadata:main.provider_url", "https://www.ceda.ac.uk/")
	v.SetDefault("metadata:main.contact_name", "")
	v.SetDefault("metadata:main.contact_position", "")
	v.SetDefault("metadata:main.contact_email", "")
	v.SetDefault("metadata:main.contact_url", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "eu-west-2")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.publicurl", "")

	v.SetDefault("name.outputdir", "name_runs")
	v.SetDefault("name.runner", "")
	v.SetDefault("name.plotter", "")
	v.SetDefault("name.timeout", "6h")
}

// SearchPaths are where a configuration file is looked for when none is
// named.
var SearchPaths = []string{
	ApplicationName + ".cfg",
	filepath.Join("etc", ApplicationName+".cfg"),
	filepath.Join("/etc", ApplicationName, ApplicationName+".cfg"),
}

func findConfig() string {
	for _, p := range SearchPaths {
		if fi, e := os.Stat(p); e == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

// NewViper produces a Viper instance following our conventions: INI
// syntax, defaults for every key, and automatic environment mode.
func NewViper(o Options) *viper.Viper {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix(ApplicationName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", ":", "_"))
	v.AutomaticEnv()
	setDefaults(v, o)
	return v
}

// Load reads the configuration.  Without a path the SearchPaths are
// tried, and if none exists only defaults and the environment apply.
func Load(o Options) (*Config, error) {
	v := NewViper(o)
	source := o.Path
	if source == "" {
		source = findConfig()
	}
	if source != "" {
		v.SetConfigFile(source)
		if e := v.ReadInConfig(); e != nil {
			return nil, fmt.Errorf("read configuration %s: %w", source, e)
		}
	}
	for k, val := range o.Overrides {
		v.Set(k, val)
	}
	c, e := FromViper(v)
	if e != nil {
		return nil, e
	}
	c.Source = source
	return c, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return 0, nil
	}
	// bare numbers are seconds, as in PyWPS
	if n, e := strconv.ParseFloat(s, 64); e == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	d, e := time.ParseDuration(s)
	if e != nil {
		return 0, fmt.Errorf("%s: %w", key, e)
	}
	return d, nil
}

func list(s string) []string {
	var rv []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			rv = append(rv, w)
		}
	}
	return rv
}

// FromViper extracts a Config from an already loaded Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{}
	var e error

	s := &c.Server
	s.URL = v.GetString("server.url")
	s.OutputURL = strings.TrimRight(v.GetString("server.outputurl"), "/")
	s.OutputPath = v.GetString("server.outputpath")
	s.Workdir = v.GetString("server.workdir")
	s.MaxSingleProcesses = v.GetInt("server.maxsingleprocesses")
	s.ParallelProcesses = v.GetInt("server.parallelprocesses")
	if s.MaxRequestSize, e = ParseSize(v.GetString("server.maxrequestsize")); e != nil {
		return nil, fmt.Errorf("server.maxrequestsize: %w", e)
	}
	s.StorageType = strings.ToLower(v.GetString("server.storagetype"))
	s.Cleanup = v.GetBool("server.cleanup")
	if s.Retention, e = duration(v, "server.retention"); e != nil {
		return nil, e
	}
	if s.PurgeInterval, e = duration(v, "server.purgeinterval"); e != nil {
		return nil, e
	}
	s.Language = v.GetString("server.language")
	s.PublicAPI = v.GetBool("server.publicapi")
	switch s.StorageType {
	case "file", "s3":
	default:
		return nil, fmt.Errorf("server.storagetype: unknown storage type %q",
			s.StorageType)
	}

	l := &c.Logging
	l.Level = v.GetString("logging.level")
	l.File = v.GetString("logging.file")
	l.Format = v.GetString("logging.format")
	l.Database = v.GetString("logging.database")
	l.PidFile = v.GetString("logging.pidfile")
	l.MaxSize = v.GetInt("logging.maxsize")
	l.MaxBackups = v.GetInt("logging.maxbackups")
	l.MaxAge = v.GetInt("logging.maxage")

	m := &c.Metadata
	m.Title = v.GetString("metadata:main.identification_title")
	m.Abstract = v.GetString("metadata:main.identification_abstract")
	m.Keywords = list(v.GetString("metadata:main.identification_keywords"))
	m.ProviderName = v.GetString("metadata:main.provider_name")
	m.ProviderURL = v.GetString("metadata:main.provider_url")
	m.ContactName = v.GetString("metadata:main.contact_name")
	m.ContactPosition = v.GetString("metadata:main.contact_position")
	m.ContactEmail = v.GetString("metadata:main.contact_email")
	m.ContactURL = v.GetString("metadata:main.contact_url")

	c.S3 = S3{
		Bucket:    v.GetString("s3.bucket"),
		Region:    v.GetString("s3.region"),
		Prefix:    strings.Trim(v.GetString("s3.prefix"), "/"),
		Endpoint:  v.GetString("s3.endpoint"),
		PublicURL: strings.TrimRight(v.GetString("s3.publicurl"), "/"),
	}
	if s.StorageType == "s3" && c.S3.Bucket == "" {
		return nil, errors.New("s3.bucket: required for storage type s3")
	}

	n := &c.Name
	n.OutputDir = v.GetString("name.outputdir")
	n.Runner = v.GetString("name.runner")
	n.Plotter = v.GetString("name.plotter")
	if n.Timeout, e = duration(v, "name.timeout"); e != nil {
		return nil, e
	}
	return c, nil
}

// ParseSize parses sizes such as 3mb, 512kb, 1gb or a plain number of
// bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"gb", 1 << 30},
		{"mb", 1 << 20},
		{"kb", 1 << 10},
		{"b", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	f, e := strconv.ParseFloat(s, 64)
	if e != nil || f < 0 {
		return 0, fmt.Errorf("bad size %q", s)
	}
	return int64(f * float64(mult)), nil
}
