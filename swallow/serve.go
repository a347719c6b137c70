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
	"net"
	"net/http"
	neturl "net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
	"github.com/cedadev/swallow/daemon"
	"github.com/cedadev/swallow/metrics"
	"github.com/cedadev/swallow/processes"
	"github.com/cedadev/swallow/rest"
	"github.com/cedadev/swallow/storage"
	"github.com/cedadev/swallow/store"
	"github.com/cedadev/swallow/wps"
)

// shutdownTimeout bounds how long running jobs get to return on exit.
const shutdownTimeout = 30 * time.Second

type StartCmd struct {
	BindHost       string `short:"b" default:"127.0.0.1" help:"Address the server listens on. WPS, the outputs and the metrics are served to every client that reaches it, the admin API only to local ones unless --public-api is given."`
	Hostname       string `default:"${default_host}" help:"Host name used in the service URLs."`
	Port           int    `short:"p" default:"${default_port}" help:"Port the server listens on."`
	Daemon         bool   `short:"d" help:"Run in the background."`
	MaxConnections int    `default:"256" help:"Concurrent connections served."`
	PublicAPI      bool   `help:"Serve the unauthenticated admin API, which can dismiss jobs, to remote clients too."`

	LogLevel           string `help:"Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL."`
	LogFile            string `help:"Log file, or stdout."`
	Database           string `help:"SQLite database recording the requests."`
	Outputpath         string `name:"outputpath" help:"Directory of stored outputs."`
	Workdir            string `name:"workdir" help:"Directory holding the working directories of jobs."`
	Maxsingleprocesses int    `name:"maxsingleprocesses" help:"Jobs accepted at once."`
	Parallelprocesses  int    `name:"parallelprocesses" help:"Jobs running at once."`
}

// overrides are the configuration keys set by flags.
func (c *StartCmd) overrides() map[string]interface{} {
	o := make(map[string]interface{})
	set := func(key, v string) {
		if v != "" {
			o[key] = v
		}
	}
	set("logging.level", c.LogLevel)
	set("logging.file", c.LogFile)
	set("logging.database", c.Database)
	set("server.outputpath", c.Outputpath)
	set("server.workdir", c.Workdir)
	if c.Maxsingleprocesses > 0 {
		o["server.maxsingleprocesses"] = c.Maxsingleprocesses
	}
	if c.Parallelprocesses > 0 {
		o["server.parallelprocesses"] = c.Parallelprocesses
	}
	if c.PublicAPI {
		o["server.publicapi"] = true
	}
	return o
}

func (c *StartCmd) Run(cli *CLI) error {
	cfg, e := config.Load(config.Options{
		Path:      cli.Config,
		Hostname:  c.Hostname,
		Port:      c.Port,
		Overrides: c.overrides(),
	})
	if e != nil {
		return e
	}
	if cfg.Source != "" {
		fmt.Printf("loading configuration from %s\n", cfg.Source)
	} else {
		fmt.Println("using default configuration")
	}
	pid := cli.pidFile(cfg)

	if c.Daemon && !daemon.IsChild() {
		p, e := daemon.Fork(daemon.Options{
			Args:    os.Args[1:],
			Output:  daemon.DefaultOutput(cfg.Logging.File),
			PidFile: pid,
			Stdout:  os.Stdout,
		})
		if e != nil {
			return e
		}
		return p.Release()
	}

	addr := net.JoinHostPort(c.BindHost, strconv.Itoa(c.Port))
	return serve(cfg, addr, pid, c.MaxConnections, !daemon.IsChild())
}

// service is everything behind the listener.
type service struct {
	mgr     *swallow.Manager
	handler http.Handler
	closers []io.Closer
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func outputPrefix(c *config.Config) string {
	u, e := neturl.Parse(c.Server.OutputURL)
	if e != nil || u.Path == "" {
		return "/outputs/"
	}
	return u.Path
}

// newService assembles the manager, its processes, and the handlers of
// the WPS endpoint, the stored outputs, the metrics and the admin API.
func newService(cfg *config.Config, logger *zap.Logger, log *swallow.Log) (*service, error) {
	s := &service{}
	m := swallow.NewManager(config.ApplicationName)
	m.SetLogger(logger)
	if log != nil {
		m.SetLog(log)
	}

	var db *store.SQLiteStore
	if cfg.Logging.Database != "" {
		var e error
		if db, e = store.Open(cfg.Logging.Database); e != nil {
			return nil, e
		}
		s.closers = append(s.closers, db)
		if n, e := db.RecoverStale(context.Background()); e != nil {
			logger.Warn("cannot recover request log", zap.Error(e))
		} else if n > 0 {
			logger.Info("marked interrupted requests as failed",
				zap.Int64("count", n))
		}
		m.SetStore(db)
	}

	out, e := storage.New(cfg)
	if e != nil {
		s.Close()
		return nil, e
	}
	m.SetOutputStore(out)

	rec := metrics.NewRecorder(nil)
	m.SetRecorder(rec)
	m.SetLimits(cfg.Server.MaxSingleProcesses, cfg.Server.ParallelProcesses)
	m.SetWorkdir(cfg.Server.Workdir, cfg.Server.Cleanup)
	if e := processes.Register(m, processes.FromConfig(cfg)); e != nil {
		s.Close()
		return nil, e
	}

	srv := wps.NewServer(m, wps.Options{
		URL:            cfg.Server.URL,
		Language:       cfg.Server.Language,
		MaxRequestSize: cfg.Server.MaxRequestSize,
		Metadata:       cfg.Metadata,
		Storage:        out,
		Metrics:        rec,
		Logger:         logger,
	})
	m.SetStatusSink(srv)

	r := mux.NewRouter()
	srv.Register(r, outputPrefix(cfg))
	r.Handle("/metrics", rec.Handler()).Methods("GET")
	api := rest.NewHandler(m, "/api")
	if db != nil {
		api.SetRequestLog(db)
	}
	var apiHandler http.Handler = api
	if !cfg.Server.PublicAPI {
		apiHandler = loopbackOnly(api)
	}
	r.PathPrefix("/api/").Handler(apiHandler)

	s.mgr = m
	s.handler = alice.New(recoverer(logger), accessLog(logger),
		rec.Middleware).Then(r)
	return s, nil
}

// serve runs the server until a signal arrives.  The PID file is held
// while serving.
func serve(cfg *config.Config, addr string, pid daemon.PidFile, conns int, console bool) error {
	logger, log, closer, e := swallow.NewLogger(swallow.LogOptions{
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Console:    console,
	})
	if e != nil {
		return e
	}
	defer closer.Close()
	defer logger.Sync()

	me := os.Getpid()
	if e := pid.Claim(me); e != nil {
		return e
	}
	defer pid.Release(me)

	s, e := newService(cfg, logger, log)
	if e != nil {
		logger.Error("cannot start", zap.Error(e))
		return e
	}
	defer s.Close()

	l, e := net.Listen("tcp", addr)
	if e != nil {
		return e
	}
	if conns > 0 {
		l = netutil.LimitListener(l, conns)
	}

	if cfg.Server.PurgeInterval > 0 && cfg.Server.Retention > 0 {
		if e := s.mgr.StartPurging(cfg.Server.PurgeInterval,
			cfg.Server.Retention); e != nil {
			logger.Warn("cannot schedule purging", zap.Error(e))
		}
	}

	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Minute,
		ErrorLog:          zap.NewStdLog(logger),
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	errs := make(chan error, 1)
	go func() {
		errs <- hs.Serve(l)
	}()
	logger.Info("serving", zap.String("address", addr),
		zap.String("url", cfg.Server.URL), zap.Int("pid", me))

	select {
	case sig := <-sigs:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case e = <-errs:
		logger.Error("server failed", zap.Error(e))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hs.Shutdown(ctx)
	if err := s.mgr.Shutdown(ctx); err != nil {
		logger.Warn("jobs did not stop", zap.Error(err))
	}
	if errors.Is(e, http.ErrServerClosed) {
		e = nil
	}
	return e
}
