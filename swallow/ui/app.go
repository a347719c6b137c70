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

// Package ui is the terminal monitor of a swallow server.  It follows the
// jobs through the admin API and lets the operator read their logs and
// dismiss them.
package ui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"go.uber.org/zap"

	"github.com/cedadev/swallow/rest"
	"github.com/cedadev/swallow/swallow/util"
)

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	client    *rest.Client
	server    string
	version   string
	logger    *zap.Logger
	err       error
	items     []*rest.JobInfo
	logID     string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(id string) {
	a.info.SetJob(id)
	a.show(a.info)
}

// ShowLog follows the log of a job, or of the server for the empty id.
func (a *App) ShowLog(id string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	a.logInfo = nil
	a.logErr = nil
	a.logID = id
	a.logCancel = cancel
	a.log.SetJob(id)
	go a.refreshLog(ctx, id)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) DismissJob(id string) {
	go func() {
		if e := a.client.DismissJob(id); e != nil {
			a.logger.Warn("dismiss failed", zap.String("job", id),
				zap.Error(e))
		}
	}()
}

func (a *App) Quit() {
	// returns at once; Run ends on the event loop
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "Swallow " + a.version
}

// NewApp returns the monitor for the API at client.  Server is shown in
// the title of every screen.
func NewApp(client *rest.Client, server, version string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		app:     &views.Application{},
		client:  client,
		server:  server,
		version: version,
		logger:  logger,
	}
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.panel = app.main
	return app
}

func (a *App) getItems() ([]*rest.JobInfo, error) {
	ids, e := a.client.Jobs()
	if e != nil {
		return nil, e
	}
	items := make([]*rest.JobInfo, 0, len(ids))
	for _, id := range ids {
		item, e := a.client.GetJob(id)
		if e == nil {
			items = append(items, item)
		}
	}
	util.SortJobs(items)
	return items, nil
}

// refresh keeps the items current.  Any change to any job changes the
// manager information, so that is what is watched.
func (a *App) refresh(ctx context.Context) {
	var last *rest.ManagerInfo
	for {
		items, err := a.getItems()

		a.app.PostFunc(func() {
			a.items = items
			a.err = err
			a.app.Update()
		})
		wctx, cancel := context.WithTimeout(ctx, time.Minute*10)
		var e error
		last, e = a.client.Info(wctx, last, 300)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if e != nil {
			a.logger.Debug("watch failed", zap.Error(e))
			last = nil
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context, id string) {
	info, e := a.client.GetLog(id)

	for {
		shown, err := info, e
		a.app.PostFunc(func() {
			if a.logID == id {
				a.logInfo = shown
				a.logErr = err
				a.app.Update()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog(id)
			continue
		}
		var next *rest.LogInfo
		if next, e = a.client.WatchLog(ctx, id, info); e == nil && next != nil {
			info = next
		}
	}
}

func (a *App) GetItems() ([]*rest.JobInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(id string) (*rest.JobInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, errors.New("Job not found")
}

func (a *App) GetLog(id string) (*rest.LogInfo, error) {
	if a.logID == id {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

// Run shows the jobs until the user quits.
func (a *App) Run() error {
	a.logger.Info("starting monitor", zap.String("server", a.server))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.refresh(ctx)

	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates, for the ages of the jobs
		for ctx.Err() == nil {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	e := a.app.Run()
	if a.logCancel != nil {
		a.logCancel()
	}
	return e
}
