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

package swallow

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// JobStore persists job state, for example into the request log database.
type JobStore interface {
	Record(ctx context.Context, info *JobInfo) error
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// StatusSink receives every change of a stored job.  The WPS server uses
// it to rewrite the status document at the status location.
type StatusSink interface {
	WriteStatus(ctx context.Context, info *JobInfo) error
}

// OutputStore keeps complex outputs that are returned by reference.
type OutputStore interface {
	Store(ctx context.Context, jobID, name, path string) (string, error)
	RemoveJob(ctx context.Context, jobID string) error
}

// Recorder is told about every status transition.  From is empty for a
// new job.  The duration is the run time of jobs that finished after
// having started.
type Recorder interface {
	JobTransition(process string, from, to Status, d time.Duration)
}

// OutputRequest selects an output in an Execute request.
type OutputRequest struct {
	Identifier  string
	AsReference bool
	MimeType    string
}

// SubmitOptions control how a job runs.  Async implies Store.
type SubmitOptions struct {
	Async   bool
	Store   bool
	Outputs []OutputRequest
}

type Manager struct {
	name       string
	procs      map[string]Process
	jobs       map[string]*Job
	logger     *zap.Logger
	log        *Log
	store      JobStore
	sink       StatusSink
	outputs    OutputStore
	recorder   Recorder
	workdir    string
	cleanup    bool
	maxSingle  int
	running    int
	slots      chan struct{}
	sched      gocron.Scheduler
	closed     bool
	serial     int64
	listSerial int64
	listStamp  time.Time
	createTime time.Time
	updateTime time.Time
	wg         sync.WaitGroup
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	UpdateTime time.Time `json:"updateTime"`
	CreateTime time.Time `json:"createTime"`
	Processes  []string  `json:"processes"`
	Jobs       int       `json:"jobs"`
	Running    int       `json:"running"`
	Queued     int       `json:"queued"`
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// NB: If the lock is not held here, then there is a risk
	// that the woken goroutines won't get see the updated
	// serial number!!
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  It returns
// the new serial number, so that it can be stored in jobs.
// Call with lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	rv := m.serial
	m.wakeUp()
	return rv
}

// watchSerial monitors for a change in a specific serial number.  It returns
// the new serial number when it changes.  If the serial number has not
// changed in the given duration then the old value is returned.  A poll
// can be done by supplying 0 for the expiration.
func (m *Manager) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer
	var rv int64

	// Schedule timeout
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	for {
		rv = *src
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(m.cvs, cv)
	m.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial monitors for a change in the global serial number.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.serial, expire)
}

// WatchJobs monitors for a change in the list of jobs.
func (m *Manager) WatchJobs(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, &m.listSerial, expire)
}

// Serial returns the global serial number.  This is incremented
// anytime a job changes.
func (m *Manager) Serial() int64 {
	m.lock()
	rv := m.serial
	m.unlock()
	return rv
}

// Name returns the name the manager was allocated with.  It appears in
// logged messages and in the capabilities document.
func (m *Manager) Name() string {
	return m.name
}

// GetInfo returns top-level information about the Manager.  This is done
// in a manner that ensures that the info is consistent.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	i := &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
		Jobs:       len(m.jobs),
	}
	for id := range m.procs {
		i.Processes = append(i.Processes, id)
	}
	for _, j := range m.jobs {
		switch j.status {
		case StatusStarted:
			i.Running++
		case StatusAccepted:
			i.Queued++
		}
	}
	m.unlock()
	sort.Strings(i.Processes)
	return i
}

// SetLogger replaces the service logger.  Jobs created afterwards log
// through it as well as into their own log.
func (m *Manager) SetLogger(l *zap.Logger) {
	m.lock()
	m.logger = l
	m.unlock()
}

// SetLog replaces the in-memory log served by GetLog.  It should be the
// log that the logger passed to SetLogger writes into.
func (m *Manager) SetLog(l *Log) {
	m.lock()
	m.log = l
	m.unlock()
}

func (m *Manager) SetStore(s JobStore) {
	m.store = s
}

func (m *Manager) SetStatusSink(s StatusSink) {
	m.sink = s
}

func (m *Manager) SetOutputStore(s OutputStore) {
	m.outputs = s
}

func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// SetLimits sets the number of synchronous jobs that may run at once,
// and the number of asynchronous jobs that may run at once.  Zero means
// unlimited.
func (m *Manager) SetLimits(maxSingle, parallel int) {
	m.lock()
	m.maxSingle = maxSingle
	if parallel > 0 {
		m.slots = make(chan struct{}, parallel)
	} else {
		m.slots = nil
	}
	m.unlock()
}

// SetWorkdir sets the directory under which each job gets its own
// working directory.  When cleanup is set, that directory is removed
// once the job finishes.
func (m *Manager) SetWorkdir(dir string, cleanup bool) {
	m.lock()
	m.workdir = dir
	m.cleanup = cleanup
	m.unlock()
}

// AddProcess registers a process.
func (m *Manager) AddProcess(p Process) error {
	id := p.Describe().Identifier
	m.lock()
	defer m.unlock()
	if _, ok := m.procs[id]; ok {
		return ErrDuplicate
	}
	m.procs[id] = p
	m.bumpSerial()
	return nil
}

// Processes returns every registered process, ordered by identifier.
func (m *Manager) Processes() []Process {
	m.lock()
	rv := make([]Process, 0, len(m.procs))
	for _, p := range m.procs {
		rv = append(rv, p)
	}
	m.unlock()
	sort.Slice(rv, func(i, j int) bool {
		return rv[i].Describe().Identifier < rv[j].Describe().Identifier
	})
	return rv
}

func (m *Manager) FindProcess(id string) (Process, error) {
	m.lock()
	defer m.unlock()
	if p, ok := m.procs[id]; ok {
		return p, nil
	}
	return nil, ErrNoProcess
}

// Jobs returns all known jobs, oldest first, together with the serial
// and time of the last change to the list.
func (m *Manager) Jobs() ([]*Job, int64, time.Time) {
	m.lock()
	rv := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		rv = append(rv, j)
	}
	ts := m.listStamp
	sn := m.listSerial
	m.unlock()
	sort.Slice(rv, func(a, b int) bool {
		if rv[a].created.Equal(rv[b].created) {
			return rv[a].id < rv[b].id
		}
		return rv[a].created.Before(rv[b].created)
	})
	return rv, sn, ts
}

func (m *Manager) FindJob(id string) (*Job, error) {
	m.lock()
	defer m.unlock()
	if j, ok := m.jobs[id]; ok {
		return j, nil
	}
	return nil, ErrNoJob
}

// Dismiss cancels a job.  Queued jobs never start, running jobs see their
// context cancelled.
func (m *Manager) Dismiss(id string) error {
	j, e := m.FindJob(id)
	if e != nil {
		return e
	}
	if !j.dismiss() {
		return ErrJobFinished
	}
	j.logger.Info("job dismissed")
	return nil
}

func (m *Manager) checkOutputs(d *ProcessDescription, want []OutputRequest) error {
	for _, r := range want {
		o := d.Output(r.Identifier)
		if o == nil {
			return InvalidParameter(r.Identifier,
				"Unknown output %s for process %s", r.Identifier,
				d.Identifier)
		}
		if r.MimeType != "" && o.Kind == ComplexOutput &&
			!o.SupportsFormat(r.MimeType) {
			return InvalidParameter(r.Identifier,
				"Output %s does not support mime type %s",
				r.Identifier, r.MimeType)
		}
	}
	return nil
}

// Submit validates the inputs and runs a new job.  Synchronous jobs have
// finished when Submit returns; asynchronous jobs are returned at once,
// still accepted.  A failing process does not make Submit fail, the
// failure is recorded in the job.  Errors are returned only when no job
// could be created, and are *Exception values unless the manager is
// shutting down.
func (m *Manager) Submit(ctx context.Context, id string, inputs []Input, opts SubmitOptions) (*Job, error) {
	p, e := m.FindProcess(id)
	if e != nil {
		return nil, InvalidParameter("Identifier", "Unknown process %s", id)
	}
	d := p.Describe()
	if opts.Async {
		opts.Store = true
		if !d.StatusSupported {
			return nil, InvalidParameter("status",
				"Process %s does not support status updates",
				d.Identifier)
		}
	}
	if opts.Store && !d.StoreSupported {
		return nil, NewException(StorageNotSupported,
			"storeExecuteResponse",
			"Process %s does not support storing the response",
			d.Identifier)
	}
	if e := m.checkOutputs(d, opts.Outputs); e != nil {
		return nil, e
	}
	values, e := ParseInputs(d, inputs)
	if e != nil {
		return nil, e
	}

	m.lock()
	if m.closed {
		m.unlock()
		return nil, ErrShuttingDown
	}
	if !opts.Async {
		if m.maxSingle > 0 && m.running >= m.maxSingle {
			m.unlock()
			return nil, NewException(ServerBusy, "",
				"Maximum number of parallel running processes reached. "+
					"Please try later.")
		}
		m.running++
	}
	m.wg.Add(1)
	m.unlock()

	j, e := m.newJob(ctx, p, d, values, inputs, opts)
	if e != nil {
		m.lock()
		if !opts.Async {
			m.running--
		}
		m.unlock()
		m.wg.Done()
		return nil, NewException(NoApplicableCode, "",
			"Cannot create job: %v", e)
	}

	if opts.Async {
		go func() {
			defer m.wg.Done()
			defer close(j.done)
			if !m.acquire(j) {
				return
			}
			defer m.release()
			m.run(j)
		}()
		return j, nil
	}

	m.run(j)
	close(j.done)
	m.lock()
	m.running--
	m.unlock()
	m.wg.Done()
	return j, nil
}

func (m *Manager) newJob(ctx context.Context, p Process, d *ProcessDescription, values map[string][]interface{}, inputs []Input, opts SubmitOptions) (*Job, error) {
	id := uuid.NewString()

	m.lock()
	base := m.workdir
	parent := m.logger
	m.unlock()
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "swallow_"+id)
	if e := os.MkdirAll(dir, 0o755); e != nil {
		return nil, e
	}

	j := &Job{
		id:      id,
		proc:    p,
		desc:    d,
		mgr:     m,
		async:   opts.Async,
		store:   opts.Store,
		want:    opts.Outputs,
		status:  StatusAccepted,
		message: "Process accepted",
		created: time.Now(),
		workdir: dir,
		log:     NewLog(),
		done:    make(chan struct{}),
	}
	if opts.Async {
		// an asynchronous job outlives the request that created it
		ctx = context.WithoutCancel(ctx)
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.logger = teeLogger(parent, j.log).With(zap.String("job", id),
		zap.String("process", d.Identifier))

	j.req = NewRequest(d.Identifier, values)
	j.req.JobID = id
	j.req.Workdir = dir
	j.req.raw = append([]Input{}, inputs...)
	j.req.logger = j.logger
	j.resp = NewResponse(d)
	j.resp.job = j

	m.lock()
	m.jobs[id] = j
	m.listSerial = m.bumpSerial()
	j.serial = m.bumpSerial()
	m.listStamp = time.Now()
	info := j.info()
	m.unlock()

	if m.recorder != nil {
		m.recorder.JobTransition(d.Identifier, "", StatusAccepted, 0)
	}
	j.logger.Info("job accepted", zap.Bool("async", opts.Async))
	m.publish(info)
	return j, nil
}

func (m *Manager) acquire(j *Job) bool {
	m.lock()
	slots := m.slots
	m.unlock()
	if slots == nil {
		return true
	}
	select {
	case slots <- struct{}{}:
		return true
	case <-j.ctx.Done():
		return false
	}
}

func (m *Manager) release() {
	m.lock()
	slots := m.slots
	m.unlock()
	if slots != nil {
		select {
		case <-slots:
		default:
		}
	}
}

func (m *Manager) run(j *Job) {
	if !j.start() {
		return
	}
	e := m.execute(j)
	var outs []OutputValue
	if e == nil {
		outs, e = m.collect(j)
	}
	if e != nil {
		j.logger.Warn("job failed", zap.Error(e))
	} else {
		j.logger.Info("job succeeded")
	}
	j.finish(outs, e)

	m.lock()
	cleanup := m.cleanup
	m.unlock()
	if cleanup {
		if e := os.RemoveAll(j.workdir); e != nil {
			j.logger.Warn("cannot remove working directory", zap.Error(e))
		}
	}
}

func (m *Manager) execute(j *Job) (e error) {
	defer func() {
		if r := recover(); r != nil {
			e = NewException(NoApplicableCode, "",
				"Process %s failed: %v", j.desc.Identifier, r)
		}
	}()
	return j.proc.Execute(j.ctx, j.req, j.resp)
}

var extensions = map[string]string{
	"text/plain":               ".txt",
	"text/xml":                 ".xml",
	"application/xml":          ".xml",
	"application/json":         ".json",
	"application/zip":          ".zip",
	"application/x-zipped-shp": ".zip",
	"image/png":                ".png",
	"image/tiff":               ".tif",
	"image/geotiff":            ".tif",
	"application/netcdf":       ".nc",
}

// textual reports whether outputs of the mime type are sent inline as
// text rather than base64.
func textual(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case strings.HasSuffix(mime, "json"), strings.HasSuffix(mime, "xml"):
		return true
	}
	return false
}

func (m *Manager) storeOutput(j *Job, v OutputValue) (OutputValue, error) {
	path := v.File
	if path == "" {
		ext, ok := extensions[v.MimeType]
		if !ok {
			ext = ".dat"
		}
		path = filepath.Join(j.workdir, v.Identifier+ext)
		if e := os.WriteFile(path, []byte(v.Data), 0o644); e != nil {
			return v, e
		}
	}
	href, e := m.outputs.Store(j.ctx, j.id, filepath.Base(path), path)
	if e != nil {
		return v, NewException(NotEnoughStorage, v.Identifier,
			"Cannot store output %s: %v", v.Identifier, e)
	}
	v.File = path
	v.Data = ""
	v.Href = href
	return v, nil
}

func inlineOutput(v OutputValue) (OutputValue, error) {
	if v.File == "" {
		return v, nil
	}
	b, e := os.ReadFile(v.File)
	if e != nil {
		return v, fmt.Errorf("output %s: %w", v.Identifier, e)
	}
	if textual(v.MimeType) {
		v.Data = string(b)
	} else {
		v.Data = base64.StdEncoding.EncodeToString(b)
		v.Encoding = "base64"
	}
	return v, nil
}

// collect turns what the process produced into the outputs of the job,
// storing the ones returned by reference.
func (m *Manager) collect(j *Job) ([]OutputValue, error) {
	want := make(map[string]OutputRequest)
	for _, r := range j.want {
		want[r.Identifier] = r
	}
	var rv []OutputValue
	for _, v := range j.resp.Outputs() {
		o := j.desc.Output(v.Identifier)
		ref := o.AsReference
		if len(want) != 0 {
			r, ok := want[v.Identifier]
			if !ok {
				continue
			}
			ref = r.AsReference
		}
		if o.Kind == ComplexOutput {
			var e error
			if ref && m.outputs != nil {
				v, e = m.storeOutput(j, v)
			} else {
				v, e = inlineOutput(v)
			}
			if e != nil {
				return nil, e
			}
		}
		rv = append(rv, v)
	}
	return rv, nil
}

func (m *Manager) publish(info *JobInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if m.store != nil {
		if e := m.store.Record(ctx, info); e != nil {
			m.logger.Warn("cannot record job", zap.String("job", info.ID),
				zap.Error(e))
		}
	}
	if m.sink != nil && info.Stored {
		if e := m.sink.WriteStatus(ctx, info); e != nil {
			m.logger.Warn("cannot write status", zap.String("job", info.ID),
				zap.Error(e))
		}
	}
}

// Purge forgets finished jobs older than the retention period, and
// removes their stored outputs.  It returns the number of jobs removed.
func (m *Manager) Purge(ctx context.Context, retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	var old []*Job
	m.lock()
	for id, j := range m.jobs {
		if j.status.Finished() && j.finished.Before(cutoff) {
			old = append(old, j)
			delete(m.jobs, id)
		}
	}
	if len(old) != 0 {
		m.listSerial = m.bumpSerial()
		m.listStamp = time.Now()
	}
	m.unlock()

	for _, j := range old {
		if m.outputs != nil {
			if e := m.outputs.RemoveJob(ctx, j.id); e != nil {
				m.logger.Warn("cannot remove outputs",
					zap.String("job", j.id), zap.Error(e))
			}
		}
		os.RemoveAll(j.workdir)
	}
	if m.store != nil {
		if n, e := m.store.DeleteBefore(ctx, cutoff); e != nil {
			m.logger.Warn("cannot purge request log", zap.Error(e))
		} else if n > 0 {
			m.logger.Info("purged request log", zap.Int64("rows", n))
		}
	}
	if len(old) != 0 {
		m.logger.Info("purged jobs", zap.Int("count", len(old)))
	}
	return len(old)
}

// StartPurging purges expired jobs every interval.
func (m *Manager) StartPurging(interval, retention time.Duration) error {
	s, e := gocron.NewScheduler()
	if e != nil {
		return e
	}
	_, e = s.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(func() {
			m.Purge(context.Background(), retention)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
	if e != nil {
		s.Shutdown()
		return e
	}
	m.lock()
	old := m.sched
	m.sched = s
	m.unlock()
	if old != nil {
		old.Shutdown()
	}
	s.Start()
	m.logger.Info("purging expired jobs", zap.Duration("interval", interval),
		zap.Duration("retention", retention))
	return nil
}

func (m *Manager) StopPurging() {
	m.lock()
	s := m.sched
	m.sched = nil
	m.unlock()
	if s != nil {
		s.Shutdown()
	}
}

// Shutdown fails every unfinished job, cancels the running ones, and waits
// for their processes to return, or for ctx to expire.  No new jobs are
// accepted afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopPurging()
	m.lock()
	m.closed = true
	var live []*Job
	for _, j := range m.jobs {
		if !j.status.Finished() {
			live = append(live, j)
		}
	}
	m.unlock()

	for _, j := range live {
		j.finish(nil, ErrShuttingDown)
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info(fmt.Sprintf("*** %s shut down ***", m.name))
	return nil
}

func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	m.lock()
	l := m.log
	m.unlock()
	return l.GetRecords(lastid)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	m.lock()
	l := m.log
	m.unlock()
	return l.Watch(old, expire)
}

func NewManager(name string) *Manager {
	if name == "" {
		name = "swallow"
	}
	// We set the origin serial number to the current timestamp in nsec.
	// The assumption here is that we won't have changes to serial number
	// occur at frequency > 1GHz.  Hence, it should be safe for us to use
	// these as unique values, and this may help clients that cache force
	// an invalidation if the server for some reason restarts.
	m := &Manager{name: name, serial: time.Now().UnixNano()}
	m.listSerial = m.serial
	m.procs = make(map[string]Process)
	m.jobs = make(map[string]*Job)
	m.cvs = make(map[*sync.Cond]bool)
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.listStamp = m.createTime
	m.log = NewLog()
	m.logger = zap.New(zapcore.NewCore(newEncoder("text"), m.log,
		zapcore.DebugLevel))
	m.cleanup = true
	return m
}
