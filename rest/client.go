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

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cedadev/swallow"
)

type LogInfo struct {
	name    string
	etag    string
	Records []swallow.LogRecord
}

type Client struct {
	base   string // URI to root of tree on server
	client *http.Client

	// Cached data
	manager *ManagerInfo
	jobs    map[string]*JobInfo // job entries
	ids     []string            // job ids
	etag    string              // etag for list of jobs
	logs    map[string]*LogInfo
	lock    sync.Mutex
}

func (c *Client) url(id string) string {
	if id == "" {
		return c.base + "/jobs"
	}
	return c.base + "/jobs/" + url.PathEscape(id)
}

// Info returns the manager information, waiting up to secs seconds for
// it to differ from last.  A nil last returns at once.
func (c *Client) Info(ctx context.Context, last *ManagerInfo, secs int) (*ManagerInfo, error) {
	otag := ""
	if last == nil {
		secs = 0
	} else {
		otag = last.etag
	}
	v := &ManagerInfo{}
	etag, e := c.poll(ctx, c.base+"/info", otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.manager = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) pollJobs(ctx context.Context, secs int) ([]string, error) {

	var e error
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	etag := ""
	oids := c.ids
	c.lock.Unlock()

	if etag, e = c.poll(ctx, c.url(""), otag, secs, &v); e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return oids, nil
	}
	jobs := make(map[string]*JobInfo)

	c.lock.Lock()
	c.etag = etag
	c.ids = v
	// keep the jobs that are still there
	for _, id := range v {
		if j, ok := c.jobs[id]; ok {
			jobs[id] = j
		}
	}
	c.jobs = jobs
	c.lock.Unlock()

	return v, nil
}

// Jobs returns the ids of the jobs known to the server, oldest first.
func (c *Client) Jobs() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return c.pollJobs(ctx, 0)
}

// WatchJobs waits for the list of jobs to change.
func (c *Client) WatchJobs(ctx context.Context, secs int) ([]string, error) {
	return c.pollJobs(ctx, secs)
}

func (c *Client) pollJob(ctx context.Context, id string, secs int, last *JobInfo) (*JobInfo, error) {

	v := &JobInfo{}
	c.lock.Lock()
	ojob, ok := c.jobs[id]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
		if ok {
			otag = ojob.etag
		}
	} else if ok && last.etag != ojob.etag {
		// the cache is newer than what the caller holds
		return ojob, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(id), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.jobs, id)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if ojob == nil {
			return last, nil
		}
		return ojob, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.jobs[id] = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) GetJob(id string) (*JobInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return c.pollJob(ctx, id, 0, nil)
}

// WatchJob waits up to five minutes for the job to differ from last.
func (c *Client) WatchJob(ctx context.Context, id string, last *JobInfo) (*JobInfo, error) {
	return c.pollJob(ctx, id, 300, last)
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func readError(res *http.Response) error {
	rv := &Error{Code: res.StatusCode, Message: res.Status}
	if b, e := io.ReadAll(res.Body); e == nil {
		json.Unmarshal(b, rv)
	}
	return rv
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain")
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

// DismissJob cancels a job that has not finished.
func (c *Client) DismissJob(id string) error {
	return c.post(c.url(id) + "/dismiss")
}

func (c *Client) pollLog(ctx context.Context, id string, secs int, last *LogInfo) (*LogInfo, error) {

	v := &LogInfo{name: id}

	c.lock.Lock()
	cached, ok := c.logs[id]
	c.lock.Unlock()

	otag := ""

	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url(id) + "/log"
	if id == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, id)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[id] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits up to five minutes for the log to differ from last.
// The service log has the empty id.
func (c *Client) WatchLog(ctx context.Context, id string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, id, 300, last)
}

func (c *Client) GetLog(id string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return c.pollLog(ctx, id, 0, nil)
}

// Requests returns the newest entries of the request log.  A limit of
// zero returns all of them.
func (c *Client) Requests(limit int) ([]*Request, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	v := []*Request{}
	u := c.base + "/requests?limit=" + strconv.Itoa(limit)
	if _, e := c.poll(ctx, u, "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// GetRequest returns a single entry of the request log.
func (c *Client) GetRequest(uuid string) (*Request, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	v := &Request{}
	if _, e := c.poll(ctx, c.base+"/requests/"+url.PathEscape(uuid), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is where the API is mounted.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
		jobs:   make(map[string]*JobInfo),
		logs:   make(map[string]*LogInfo),
	}
	return c
}
