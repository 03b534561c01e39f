// Copyright 2015 The Govisor Authors
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
	"sync"
	"time"
)

// DefaultTimeout bounds the plain (non-watching) requests.
const DefaultTimeout = 30 * time.Second

type LogInfo struct {
	etag    string
	Records []LogRecord
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	manager *ManagerInfo
	apps    map[string]*AppInfo
	names   []string
	etag    string // etag for list of apps
	logs    map[string]*LogInfo
	lock    sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/apps"
	}
	return c.base + "/apps/" + url.PathEscape(name)
}

// Watch waits for any change on the server.  It returns the new Etag of
// the manager, which can be passed back in to wait for the next change.
// An empty etag returns the current one without waiting.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	c.lock.Lock()
	if c.manager != nil && etag == "" {
		etag = c.manager.etag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	minfo := &ManagerInfo{}
	ntag, e := c.poll(ctx, c.base+"/", etag, MaxPollTime, minfo)
	if e != nil {
		return "", e
	}
	if ntag != "" {
		minfo.etag = ntag
		c.lock.Lock()
		c.manager = minfo
		c.lock.Unlock()
		etag = ntag
	}
	return etag, nil
}

func (c *Client) pollApps(ctx context.Context, secs int) ([]string, error) {
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	onames := c.names
	c.lock.Unlock()

	etag, e := c.poll(ctx, c.url(""), otag, secs, &v)
	if e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}

	c.lock.Lock()
	apps := make(map[string]*AppInfo)
	for _, n := range v {
		if a, ok := c.apps[n]; ok {
			apps[n] = a
		}
	}
	c.etag = etag
	c.names = v
	c.apps = apps
	c.lock.Unlock()

	return v, nil
}

// Apps returns the names of the applications known to the server.
func (c *Client) Apps(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.pollApps(ctx, 0)
}

// WatchApps waits for the list of applications to change.
func (c *Client) WatchApps(ctx context.Context) ([]string, error) {
	return c.pollApps(ctx, MaxPollTime)
}

func (c *Client) pollApp(ctx context.Context, name string, secs int, last *AppInfo) (*AppInfo, error) {
	v := &AppInfo{}
	c.lock.Lock()
	cached, ok := c.apps[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// The cache already holds something newer than last.
		return cached, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.apps, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached != nil {
			return cached, nil
		}
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.apps[name] = v
	c.lock.Unlock()
	return v, nil
}

// GetApp returns the current state of the named application.
func (c *Client) GetApp(ctx context.Context, name string) (*AppInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.pollApp(ctx, name, 0, nil)
}

// WatchApp waits until the application differs from last.
func (c *Client) WatchApp(ctx context.Context, name string, last *AppInfo) (*AppInfo, error) {
	return c.pollApp(ctx, name, MaxPollTime, last)
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
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
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
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if res.StatusCode != http.StatusOK {
		return "", responseError(res, body)
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// responseError prefers the server's own message over the status line.
func responseError(res *http.Response, body []byte) error {
	re := &Error{}
	if json.Unmarshal(body, re) == nil && re.Message != "" {
		re.Code = res.StatusCode
		return re
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, nil)
	if e != nil {
		return e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return responseError(res, body)
	}
	return nil
}

func (c *Client) postApp(ctx context.Context, name string, action string) error {
	return c.post(ctx, c.url(name)+"/"+action)
}

func (c *Client) StartApp(ctx context.Context, name string) error {
	return c.postApp(ctx, name, "start")
}

// StopApp waits for the application to be stopped, which may take as
// long as its grace period plus kill wait.
func (c *Client) StopApp(ctx context.Context, name string) error {
	return c.postApp(ctx, name, "stop")
}

func (c *Client) RestartApp(ctx context.Context, name string) error {
	return c.postApp(ctx, name, "restart")
}

// ClearApp acknowledges a leaked process so the application can be
// started again.
func (c *Client) ClearApp(ctx context.Context, name string) error {
	return c.postApp(ctx, name, "clear")
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{}

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached != nil {
			return cached, nil
		}
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for new records in the log of the named application, or
// the server's own log if name is empty.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, MaxPollTime, last)
}

func (c *Client) GetLog(ctx context.Context, name string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return c.pollLog(ctx, name, 0, nil)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = http.DefaultTransport
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
		apps:   make(map[string]*AppInfo),
		logs:   make(map[string]*LogInfo),
	}
}
