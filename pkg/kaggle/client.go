// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kaggle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/newskylabs/kkrdata/internal/download"
)

// DefaultEndpoint is the public Kaggle API host.
const DefaultEndpoint = "https://www.kaggle.com"

// Options configures a Client. All fields are optional.
type Options struct {
	// Endpoint overrides DefaultEndpoint (useful for tests and proxies).
	Endpoint string

	// ConfigDir is where kaggle.json is looked up. Defaults to ConfigDir().
	ConfigDir string

	// Credentials, when both fields are set, bypass env and file lookup.
	Credentials Credentials

	// HTTPClient is used for all requests. Defaults to a client without
	// an overall timeout.
	HTTPClient *http.Client

	// UserAgent is sent with every request.
	UserAgent string
}

// File describes one file of a competition's data set.
type File struct {
	Ref          string `json:"ref"`
	Name         string `json:"name"`
	TotalBytes   int64  `json:"totalBytes"`
	CreationDate string `json:"creationDate,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Client talks to the Kaggle competitions API.
//
// Credentials are loaded once per Client by Authenticate; every other call
// authenticates implicitly.
type Client struct {
	opts  Options
	httpc *http.Client

	authOnce sync.Once
	creds    Credentials
	authErr  error
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = download.NewHTTPClient()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "kkrdata/1"
	}
	return &Client{opts: opts, httpc: httpc}
}

// Authenticate loads credentials. The result, success or failure, is
// memoized for the lifetime of the client.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.authOnce.Do(func() {
		c.creds, c.authErr = LoadCredentials(c.opts.Credentials, c.opts.ConfigDir)
	})
	return c.authErr
}

// ListFiles returns the data files of a competition.
func (c *Client) ListFiles(ctx context.Context, competition string) ([]File, error) {
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, "GET", "/api/v1/competitions/data/list/"+url.PathEscape(competition))
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeFiles(body)
}

// DownloadArchive downloads the full data archive of a competition to dst.
// The transfer goes through dst+".part" and is renamed on completion.
func (c *Client) DownloadArchive(ctx context.Context, competition, dst string, progress func(downloaded, total int64)) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, "GET", "/api/v1/competitions/data/download-all/"+url.PathEscape(competition))
	if err != nil {
		return err
	}
	err = download.ToFile(ctx, c.httpc, req, dst, progress)
	var se *download.StatusError
	if errors.As(err, &se) {
		return &APIError{StatusCode: se.StatusCode, Status: se.Status, URL: se.URL}
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	ep := c.opts.Endpoint
	if ep == "" {
		ep = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(ep, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Key)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	return req, nil
}

func apiError(resp *http.Response) error {
	e := &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: resp.Request.URL.String()}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &msg) == nil {
		e.Message = msg.Message
	}
	return e
}

// decodeFiles accepts both the legacy bare array and the paged
// {"files": [...]} response shape.
func decodeFiles(body []byte) ([]File, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var files []File
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return nil, fmt.Errorf("decode file list: %w", err)
		}
		return files, nil
	}
	var paged struct {
		Files []File `json:"files"`
	}
	if err := json.Unmarshal(trimmed, &paged); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return paged.Files, nil
}
