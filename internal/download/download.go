// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package download streams HTTP response bodies to files.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// PartSuffix is appended to the destination while a download is in flight.
const PartSuffix = ".part"

// ProgressFunc receives the cumulative byte count and the expected total
// (-1 when the server did not send Content-Length).
type ProgressFunc func(downloaded, total int64)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// NewHTTPClient creates an HTTP client with sensible defaults.
// No overall timeout is set; cancellation goes through the request context.
func NewHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// ToFile performs req and writes the body to dst. The body is first written
// to dst+PartSuffix and renamed once complete, so dst only ever holds a fully
// transferred file. The partial file is removed on any failure.
func ToFile(ctx context.Context, httpc *http.Client, req *http.Request, dst string, progress ProgressFunc) (err error) {
	if httpc == nil {
		httpc = NewHTTPClient()
	}
	resp, err := httpc.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	tmp := dst + PartSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	var body io.Reader = resp.Body
	if progress != nil {
		body = NewProgressReader(resp.Body, resp.ContentLength, progress)
	}
	if _, err = io.Copy(out, body); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// ProgressReader wraps an io.Reader and reports cumulative progress,
// at most every interval plus once at EOF.
type ProgressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	report     ProgressFunc
	lastEmit   time.Time
	interval   time.Duration
}

// NewProgressReader creates a ProgressReader emitting at most 5 times per second.
func NewProgressReader(r io.Reader, total int64, report ProgressFunc) *ProgressReader {
	return &ProgressReader{
		reader:   r,
		total:    total,
		report:   report,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
	}
	if (n > 0 && time.Since(pr.lastEmit) >= pr.interval) || err == io.EOF {
		pr.report(pr.downloaded, pr.total)
		pr.lastEmit = time.Now()
	}
	return n, err
}
