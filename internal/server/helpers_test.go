// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

func fontZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"NotoSansCJKjp-Regular.otf": "OTTO-regular",
		"NotoSansCJKjp-Bold.otf":    "OTTO-bold",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// archiveServer serves body for every request. When gate is non-nil each
// request blocks until gate is closed.
func archiveServer(t *testing.T, body []byte, status int, gate chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResolver(t *testing.T, fontURL string) *datacache.Resolver {
	t.Helper()
	cat := datacache.DefaultCatalog()
	if fontURL != "" {
		cat = cat.WithURL(datacache.FontArchive, fontURL)
	}
	r, err := datacache.New(datacache.Config{Dir: t.TempDir(), Catalog: cat})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newTestServer(t *testing.T, fontURL string) *Server {
	t.Helper()
	srv := New(Config{Addr: "127.0.0.1", Version: "test"}, newTestResolver(t, fontURL), nil)
	go srv.wsHub.Run()
	t.Cleanup(srv.jobs.Close)
	return srv
}
