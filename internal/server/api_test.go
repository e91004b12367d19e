// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("Expected version test, got %v", resp["version"])
	}
}

func TestAPI_ListResources(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/resources", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Resources []struct {
			Name   string `json:"name"`
			Cached bool   `json:"cached"`
		} `json:"resources"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 6 || len(resp.Resources) != 6 {
		t.Fatalf("Expected 6 resources, got %d", resp.Count)
	}
	if resp.Resources[0].Name != "font" {
		t.Errorf("Expected resources sorted by name, first is %s", resp.Resources[0].Name)
	}
	for _, r := range resp.Resources {
		if r.Cached {
			t.Errorf("Expected %s to be uncached in an empty cache", r.Name)
		}
	}
}

func TestAPI_GetResource(t *testing.T) {
	srv := newTestServer(t, "")

	t.Run("known resource", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/resources/translation", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var st map[string]any
		json.Unmarshal(w.Body.Bytes(), &st)
		if st["member"] != "unicode_translation.csv" {
			t.Errorf("Expected member unicode_translation.csv, got %v", st["member"])
		}
	})

	t.Run("unknown resource", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/resources/glyphs", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", w.Code)
		}
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Kind != "unknown_resource" {
			t.Errorf("Expected kind unknown_resource, got %q", resp.Kind)
		}
	})
}

func TestAPI_ResolveWait(t *testing.T) {
	archive := archiveServer(t, fontZip(t), http.StatusOK, nil)
	srv := newTestServer(t, archive.URL+"/font.zip")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/resources/font/resolve?wait=true", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Job.Status != JobStatusCompleted {
		t.Errorf("Expected completed job, got %s", resp.Job.Status)
	}
	b, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatalf("resolved path not readable: %v", err)
	}
	if string(b) != "OTTO-regular" {
		t.Errorf("Unexpected font contents %q", b)
	}

	// second resolve is a cache hit
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/resources/font/resolve?wait=true", nil))
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Job.Cached {
		t.Error("Expected second resolve to be a cache hit")
	}
}

func TestAPI_ResolveFailures(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		status   int
		kind     string
	}{
		{"unknown resource", "glyphs", http.StatusNotFound, "unknown_resource"},
		{"no kaggle credentials", "train", http.StatusUnauthorized, "authentication_failed"},
		{"archive server down", "font", http.StatusBadGateway, "network"},
	}

	archive := archiveServer(t, nil, http.StatusServiceUnavailable, nil)
	srv := newTestServer(t, archive.URL+"/font.zip")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/resources/"+tt.resource+"/resolve?wait=true", nil))

			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			var resp ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %q", tt.kind, resp.Kind)
			}
		})
	}
}

func TestAPI_ResolveAsyncDuplicateReturnsExisting(t *testing.T) {
	gate := make(chan struct{})
	archive := archiveServer(t, fontZip(t), http.StatusOK, gate)
	srv := newTestServer(t, archive.URL+"/font.zip")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/resources/font/resolve", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	var first Job
	json.Unmarshal(w.Body.Bytes(), &first)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/resources/font/resolve", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate, got %d", w.Code)
	}
	var dup struct {
		Job Job `json:"job"`
	}
	json.Unmarshal(w.Body.Bytes(), &dup)
	if dup.Job.ID != first.ID {
		t.Errorf("Expected duplicate to return job %s, got %s", first.ID, dup.Job.ID)
	}

	close(gate)
}

func TestAPI_Jobs(t *testing.T) {
	gate := make(chan struct{})
	archive := archiveServer(t, fontZip(t), http.StatusOK, gate)
	srv := newTestServer(t, archive.URL+"/font.zip")

	job, _, err := srv.jobs.CreateJob("font")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("list", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs", nil))
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["count"].(float64) != 1 {
			t.Errorf("Expected 1 job, got %v", resp["count"])
		}
	})

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs/"+job.ID, nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs/nope", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		final, err := srv.jobs.Wait(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if final.Status != JobStatusCancelled {
			t.Errorf("Expected cancelled, got %s", final.Status)
		}

		w = httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 when cancelling a finished job, got %d", w.Code)
		}
	})
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, "")
	srv.config.AllowedOrigins = []string{"http://allowed.example"}

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/resources", nil)
		req.Header.Set("Origin", "http://allowed.example")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("Expected 204, got %d", w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "http://allowed.example" {
			t.Error("Expected CORS header for allowed origin")
		}
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/resources", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("Expected no CORS header for other origin")
		}
	})
}
