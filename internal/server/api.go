// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

// ResolveResponse is returned by a synchronous resolve (?wait=true).
type ResolveResponse struct {
	Resource string `json:"resource"`
	Path     string `json:"path"`
	Job      Job    `json:"job"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"cache":   s.resolver.Dir(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListResources returns the local state of every resource.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	sts, err := s.resolver.StatusAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": sts,
		"count":     len(sts),
	})
}

// handleGetResource returns the local state of one resource.
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	st, err := s.resolver.Status(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), "Resource unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleResolve starts a resolve job, or joins the active one for the same
// resource. With ?wait=true it blocks until the job finishes.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	job, wasExisting, err := s.jobs.CreateJob(name)
	if err != nil {
		writeError(w, statusFor(err), "Cannot resolve resource", err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		if wasExisting {
			writeJSON(w, http.StatusOK, map[string]any{
				"job":     job,
				"message": "Resolve already in progress",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	final, err := s.jobs.Wait(r.Context(), job.ID)
	if err != nil {
		// Client went away; the job keeps running for other waiters.
		return
	}
	switch final.Status {
	case JobStatusCompleted:
		writeJSON(w, http.StatusOK, ResolveResponse{Resource: name, Path: final.Path, Job: final})
	case JobStatusCancelled:
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Resolve cancelled", Kind: "cancelled"})
	default:
		writeJSON(w, statusForKind(final.ErrorKind), ErrorResponse{
			Error:   "Resolve failed",
			Kind:    final.ErrorKind,
			Details: final.Error,
		})
	}
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.GetJob(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs.CancelJob(r.PathValue("id")) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
		return
	}
	writeError(w, http.StatusNotFound, "Job not found or already finished", nil)
}

// --- Helpers ---

func statusFor(err error) int {
	if errors.Is(err, datacache.ErrUnknownResource) {
		return http.StatusNotFound
	}
	return statusForKind(errorKind(err))
}

func statusForKind(kind string) int {
	switch kind {
	case "unknown_resource":
		return http.StatusNotFound
	case "authentication_failed":
		return http.StatusUnauthorized
	case "network":
		return http.StatusBadGateway
	case "archive_corrupt", "member_not_found":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Kind = errorKind(err)
	}
	writeJSON(w, status, resp)
}
