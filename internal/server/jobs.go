// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

// JobStatus represents the state of a resolve job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one resolve of a resource.
type Job struct {
	ID        string      `json:"id"`
	Resource  string      `json:"resource"`
	Status    JobStatus   `json:"status"`
	Path      string      `json:"path,omitempty"`
	Cached    bool        `json:"cached,omitempty"`
	Progress  JobProgress `json:"progress"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
}

// JobProgress holds the transfer and unpack state of a job.
type JobProgress struct {
	Phase           string `json:"phase,omitempty"` // download, extract, done
	Archive         string `json:"archive,omitempty"`
	TotalBytes      int64  `json:"totalBytes"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	ExtractedFiles  int    `json:"extractedFiles"`
}

func (j *Job) active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// DefaultMaxFinishedJobs is how many finished jobs a JobManager keeps for
// inspection before dropping the oldest.
const DefaultMaxFinishedJobs = 100

// JobManager runs resolve jobs one at a time. A resolve for a resource that
// already has an active job joins that job instead of starting another.
type JobManager struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	resolver *datacache.Resolver
	sem      *semaphore.Weighted
	wsHub    *WSHub
	logger   *log.Logger

	// MaxFinished bounds the number of retained finished jobs.
	MaxFinished int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager.
func NewJobManager(r *datacache.Resolver, wsHub *WSHub, logger *log.Logger) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:     make(map[string]*Job),
		resolver: r,
		sem:      semaphore.NewWeighted(1),
		wsHub:    wsHub,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,

		MaxFinished: DefaultMaxFinishedJobs,
	}
}

// generateID creates a short random ID.
func generateID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateJob queues a resolve of resource name. It returns the active job for
// name instead when there is one, with wasExisting set. Unknown names fail
// with datacache.ErrUnknownResource before any job is created.
func (m *JobManager) CreateJob(name string) (Job, bool, error) {
	if _, err := m.resolver.Path(name); err != nil {
		return Job{}, false, err
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Resource == name && existing.active() {
			snap := *existing
			m.mu.Unlock()
			return snap, true, nil
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	job := &Job{
		ID:        generateID(),
		Resource:  name,
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.jobs[job.ID] = job
	snap := *job
	m.mu.Unlock()

	m.notify(snap)

	m.wg.Add(1)
	go m.runJob(ctx, job)

	return snap, false, nil
}

// Wait blocks until job id finishes or ctx is done, and returns its final state.
func (m *JobManager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, errJobNotFound
	}
	select {
	case <-job.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *job, nil
}

var errJobNotFound = errors.New("job not found")

// GetJob retrieves a snapshot of a job by ID.
func (m *JobManager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a queued or running job. Partial downloads of a
// cancelled job are discarded by the resolver.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.RLock()
	job, ok := m.jobs[id]
	active := ok && job.active()
	m.mu.RUnlock()
	if !active {
		return false
	}
	job.cancel()
	return true
}

// Close cancels all jobs and waits for them to finish.
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *JobManager) notify(job Job) {
	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob executes the resolve once it holds the semaphore.
func (m *JobManager) runJob(ctx context.Context, job *Job) {
	defer m.wg.Done()
	defer close(job.done)
	defer job.cancel()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(ctx, job, "", err)
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	job.Status = JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	snap := *job
	m.mu.Unlock()
	m.notify(snap)

	// Progress callback; must not hold the lock while notifying.
	progressFunc := func(ev datacache.ProgressEvent) {
		if m.wsHub != nil {
			m.wsHub.BroadcastEvent(ev)
		}

		m.mu.Lock()
		switch ev.Event {
		case datacache.EventCacheHit:
			job.Cached = true
		case datacache.EventDownloadStart:
			job.Progress.Phase = "download"
			job.Progress.Archive = ev.Archive
		case datacache.EventDownloadProgress:
			job.Progress.DownloadedBytes = ev.Downloaded
			if ev.Total > 0 {
				job.Progress.TotalBytes = ev.Total
			}
		case datacache.EventDownloadDone:
			job.Progress.Phase = "extract"
		case datacache.EventExtractMember:
			job.Progress.ExtractedFiles++
		default:
			m.mu.Unlock()
			return
		}
		snap := *job
		m.mu.Unlock()

		// Per-entry extraction events would flood clients; the raw event
		// feed already carries them.
		if ev.Event != datacache.EventExtractMember {
			m.notify(snap)
		}
	}

	p, err := m.resolver.WithProgress(progressFunc).Resolve(ctx, job.Resource)
	m.finish(ctx, job, p, err)
}

func (m *JobManager) finish(ctx context.Context, job *Job, path string, err error) {
	m.mu.Lock()
	end := time.Now().UTC()
	job.EndedAt = &end
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		job.Path = path
		job.Progress.Phase = "done"
	case ctx.Err() != nil:
		job.Status = JobStatusCancelled
	default:
		job.Status = JobStatusFailed
		job.Error = err.Error()
		job.ErrorKind = errorKind(err)
	}
	snap := *job
	m.pruneLocked()
	m.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		m.logger.Warn("resolve failed", "resource", job.Resource, "err", err)
	}
	m.notify(snap)
}

// pruneLocked drops the oldest finished jobs beyond MaxFinished.
// m.mu must be held.
func (m *JobManager) pruneLocked() {
	if m.MaxFinished <= 0 {
		return
	}
	var finished []*Job
	for _, j := range m.jobs {
		if !j.active() && j.EndedAt != nil {
			finished = append(finished, j)
		}
	}
	if len(finished) <= m.MaxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].EndedAt.Before(*finished[j].EndedAt) })
	for _, j := range finished[:len(finished)-m.MaxFinished] {
		delete(m.jobs, j.ID)
	}
}

// errorKind names the failure class of err for API clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, datacache.ErrUnknownResource):
		return "unknown_resource"
	case errors.Is(err, datacache.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, datacache.ErrNetwork):
		return "network"
	case errors.Is(err, datacache.ErrArchiveCorrupt):
		return "archive_corrupt"
	case errors.Is(err, datacache.ErrMemberNotFound):
		return "member_not_found"
	default:
		return "internal"
	}
}
