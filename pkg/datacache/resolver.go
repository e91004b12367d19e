// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newskylabs/kkrdata/internal/download"
)

// Resolver maps resource names to local files, downloading and unpacking
// the owning archive the first time a resource is requested.
//
// A Resolver is not safe for concurrent Resolve calls; callers that share
// one (such as the HTTP server) must serialize access.
type Resolver struct {
	dir      string
	catalog  Catalog
	kaggle   KaggleAPI
	httpc    *http.Client
	logger   *log.Logger
	progress ProgressFunc
}

// New validates cfg and returns a Resolver. It does not touch the
// filesystem; the cache directory is created lazily.
func New(cfg Config) (*Resolver, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("datacache: cache directory is required")
	}
	cat := cfg.Catalog
	if len(cat.Archives) == 0 && len(cat.Entries) == 0 {
		cat = DefaultCatalog()
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = download.NewHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{
		dir:      filepath.Clean(cfg.Dir),
		catalog:  cat.clone(),
		kaggle:   cfg.Kaggle,
		httpc:    httpc,
		logger:   logger,
		progress: cfg.Progress,
	}, nil
}

// Dir returns the cache directory.
func (r *Resolver) Dir() string { return r.dir }

// Catalog returns a copy of the resolver's catalog.
func (r *Resolver) Catalog() Catalog { return r.catalog.clone() }

// WithProgress returns a shallow copy of r that reports to fn instead.
func (r *Resolver) WithProgress(fn ProgressFunc) *Resolver {
	cp := *r
	cp.progress = fn
	return &cp
}

// EnsureDir creates the cache directory if needed. It is idempotent and
// never modifies existing contents.
func (r *Resolver) EnsureDir() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return nil
}

// Path returns where resource name lives once resolved, without any I/O.
func (r *Resolver) Path(name string) (string, error) {
	e, ok := r.catalog.Lookup(name)
	if !ok {
		return "", r.unknown(name)
	}
	return r.memberPath(e), nil
}

// Resolve returns the local path of resource name. If the member is already
// present it is returned without network access. Otherwise the owning
// archive is downloaded, unpacked and deleted, and the path re-checked.
//
// Failures are not retried. Errors match ErrUnknownResource,
// ErrAuthenticationFailed, ErrNetwork, ErrArchiveCorrupt or
// ErrMemberNotFound through errors.Is.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e, ok := r.catalog.Lookup(name)
	if !ok {
		return "", r.unknown(name)
	}
	target := r.memberPath(e)

	if exists(target) {
		r.emit(ProgressEvent{Event: EventCacheHit, Resource: name, Archive: e.Archive, Path: target})
		return target, nil
	}

	r.emit(ProgressEvent{Event: EventResolveStart, Resource: name, Archive: e.Archive, Path: target})
	if err := r.EnsureDir(); err != nil {
		return "", err
	}

	a, _ := r.catalog.Archive(e.Archive)
	if err := r.fetch(ctx, a, e); err != nil {
		r.emit(ProgressEvent{Level: "error", Event: EventError, Resource: name, Archive: a.ID, Message: err.Error()})
		return "", err
	}

	if !exists(target) {
		err := &MemberNotFoundError{Archive: a.ID, Member: e.Member}
		r.emit(ProgressEvent{Level: "error", Event: EventError, Resource: name, Archive: a.ID, Message: err.Error()})
		return "", err
	}

	r.emit(ProgressEvent{Event: EventResolveDone, Resource: name, Archive: a.ID, Path: target})
	return target, nil
}

// ResolveAll resolves every catalog entry in name order. Each archive is
// fetched at most once since later members of an unpacked archive are
// cache hits.
func (r *Resolver) ResolveAll(ctx context.Context) ([]Resolved, error) {
	names := r.catalog.Names()
	out := make([]Resolved, 0, len(names))
	for _, n := range names {
		p, err := r.Resolve(ctx, n)
		if err != nil {
			return out, err
		}
		out = append(out, Resolved{Name: n, Path: p})
	}
	return out, nil
}

// Status reports the local state of resource name without network access.
func (r *Resolver) Status(name string) (ResourceStatus, error) {
	e, ok := r.catalog.Lookup(name)
	if !ok {
		return ResourceStatus{}, r.unknown(name)
	}
	st := ResourceStatus{Name: e.Name, Archive: e.Archive, Member: e.Member, Path: r.memberPath(e)}
	size, err := diskUsage(st.Path)
	switch {
	case err == nil:
		st.Cached = true
		st.Size = size
	case errors.Is(err, fs.ErrNotExist):
	default:
		return st, err
	}
	return st, nil
}

// StatusAll reports the state of every resource, sorted by name.
func (r *Resolver) StatusAll() ([]ResourceStatus, error) {
	names := r.catalog.Names()
	out := make([]ResourceStatus, 0, len(names))
	for _, n := range names {
		st, err := r.Status(n)
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Clean removes the extracted member of resource name so that the next
// Resolve fetches it again. Removing an absent member is not an error.
func (r *Resolver) Clean(name string) error {
	e, ok := r.catalog.Lookup(name)
	if !ok {
		return r.unknown(name)
	}
	p := r.memberPath(e)
	if err := os.RemoveAll(p); err != nil {
		return err
	}
	r.logger.Debug("removed cached member", "resource", name, "path", p)
	return nil
}

// StalePaths lists the archive files, partial downloads and extraction
// staging directories an interrupted run may leave in the cache directory.
// None of them is ever a valid cached member.
func (r *Resolver) StalePaths() []string {
	var out []string
	for _, a := range r.catalog.Archives {
		out = append(out,
			filepath.Join(r.dir, a.FileName),
			filepath.Join(r.dir, a.FileName+download.PartSuffix),
			stagingDir(r.dir, a.FileName),
		)
	}
	return out
}

// RemoveStale deletes the leftovers listed by StalePaths. Interrupted
// downloads are never resumed. It returns the removed paths.
func (r *Resolver) RemoveStale() ([]string, error) {
	var removed []string
	for _, p := range r.StalePaths() {
		if _, err := os.Lstat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if err := os.RemoveAll(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	sort.Strings(removed)
	return removed, nil
}

func (r *Resolver) memberPath(e Entry) string {
	return filepath.Join(r.dir, filepath.FromSlash(e.Member))
}

func (r *Resolver) unknown(name string) error {
	return &UnknownResourceError{Name: name, Known: r.catalog.Names()}
}

func (r *Resolver) emit(ev ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Event != EventDownloadProgress {
		kv := []any{"resource", ev.Resource, "archive", ev.Archive}
		if ev.Path != "" {
			kv = append(kv, "path", ev.Path)
		}
		if ev.Message != "" {
			kv = append(kv, "msg", ev.Message)
		}
		r.logger.Debug(ev.Event, kv...)
	}
	if r.progress != nil {
		r.progress(ev)
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// diskUsage returns the size of a file, or the total size of the regular
// files below a directory.
func diskUsage(p string) (int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	if !fi.IsDir() {
		return fi.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
