// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Event types emitted through ProgressFunc.
const (
	EventResolveStart     = "resolve_start"
	EventCacheHit         = "cache_hit"
	EventAuth             = "auth"
	EventDownloadStart    = "download_start"
	EventDownloadProgress = "download_progress"
	EventDownloadDone     = "download_done"
	EventExtractMember    = "extract_member"
	EventArchiveRemoved   = "archive_removed"
	EventResolveDone      = "resolve_done"
	EventError            = "error"
)

// ProgressEvent represents a progress update during a resolve.
type ProgressEvent struct {
	// Time is when the event occurred (UTC).
	Time time.Time `json:"time"`

	// Level is "debug", "info", "warn" or "error". Empty means "info".
	Level string `json:"level,omitempty"`

	// Event is one of the Event* constants.
	Event string `json:"event"`

	// Resource is the logical name being resolved.
	Resource string `json:"resource,omitempty"`

	// Archive is the archive id involved, if any.
	Archive string `json:"archive,omitempty"`

	// Path is a local file path (resolved member, archive or extracted entry).
	Path string `json:"path,omitempty"`

	// Downloaded is the cumulative number of bytes transferred.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Total is the expected archive size, or -1 if unknown.
	Total int64 `json:"total,omitempty"`

	// Message carries additional context or error details.
	Message string `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events. Resolves are
// sequential, but a callback shared by several resolvers must be safe for
// concurrent use.
type ProgressFunc func(ProgressEvent)

// KaggleAPI is the part of the Kaggle client the resolver depends on.
// *kaggle.Client implements it.
type KaggleAPI interface {
	Authenticate(ctx context.Context) error
	DownloadArchive(ctx context.Context, competition, dst string, progress func(downloaded, total int64)) error
}

// Config configures a Resolver.
type Config struct {
	// Dir is the cache directory. Required. All members and, transiently,
	// archives live flatly inside it.
	Dir string

	// Catalog maps resource names to archive members. Defaults to
	// DefaultCatalog() when empty.
	Catalog Catalog

	// Kaggle is used for SourceKaggle archives. Resolving such an archive
	// without a client fails with ErrAuthenticationFailed.
	Kaggle KaggleAPI

	// HTTPClient is used for SourceURL archives.
	HTTPClient *http.Client

	// Logger receives debug/info diagnostics. Nil discards them.
	Logger *log.Logger

	// Progress receives progress events. May be nil.
	Progress ProgressFunc
}

// ResourceStatus describes the local state of one resource.
type ResourceStatus struct {
	Name    string `json:"name"`
	Archive string `json:"archive"`
	Member  string `json:"member"`
	Path    string `json:"path"`
	Cached  bool   `json:"cached"`
	// Size is the member's size on disk; for directory members the sum of
	// the files below it.
	Size int64 `json:"size"`
}

// Resolved pairs a resource name with its local path.
type Resolved struct {
	Name string `json:"name"`
	Path string `json:"path"`
}
