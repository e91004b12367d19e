// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/newskylabs/kkrdata/internal/download"
	"github.com/newskylabs/kkrdata/pkg/kaggle"
)

// fetch materializes the members needed for e from archive a: download into
// the cache directory, extract, and remove the archive. The archive file is
// removed whether or not extraction succeeded.
func (r *Resolver) fetch(ctx context.Context, a Archive, e Entry) error {
	archivePath := filepath.Join(r.dir, a.FileName)
	defer r.removeArchive(e.Name, a, archivePath)

	r.emit(ProgressEvent{Event: EventDownloadStart, Resource: e.Name, Archive: a.ID, Path: archivePath})
	report := func(downloaded, total int64) {
		r.emit(ProgressEvent{
			Event:      EventDownloadProgress,
			Resource:   e.Name,
			Archive:    a.ID,
			Downloaded: downloaded,
			Total:      total,
		})
	}

	var err error
	switch a.Source {
	case SourceKaggle:
		err = r.downloadKaggle(ctx, a, e, archivePath, report)
	case SourceURL:
		err = r.downloadURL(ctx, a, archivePath, report)
	default:
		err = &FetchError{Archive: a.ID, Kind: ErrNetwork, Err: fmt.Errorf("unsupported source %q", a.Source)}
	}
	if err != nil {
		return err
	}
	r.emit(ProgressEvent{Event: EventDownloadDone, Resource: e.Name, Archive: a.ID, Path: archivePath})

	var members []string
	if !a.ExtractAll {
		members = []string{e.Member}
	}
	onEntry := func(name string) {
		r.emit(ProgressEvent{Event: EventExtractMember, Resource: e.Name, Archive: a.ID, Path: path.Clean(name)})
	}
	written, err := extractZip(a.ID, archivePath, r.dir, members, onEntry)
	if err != nil {
		var mnf *MemberNotFoundError
		switch {
		case errors.As(err, &mnf):
			return err
		case errors.Is(err, ErrArchiveCorrupt):
			return &FetchError{Archive: a.ID, Kind: ErrArchiveCorrupt, Err: err}
		default:
			return fmt.Errorf("extract %s: %w", a.FileName, err)
		}
	}
	r.logger.Info("archive unpacked", "archive", a.ID, "files", len(written), "dir", r.dir)
	return nil
}

func (r *Resolver) downloadKaggle(ctx context.Context, a Archive, e Entry, dst string, report func(int64, int64)) error {
	if r.kaggle == nil {
		return &FetchError{Archive: a.ID, Kind: ErrAuthenticationFailed, Err: errors.New("no Kaggle client configured")}
	}
	r.emit(ProgressEvent{Event: EventAuth, Resource: e.Name, Archive: a.ID, Message: "authenticating with Kaggle"})
	if err := r.kaggle.Authenticate(ctx); err != nil {
		if cerr := interrupted(ctx, a); cerr != nil {
			return cerr
		}
		return &FetchError{Archive: a.ID, Kind: ErrAuthenticationFailed, Err: err}
	}

	r.logger.Info("downloading competition archive", "competition", a.Competition, "dst", dst)
	if err := r.kaggle.DownloadArchive(ctx, a.Competition, dst, report); err != nil {
		if cerr := interrupted(ctx, a); cerr != nil {
			return cerr
		}
		if errors.Is(err, kaggle.ErrAuthenticationFailed) {
			return &FetchError{Archive: a.ID, Kind: ErrAuthenticationFailed, Err: err}
		}
		return &FetchError{Archive: a.ID, Kind: ErrNetwork, Err: err}
	}
	return nil
}

func (r *Resolver) downloadURL(ctx context.Context, a Archive, dst string, report func(int64, int64)) error {
	req, err := http.NewRequestWithContext(ctx, "GET", a.URL, nil)
	if err != nil {
		return &FetchError{Archive: a.ID, Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("User-Agent", "kkrdata/1")

	r.logger.Info("downloading archive", "url", a.URL, "dst", dst)
	if err := download.ToFile(ctx, r.httpc, req, dst, report); err != nil {
		if cerr := interrupted(ctx, a); cerr != nil {
			return cerr
		}
		return &FetchError{Archive: a.ID, Kind: ErrNetwork, Err: err}
	}
	return nil
}

// interrupted returns the context error of a cancelled or expired fetch. It
// carries no error class so callers do not blame credentials or the network.
func interrupted(ctx context.Context, a Archive) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fetch %s: %w", a.ID, err)
	}
	return nil
}

func (r *Resolver) removeArchive(resource string, a Archive, p string) {
	err := os.Remove(p)
	switch {
	case err == nil:
		r.emit(ProgressEvent{Event: EventArchiveRemoved, Resource: resource, Archive: a.ID, Path: p})
	case errors.Is(err, fs.ErrNotExist):
	default:
		r.logger.Warn("could not remove archive", "path", p, "err", err)
	}
}
