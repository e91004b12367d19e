// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"errors"
	"fmt"
)

// Error classes returned by the resolver. Concrete errors carry context and
// match one of these through errors.Is.
var (
	// ErrUnknownResource is returned when a name is not in the catalog.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrAuthenticationFailed is returned when the remote source rejects or
	// cannot find credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNetwork is returned when an archive could not be downloaded:
	// transport failures and non-2xx answers alike.
	ErrNetwork = errors.New("download failed")

	// ErrArchiveCorrupt is returned when a downloaded archive cannot be read
	// or contains entries that would escape the cache directory.
	ErrArchiveCorrupt = errors.New("archive corrupt")

	// ErrMemberNotFound is returned when an archive was unpacked but the
	// member declared by the catalog is not there.
	ErrMemberNotFound = errors.New("archive member not found")
)

// UnknownResourceError is returned by Resolve for names missing from the catalog.
type UnknownResourceError struct {
	Name  string
	Known []string
}

func (e *UnknownResourceError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown resource %q", e.Name)
	}
	return fmt.Sprintf("unknown resource %q (known: %v)", e.Name, e.Known)
}

// Is implements errors.Is.
func (e *UnknownResourceError) Is(target error) bool {
	return target == ErrUnknownResource
}

// FetchError wraps a failure while materializing an archive.
type FetchError struct {
	Archive string
	// Kind is one of the Err* classes above.
	Kind error
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v: %v", e.Archive, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the error class as well as anything in the wrapped chain.
func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

// MemberNotFoundError reports catalog/archive drift.
type MemberNotFoundError struct {
	Archive string
	Member  string
}

func (e *MemberNotFoundError) Error() string {
	return fmt.Sprintf("archive %s: member %q not found", e.Archive, e.Member)
}

// Is implements errors.Is.
func (e *MemberNotFoundError) Is(target error) bool {
	return target == ErrMemberNotFound
}
