// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package datacache resolves logical resource names of the Kuzushiji
Recognition data set to local files, downloading and unpacking the owning
archive on first access.

# Catalog

A Catalog maps each resource name to a member of an archive. The default
catalog knows two archives:

  - kuzushiji-recognition: the Kaggle competition archive (authenticated).
    Every member is unpacked in one pass.
  - noto-sans-cjk-jp: the Noto Sans CJK JP font package, fetched by plain
    HTTP. Only the member being resolved is unpacked.

Resource names:

	train              train.csv
	translation        unicode_translation.csv
	sample-submission  sample_submission.csv
	train-images       train_images/
	test-images        test_images/
	font               NotoSansCJKjp-Regular.otf

# Resolving

	r, err := datacache.New(datacache.Config{
		Dir:    "/home/me/.kkrdata/datasets/kuzushiji-recognition",
		Kaggle: kaggle.NewClient(kaggle.Options{}),
	})
	if err != nil {
		log.Fatal(err)
	}
	p, err := r.Resolve(ctx, "translation")

If the member already exists, Resolve returns its path without any network
access. Otherwise it downloads the archive into the cache directory,
extracts it, deletes the archive and returns the path. No archive file
remains in the cache directory after a successful resolve.

# Errors

Resolve never retries. Every failure matches one class through errors.Is:

  - ErrUnknownResource: the name is not in the catalog (no network access)
  - ErrAuthenticationFailed: missing or rejected Kaggle credentials
  - ErrNetwork: the archive could not be downloaded
  - ErrArchiveCorrupt: the archive is unreadable or unsafe
  - ErrMemberNotFound: the archive does not contain the declared member

# Concurrency

A Resolver performs blocking, sequential I/O and does not lock the cache
directory. Concurrent Resolve calls on one Resolver, or several processes
sharing a cache directory, must be serialized by the caller.
*/
package datacache
