// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/newskylabs/kkrdata/pkg/datacache"
	"github.com/newskylabs/kkrdata/pkg/kaggle"
)

func ExampleResolver_Resolve() {
	home, _ := os.UserHomeDir()
	r, err := datacache.New(datacache.Config{
		Dir:    filepath.Join(home, ".kkrdata", "datasets", datacache.DatasetName),
		Kaggle: kaggle.NewClient(kaggle.Options{}),
		Progress: func(e datacache.ProgressEvent) {
			switch e.Event {
			case datacache.EventDownloadStart:
				fmt.Println("Downloading", e.Archive)
			case datacache.EventResolveDone:
				fmt.Println("Ready:", e.Path)
			}
		},
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	p, err := r.Resolve(context.Background(), "translation")
	switch {
	case errors.Is(err, datacache.ErrAuthenticationFailed):
		fmt.Println("Set KAGGLE_USERNAME and KAGGLE_KEY or create ~/.kaggle/kaggle.json")
	case err != nil:
		fmt.Println("Error:", err)
	default:
		fmt.Println(p)
	}
}

func ExampleCatalog_Lookup() {
	cat := datacache.DefaultCatalog()

	e, ok := cat.Lookup("font")
	fmt.Println(ok, e.Archive, e.Member)

	_, ok = cat.Lookup("glyphs")
	fmt.Println(ok)

	// Output:
	// true noto-sans-cjk-jp NotoSansCJKjp-Regular.otf
	// false
}

func ExampleCatalog_Names() {
	for _, n := range datacache.DefaultCatalog().Names() {
		fmt.Println(n)
	}

	// Output:
	// font
	// sample-submission
	// test-images
	// train
	// train-images
	// translation
}
