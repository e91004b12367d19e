// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Valid(t *testing.T) {
	cat := DefaultCatalog()
	require.NoError(t, cat.Validate())

	a, ok := cat.Archive(DatasetArchive)
	require.True(t, ok)
	assert.True(t, a.ExtractAll)
	assert.Equal(t, SourceKaggle, a.Source)

	f, ok := cat.Archive(FontArchive)
	require.True(t, ok)
	assert.False(t, f.ExtractAll)
	assert.Equal(t, SourceURL, f.Source)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Catalog)
	}{
		{"duplicate resource", func(c *Catalog) {
			c.Entries = append(c.Entries, Entry{Name: "train", Archive: DatasetArchive, Member: "train.csv"})
		}},
		{"unknown archive", func(c *Catalog) {
			c.Entries[0].Archive = "nope"
		}},
		{"undeclared member", func(c *Catalog) {
			c.Entries[0].Member = "other.csv"
		}},
		{"escaping member", func(c *Catalog) {
			c.Archives[1].Members = append(c.Archives[1].Members, "../outside.otf")
		}},
		{"absolute member", func(c *Catalog) {
			c.Archives[1].Members = append(c.Archives[1].Members, "/etc/passwd")
		}},
		{"archive file name with directory", func(c *Catalog) {
			c.Archives[1].FileName = "sub/font.zip"
		}},
		{"shared archive file name", func(c *Catalog) {
			c.Archives[1].FileName = c.Archives[0].FileName
		}},
		{"url archive without url", func(c *Catalog) {
			c.Archives[1].URL = ""
		}},
		{"kaggle archive without competition", func(c *Catalog) {
			c.Archives[0].Competition = ""
		}},
		{"unknown source", func(c *Catalog) {
			c.Archives[0].Source = "ftp"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCatalog()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCatalog_WithURLDoesNotAlias(t *testing.T) {
	base := DefaultCatalog()
	changed := base.WithURL(FontArchive, "http://mirror.example/font.zip")

	a, _ := changed.Archive(FontArchive)
	assert.Equal(t, "http://mirror.example/font.zip", a.URL)

	orig, _ := base.Archive(FontArchive)
	assert.Equal(t, DefaultFontURL, orig.URL)

	k := base.WithCompetition(DatasetArchive, "other-comp")
	ka, _ := k.Archive(DatasetArchive)
	assert.Equal(t, "other-comp", ka.Competition)
}

func TestMatchesMember(t *testing.T) {
	assert.True(t, matchesMember("train.csv", "train.csv"))
	assert.True(t, matchesMember("train_images/", "train_images"))
	assert.True(t, matchesMember("train_images/a.jpg", "train_images"))
	assert.False(t, matchesMember("train_images_extra/a.jpg", "train_images"))
	assert.False(t, matchesMember("train.csv.bak", "train.csv"))
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()
	_, err := safeJoin(dir, "a/b.txt")
	assert.NoError(t, err)

	for _, bad := range []string{"../x", "a/../../x", "/abs", `a\b`, ""} {
		_, err := safeJoin(dir, bad)
		assert.ErrorIs(t, err, ErrArchiveCorrupt, bad)
	}
}
