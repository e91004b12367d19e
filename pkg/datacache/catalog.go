// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Source identifies how an archive is obtained.
type Source string

const (
	// SourceKaggle archives are downloaded through the authenticated Kaggle API.
	SourceKaggle Source = "kaggle"
	// SourceURL archives are fetched with a plain HTTP GET.
	SourceURL Source = "url"
)

// Well-known identifiers of the Kuzushiji Recognition catalog.
const (
	// DatasetName is the directory under the data dir holding the cache.
	DatasetName = "kuzushiji-recognition"

	// DatasetArchive is the Kaggle competition archive.
	DatasetArchive = "kuzushiji-recognition"
	// FontArchive is the Noto Sans CJK JP font package.
	FontArchive = "noto-sans-cjk-jp"

	// DefaultFontURL is where the font archive is downloaded from.
	DefaultFontURL = "https://noto-website-2.storage.googleapis.com/pkgs/NotoSansCJKjp-hinted.zip"
)

// Archive describes a remote archive and the members it contains.
type Archive struct {
	// ID is the catalog-wide archive identifier.
	ID string `json:"id"`
	// Source selects the fetch strategy.
	Source Source `json:"source"`
	// Competition is the Kaggle competition slug (SourceKaggle only).
	Competition string `json:"competition,omitempty"`
	// URL is the download location (SourceURL only).
	URL string `json:"url,omitempty"`
	// FileName is the archive's name inside the cache directory.
	FileName string `json:"fileName"`
	// Members lists the slash-separated member paths the catalog relies on.
	Members []string `json:"members"`
	// ExtractAll unpacks every member of the archive in one pass. When false
	// only the member being resolved is extracted.
	ExtractAll bool `json:"extractAll"`
}

// Entry maps a logical resource name to a member of an archive.
type Entry struct {
	Name    string `json:"name"`
	Archive string `json:"archive"`
	Member  string `json:"member"`
}

// Catalog is the static resource-name to archive-member mapping. It is a
// plain value; the Resolver keeps its own copy.
type Catalog struct {
	Archives []Archive `json:"archives"`
	Entries  []Entry   `json:"entries"`
}

// DefaultCatalog returns the Kuzushiji Recognition catalog: the competition
// archive and the font archive.
func DefaultCatalog() Catalog {
	return Catalog{
		Archives: []Archive{
			{
				ID:          DatasetArchive,
				Source:      SourceKaggle,
				Competition: "kuzushiji-recognition",
				FileName:    "kuzushiji-recognition.zip",
				Members: []string{
					"train.csv",
					"unicode_translation.csv",
					"sample_submission.csv",
					"train_images",
					"test_images",
				},
				ExtractAll: true,
			},
			{
				ID:       FontArchive,
				Source:   SourceURL,
				URL:      DefaultFontURL,
				FileName: "NotoSansCJKjp-hinted.zip",
				Members:  []string{"NotoSansCJKjp-Regular.otf"},
			},
		},
		Entries: []Entry{
			{Name: "train", Archive: DatasetArchive, Member: "train.csv"},
			{Name: "translation", Archive: DatasetArchive, Member: "unicode_translation.csv"},
			{Name: "sample-submission", Archive: DatasetArchive, Member: "sample_submission.csv"},
			{Name: "train-images", Archive: DatasetArchive, Member: "train_images"},
			{Name: "test-images", Archive: DatasetArchive, Member: "test_images"},
			{Name: "font", Archive: FontArchive, Member: "NotoSansCJKjp-Regular.otf"},
		},
	}
}

// Lookup returns the entry registered under name.
func (c Catalog) Lookup(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Archive returns the archive descriptor with the given id.
func (c Catalog) Archive(id string) (Archive, bool) {
	for _, a := range c.Archives {
		if a.ID == id {
			return a, true
		}
	}
	return Archive{}, false
}

// Names returns all resource names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// WithURL returns a copy of c in which archive id is downloaded from u.
func (c Catalog) WithURL(id, u string) Catalog {
	out := c.clone()
	for i := range out.Archives {
		if out.Archives[i].ID == id {
			out.Archives[i].URL = u
		}
	}
	return out
}

// WithCompetition returns a copy of c in which archive id is fetched from
// the given Kaggle competition.
func (c Catalog) WithCompetition(id, competition string) Catalog {
	out := c.clone()
	for i := range out.Archives {
		if out.Archives[i].ID == id {
			out.Archives[i].Competition = competition
		}
	}
	return out
}

func (c Catalog) clone() Catalog {
	out := Catalog{
		Archives: make([]Archive, len(c.Archives)),
		Entries:  append([]Entry(nil), c.Entries...),
	}
	for i, a := range c.Archives {
		a.Members = append([]string(nil), a.Members...)
		out.Archives[i] = a
	}
	return out
}

// Validate checks that the catalog is internally consistent: unique names,
// every entry points at a declared member of a declared archive, and member
// paths stay inside the cache directory.
func (c Catalog) Validate() error {
	archives := make(map[string]Archive, len(c.Archives))
	files := make(map[string]string, len(c.Archives))
	for _, a := range c.Archives {
		if a.ID == "" {
			return fmt.Errorf("catalog: archive with empty id")
		}
		if _, dup := archives[a.ID]; dup {
			return fmt.Errorf("catalog: duplicate archive %q", a.ID)
		}
		if a.FileName == "" || path.Base(a.FileName) != a.FileName {
			return fmt.Errorf("catalog: archive %q: invalid file name %q", a.ID, a.FileName)
		}
		if other, dup := files[a.FileName]; dup {
			return fmt.Errorf("catalog: archives %q and %q share file name %q", other, a.ID, a.FileName)
		}
		switch a.Source {
		case SourceKaggle:
			if a.Competition == "" {
				return fmt.Errorf("catalog: archive %q: missing competition", a.ID)
			}
		case SourceURL:
			if a.URL == "" {
				return fmt.Errorf("catalog: archive %q: missing url", a.ID)
			}
		default:
			return fmt.Errorf("catalog: archive %q: unknown source %q", a.ID, a.Source)
		}
		for _, m := range a.Members {
			if !validMember(m) {
				return fmt.Errorf("catalog: archive %q: invalid member path %q", a.ID, m)
			}
			if m == a.FileName {
				return fmt.Errorf("catalog: archive %q: member %q collides with the archive file", a.ID, m)
			}
		}
		archives[a.ID] = a
		files[a.FileName] = a.ID
	}

	seen := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if e.Name == "" {
			return fmt.Errorf("catalog: entry with empty name")
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("catalog: duplicate resource %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		a, ok := archives[e.Archive]
		if !ok {
			return fmt.Errorf("catalog: resource %q: unknown archive %q", e.Name, e.Archive)
		}
		if !contains(a.Members, e.Member) {
			return fmt.Errorf("catalog: resource %q: member %q not declared by archive %q", e.Name, e.Member, a.ID)
		}
	}
	return nil
}

// validMember rejects absolute paths and anything escaping the cache dir.
func validMember(m string) bool {
	if m == "" || strings.HasPrefix(m, "/") || strings.Contains(m, `\`) {
		return false
	}
	clean := path.Clean(m)
	return clean == m && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
