// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/newskylabs/kkrdata/pkg/datacache"
	"github.com/newskylabs/kkrdata/pkg/kaggle"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve NAME...",
		Short: "Print the local path of each resource, fetching it if needed",
		Example: `  kkrdata resolve translation
  kkrdata resolve train train-images --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress, done := a.progress()
			r, err := a.resolver(cmd, progress)
			if err != nil {
				done()
				return err
			}

			var results []datacache.Resolved
			for _, name := range args {
				p, err := r.Resolve(cmd.Context(), name)
				if err != nil {
					done()
					return err
				}
				results = append(results, datacache.Resolved{Name: name, Path: p})
			}
			done()

			for _, res := range results {
				if a.ro.JSONOut {
					if err := writeJSON(a.stdout, res); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(a.stdout, res.Path)
			}
			return nil
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every resource of the data set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			progress, done := a.progress()
			r, err := a.resolver(cmd, progress)
			if err != nil {
				done()
				return err
			}
			results, err := r.ResolveAll(cmd.Context())
			done()
			if err != nil {
				return err
			}

			if a.ro.JSONOut {
				return writeJSON(a.stdout, results)
			}
			t := newTable("NAME", "PATH")
			for _, res := range results {
				t.Row(res.Name, res.Path)
			}
			fmt.Fprintln(a.stdout, t.Render())
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the resources of the catalog and whether they are cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolver(cmd, nil)
			if err != nil {
				return err
			}
			sts, err := r.StatusAll()
			if err != nil {
				return err
			}

			if a.ro.JSONOut {
				return writeJSON(a.stdout, sts)
			}
			t := newTable("NAME", "ARCHIVE", "MEMBER", "CACHED", "SIZE")
			for _, st := range sts {
				size := "-"
				if st.Cached {
					size = humanize.Bytes(uint64(st.Size))
				}
				t.Row(st.Name, st.Archive, st.Member, yesNo(st.Cached), size)
			}
			fmt.Fprintln(a.stdout, t.Render())
			return nil
		},
	}
}

func newFilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List the files Kaggle publishes for the competition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}
			kopts, err := s.KaggleOptions()
			if err != nil {
				return err
			}
			files, err := kaggle.NewClient(kopts).ListFiles(cmd.Context(), s.Competition)
			if err != nil {
				if errors.Is(err, kaggle.ErrAuthenticationFailed) {
					return &datacache.FetchError{Archive: datacache.DatasetArchive, Kind: datacache.ErrAuthenticationFailed, Err: err}
				}
				return &datacache.FetchError{Archive: datacache.DatasetArchive, Kind: datacache.ErrNetwork, Err: err}
			}

			if a.ro.JSONOut {
				return writeJSON(a.stdout, files)
			}
			var total int64
			t := newTable("NAME", "SIZE", "CREATED")
			for _, f := range files {
				total += f.TotalBytes
				t.Row(f.Name, humanize.Bytes(uint64(f.TotalBytes)), f.CreationDate)
			}
			fmt.Fprintln(a.stdout, titleStyle.Render(s.Competition))
			fmt.Fprintln(a.stdout, t.Render())
			fmt.Fprintln(a.stdout, mutedStyle.Render(fmt.Sprintf("%d files, %s", len(files), humanize.Bytes(uint64(total)))))
			return nil
		},
	}
}

// cacheStatus is the JSON form of the status command.
type cacheStatus struct {
	Dir       string                     `json:"dir"`
	Exists    bool                       `json:"exists"`
	Cached    int                        `json:"cached"`
	Total     int                        `json:"total"`
	Size      int64                      `json:"size"`
	Stale     []string                   `json:"stale,omitempty"`
	Resources []datacache.ResourceStatus `json:"resources"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolver(cmd, nil)
			if err != nil {
				return err
			}
			sts, err := r.StatusAll()
			if err != nil {
				return err
			}

			out := cacheStatus{Dir: r.Dir(), Total: len(sts), Resources: sts}
			if fi, err := os.Stat(r.Dir()); err == nil && fi.IsDir() {
				out.Exists = true
			}
			for _, st := range sts {
				if st.Cached {
					out.Cached++
					out.Size += st.Size
				}
			}
			out.Stale = staleFiles(r)

			if a.ro.JSONOut {
				return writeJSON(a.stdout, out)
			}
			fmt.Fprintf(a.stdout, "%s %s\n", titleStyle.Render("Cache:"), out.Dir)
			if !out.Exists {
				fmt.Fprintln(a.stdout, mutedStyle.Render("  not created yet"))
			}
			fmt.Fprintf(a.stdout, "%s %d/%d resources, %s on disk\n",
				titleStyle.Render("Cached:"), out.Cached, out.Total, humanize.Bytes(uint64(out.Size)))
			for _, p := range out.Stale {
				fmt.Fprintln(a.stdout, errorStyle.Render("  stale: "+p))
			}
			if len(out.Stale) > 0 {
				fmt.Fprintln(a.stdout, mutedStyle.Render("  run 'kkrdata clean --stale' to remove"))
			}
			return nil
		},
	}
}

// staleFiles lists leftovers of interrupted runs present in the cache directory.
func staleFiles(r *datacache.Resolver) []string {
	var out []string
	for _, p := range r.StalePaths() {
		if _, err := os.Lstat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func newCleanCmd(a *app) *cobra.Command {
	var (
		stale bool
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "clean [NAME...]",
		Short: "Remove cached resources or leftover archives",
		Long: `Remove extracted resources so that the next resolve fetches them again.

--stale removes archive files, partial downloads and unpack directories left by an
interrupted run. --all removes every resource and every stale file.`,
		Example: `  kkrdata clean font
  kkrdata clean --stale
  kkrdata clean --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !stale && !all {
				return fmt.Errorf("nothing to clean: name resources, or pass --stale or --all")
			}
			r, err := a.resolver(cmd, nil)
			if err != nil {
				return err
			}

			names := args
			if all {
				names = r.Catalog().Names()
			}
			var removed []string
			for _, n := range names {
				p, err := r.Path(n)
				if err != nil {
					return err
				}
				_, statErr := os.Stat(p)
				if err := r.Clean(n); err != nil {
					return err
				}
				if statErr == nil {
					removed = append(removed, p)
				} else if !errors.Is(statErr, fs.ErrNotExist) {
					return statErr
				}
			}
			if stale || all {
				rs, err := r.RemoveStale()
				if err != nil {
					return err
				}
				removed = append(removed, rs...)
			}

			if a.ro.JSONOut {
				if removed == nil {
					removed = []string{}
				}
				return writeJSON(a.stdout, map[string]any{"removed": removed})
			}
			if len(removed) == 0 {
				fmt.Fprintln(a.stdout, mutedStyle.Render("nothing to remove"))
				return nil
			}
			for _, p := range removed {
				fmt.Fprintln(a.stdout, successStyle.Render("removed ")+p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stale, "stale", false, "Remove leftover archives and partial downloads")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every cached resource and stale file")

	return cmd
}
