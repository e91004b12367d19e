// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/newskylabs/kkrdata/internal/settings"
	"github.com/newskylabs/kkrdata/internal/tui"
	"github.com/newskylabs/kkrdata/pkg/datacache"
	"github.com/newskylabs/kkrdata/pkg/kaggle"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Config   string
	DataDir  string
	JSONOut  bool
	Quiet    bool
	LogLevel string
}

// app is the state shared by all commands of one invocation.
type app struct {
	ro     *RootOpts
	stdout io.Writer
	stderr io.Writer
	logger *log.Logger
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := NewRootCmd(version, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		return err
	}
	return nil
}

// NewRootCmd builds the command tree writing to the given streams.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	a := &app{ro: &RootOpts{}, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "kkrdata",
		Short: "Local cache for the Kuzushiji Recognition data set",
		Long: `kkrdata resolves resource names of the Kuzushiji Recognition data set
(train, translation, sample-submission, train-images, test-images, font)
to local files, downloading and unpacking archives on first access.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogger()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.ro.Config, "config", "", "Path to config file (JSON or YAML)")
	pf.StringVarP(&a.ro.DataDir, settings.KeyDataDir, "d", "", "Base data directory (default ~/.kkrdata/datasets)")
	pf.BoolVar(&a.ro.JSONOut, "json", false, "Emit machine-readable JSON (progress events and results)")
	pf.BoolVarP(&a.ro.Quiet, "quiet", "q", false, "Quiet mode (no live progress)")
	pf.StringVar(&a.ro.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(newResolveCmd(a))
	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newFilesCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newCleanCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd(a, version))
	root.AddCommand(newServeCmd(a))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func (a *app) setupLogger() error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(a.ro.LogLevel)))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q (expected debug, info, warn or error)", a.ro.LogLevel)
	}
	a.logger = log.NewWithOptions(a.stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "kkrdata",
	})
	return nil
}

// settings loads configuration with this command's flags applied on top.
func (a *app) settings(cmd *cobra.Command) (settings.Settings, error) {
	s, path, err := settings.Load(settings.LoadOptions{ConfigFile: a.ro.Config, Flags: cmd.Flags()})
	if err != nil {
		return s, err
	}
	if path != "" {
		a.log().Debug("loaded config", "path", path)
	}
	return s, nil
}

func (a *app) log() *log.Logger {
	if a.logger == nil {
		a.logger = log.New(io.Discard)
	}
	return a.logger
}

// resolver builds a Resolver from the effective settings.
func (a *app) resolver(cmd *cobra.Command, progress datacache.ProgressFunc) (*datacache.Resolver, error) {
	s, err := a.settings(cmd)
	if err != nil {
		return nil, err
	}
	dir, err := s.CacheDir()
	if err != nil {
		return nil, err
	}
	kopts, err := s.KaggleOptions()
	if err != nil {
		return nil, err
	}
	return datacache.New(datacache.Config{
		Dir:      dir,
		Catalog:  s.Catalog(),
		Kaggle:   kaggle.NewClient(kopts),
		Logger:   a.log(),
		Progress: progress,
	})
}

// progress selects the progress handler for the output mode. The returned
// func must be called once the work is done.
func (a *app) progress() (datacache.ProgressFunc, func()) {
	switch {
	case a.ro.JSONOut:
		return jsonProgress(a.stdout), func() {}
	case a.ro.Quiet:
		return cliProgress(a.stderr), func() {}
	default:
		ui := tui.NewLiveRenderer(a.stderr)
		return ui.Handler(), ui.Close
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// printError writes err to w with a hint for the failure classes a user
// can act on.
func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "error: ")
	fmt.Fprintln(w, err)

	var hint string
	switch {
	case errors.Is(err, datacache.ErrAuthenticationFailed):
		hint = "set KAGGLE_USERNAME and KAGGLE_KEY, or place kaggle.json in ~/.kaggle (or $KAGGLE_CONFIG_DIR),\n" +
			"and accept the competition rules on kaggle.com"
	case errors.Is(err, datacache.ErrUnknownResource):
		hint = "run 'kkrdata list' to see the available resources"
	case errors.Is(err, datacache.ErrNetwork):
		hint = "check your connection and retry; partial downloads are discarded"
	case errors.Is(err, datacache.ErrArchiveCorrupt), errors.Is(err, datacache.ErrMemberNotFound):
		hint = "run 'kkrdata clean --stale' and retry"
	}
	if hint != "" {
		color.New(color.Faint).Fprintln(w, "hint: "+hint)
	}
}

// cliProgress returns a minimal line-based progress handler.
func cliProgress(w io.Writer) datacache.ProgressFunc {
	var mu sync.Mutex
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)
	return func(ev datacache.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case datacache.EventDownloadStart:
			warn.Fprintf(w, "downloading %s\n", ev.Archive)
		case datacache.EventError:
			fail.Fprintf(w, "error: %s: %s\n", ev.Resource, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) datacache.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev datacache.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// writeJSON writes v as one JSON line.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
