// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

const barTemplate = `{{string . "prefix"}} {{bar . "[" "=" ">" " " "]"}} {{counters . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// LiveRenderer turns resolver events into terminal output.
// - Interactive terminals get a live download bar and an extraction counter.
// - Anything else gets one plain line per milestone, no ANSI.
type LiveRenderer struct {
	out      io.Writer
	supports bool // ANSI + interactive
	width    int

	mu      sync.Mutex
	events  chan datacache.ProgressEvent
	done    chan struct{}
	exited  chan struct{}
	stopped bool
	start   time.Time

	// current download
	bar        *pb.ProgressBar
	downloaded int64

	// extraction counter for the current archive
	extracted   int
	lastExtract time.Time
	counterLine bool

	resolved int
	failed   int
}

// NewLiveRenderer creates a renderer writing to out. Live output is used
// only when out is a terminal and TERM/NO_COLOR allow it.
func NewLiveRenderer(out io.Writer) *LiveRenderer {
	lr := &LiveRenderer{
		out:    out,
		events: make(chan datacache.ProgressEvent, 2048),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		start:  time.Now(),
	}
	if f, ok := out.(*os.File); ok {
		lr.supports = isInteractive(f) && ansiOkay()
		lr.width = termWidth(f)
	}
	go lr.loop()
	return lr
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (lr *LiveRenderer) Handler() datacache.ProgressFunc {
	return func(ev datacache.ProgressEvent) {
		switch ev.Event {
		case datacache.EventDownloadProgress, datacache.EventExtractMember:
			select {
			case lr.events <- ev:
			default:
				// Drop high-frequency events if the UI is congested.
			}
		default:
			select {
			case lr.events <- ev:
			case <-lr.done:
			}
		}
	}
}

// Close drains pending events, stops the renderer and prints a summary line.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()

	<-lr.exited
	if lr.bar != nil {
		lr.bar.Finish()
		lr.bar = nil
	}
	lr.endCounter()
	if lr.resolved+lr.failed > 1 {
		fmt.Fprintln(lr.out, lr.dim(fmt.Sprintf("%d resolved, %d failed in %s",
			lr.resolved, lr.failed, fmtDuration(time.Since(lr.start)))))
	}
}

func (lr *LiveRenderer) loop() {
	defer close(lr.exited)
	for {
		select {
		case ev := <-lr.events:
			lr.apply(ev)
		case <-lr.done:
			for {
				select {
				case ev := <-lr.events:
					lr.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (lr *LiveRenderer) apply(ev datacache.ProgressEvent) {
	switch ev.Event {
	case datacache.EventCacheHit:
		lr.resolved++
		lr.line(color.FgBlue, "•", ev.Resource, "cached  "+lr.fitPath(ev.Path))
	case datacache.EventResolveStart:
		lr.line(color.FgYellow, "▶", ev.Resource, "fetching "+ev.Archive)
	case datacache.EventAuth:
		lr.println(lr.dim("  " + ev.Message))
	case datacache.EventDownloadStart:
		lr.downloaded = 0
		lr.extracted = 0
		if lr.supports {
			lr.bar = pb.New64(0).
				SetTemplateString(barTemplate).
				Set("prefix", "  "+ev.Archive).
				Set(pb.Bytes, true).
				SetWriter(lr.out).
				SetWidth(lr.width).
				Start()
		}
	case datacache.EventDownloadProgress:
		lr.downloaded = ev.Downloaded
		if lr.bar != nil {
			if ev.Total > 0 {
				lr.bar.SetTotal(ev.Total)
			}
			lr.bar.SetCurrent(ev.Downloaded)
		}
	case datacache.EventDownloadDone:
		if lr.bar != nil {
			lr.bar.Finish()
			lr.bar = nil
			return
		}
		lr.println(fmt.Sprintf("  downloaded %s (%s)", ev.Archive, humanize.Bytes(uint64(max(lr.downloaded, 0)))))
	case datacache.EventExtractMember:
		lr.extracted++
		if lr.supports && time.Since(lr.lastExtract) > 150*time.Millisecond {
			lr.lastExtract = time.Now()
			lr.counterLine = true
			fmt.Fprintf(lr.out, "\r  extracting %s files", humanize.Comma(int64(lr.extracted)))
		}
	case datacache.EventArchiveRemoved:
		lr.endCounter()
		lr.println(lr.dim(fmt.Sprintf("  unpacked %s files, removed archive", humanize.Comma(int64(lr.extracted)))))
	case datacache.EventResolveDone:
		lr.resolved++
		lr.line(color.FgGreen, "✓", ev.Resource, lr.fitPath(ev.Path))
	case datacache.EventError:
		lr.failed++
		if lr.bar != nil {
			lr.bar.Finish()
			lr.bar = nil
		}
		lr.endCounter()
		lr.line(color.FgRed, "×", ev.Resource, ev.Message)
	}
}

func (lr *LiveRenderer) line(fg color.Attribute, mark, resource, msg string) {
	status := pad(mark+" "+resource, 20)
	if lr.supports {
		status = color.New(fg).Sprint(status)
	}
	lr.println(status + "  " + msg)
}

func (lr *LiveRenderer) println(s string) {
	lr.endCounter()
	fmt.Fprintln(lr.out, s)
}

func (lr *LiveRenderer) endCounter() {
	if lr.counterLine {
		fmt.Fprintln(lr.out)
		lr.counterLine = false
	}
}

func (lr *LiveRenderer) dim(s string) string {
	if !lr.supports {
		return s
	}
	return color.New(color.Faint).Sprint(s)
}

func (lr *LiveRenderer) fitPath(p string) string {
	if !lr.supports {
		return p
	}
	return ellipsizeMiddle(p, lr.width-24)
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return s
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func termWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	if w < 70 {
		return 70
	}
	return w
}

func isInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func ansiOkay() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
