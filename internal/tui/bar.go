// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// barTemplate shows files finished, bytes and speed on one line.
const barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }} {{string . "suffix"}}`

// BarRenderer draws a single overall progress bar and prints a line for
// each failed file. It suits terminals where the full table is too noisy,
// such as CI logs.
type BarRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *pb.ProgressBar
	files map[string]int64
	total int64

	finished, failed int
}

// NewBarRenderer creates a bar writing to out. The bar starts on the
// first plan_item.
func NewBarRenderer(out io.Writer) *BarRenderer {
	bar := pb.New64(0)
	bar.SetTemplateString(barTemplate)
	bar.SetWriter(out)
	bar.SetRefreshRate(200 * time.Millisecond)
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", "files 0")
	return &BarRenderer{out: out, bar: bar, files: map[string]int64{}}
}

// Handler returns a ProgressFunc that updates the bar.
func (b *BarRenderer) Handler() ghfolder.ProgressFunc {
	return func(ev ghfolder.ProgressEvent) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch ev.Event {
		case "plan_item":
			if !b.bar.IsStarted() {
				b.bar.Start()
			}
			b.total += ev.Total
			b.bar.SetTotal(b.total)
		case "file_progress":
			b.advance(ev.Path, ev.Downloaded)
		case "retry":
			b.advance(ev.Path, 0)
		case "file_done":
			b.advance(ev.Path, ev.Bytes)
			b.finished++
		case "file_skip":
			b.advance(ev.Path, ev.Total)
			b.finished++
		case "file_error":
			// The file will never complete; take it out of the total.
			b.advance(ev.Path, 0)
			b.total -= ev.Total
			b.bar.SetTotal(b.total)
			b.failed++
			fmt.Fprintf(b.out, "\n%s %s: %s\n", red("failed"), ev.Path, ev.Message)
		case "quota_wait":
			b.bar.Set("suffix", yellow("waiting for quota "+fmtDuration(ev.Duration)))
			return
		}
		b.bar.Set("prefix", fmt.Sprintf("files %d", b.finished))
		if b.failed > 0 {
			b.bar.Set("suffix", red(fmt.Sprintf("%d failed", b.failed)))
		} else {
			b.bar.Set("suffix", "")
		}
	}
}

// advance moves the bar by the change in the file's byte count.
func (b *BarRenderer) advance(path string, now int64) {
	delta := now - b.files[path]
	b.files[path] = now
	b.bar.Add64(delta)
}

// Close finishes the bar.
func (b *BarRenderer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar.IsStarted() {
		b.bar.Finish()
	}
}
