// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// LiveRenderer redraws a progress table: a header for the target, an
// overall bar, and one row per active or recently finished file.
// Without an interactive terminal it prints each frame in sequence.
type LiveRenderer struct {
	target ghfolder.Target
	cfg    ghfolder.Settings
	out    io.Writer

	mu       sync.Mutex
	events   chan ghfolder.ProgressEvent
	done     chan struct{}
	exited   chan struct{}
	stopped  bool
	hideCur  bool
	supports bool // interactive terminal with ANSI

	planned    int
	totalBytes int64
	retries    int
	quotaLeft  int
	quotaWait  time.Duration
	lastError  string

	files map[string]*fileState

	lastTotalBytes int64
	lastTick       time.Time
	smoothedSpeed  float64
}

type fileState struct {
	path     string
	total    int64
	bytes    int64
	status   string // queued, downloading, done, skip, error
	attempt  int
	err      string
	started  time.Time
	finished time.Time

	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64
}

// speedSmoothingFactor weights the newest sample in the speed EMA.
const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

var (
	cyan    = color.New(color.FgCyan, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	blue    = color.New(color.FgBlue).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
)

// NewLiveRenderer starts a renderer writing to stdout.
func NewLiveRenderer(target ghfolder.Target, cfg ghfolder.Settings) *LiveRenderer {
	return newLiveRenderer(target, cfg, os.Stdout, isInteractive() && ansiOkay())
}

func newLiveRenderer(target ghfolder.Target, cfg ghfolder.Settings, out io.Writer, supports bool) *LiveRenderer {
	lr := &LiveRenderer{
		target:    target,
		cfg:       cfg,
		out:       out,
		events:    make(chan ghfolder.ProgressEvent, 2048),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		files:     map[string]*fileState{},
		supports:  supports,
		quotaLeft: -1,
	}
	if lr.supports {
		fmt.Fprint(lr.out, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

// Close drains pending events, draws the final frame and restores the
// cursor. It is safe to call more than once.
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
	if lr.hideCur {
		fmt.Fprint(lr.out, "\x1b[?25h")
	}
	fmt.Fprintln(lr.out)
}

// Handler returns a ProgressFunc that feeds events to the renderer.
// Progress events are dropped when the renderer falls behind; terminal
// events are never dropped.
func (lr *LiveRenderer) Handler() ghfolder.ProgressFunc {
	return func(ev ghfolder.ProgressEvent) {
		if ev.Event == "file_progress" {
			select {
			case lr.events <- ev:
			default:
			}
			return
		}
		select {
		case lr.events <- ev:
		case <-lr.done:
		}
	}
}

func (lr *LiveRenderer) loop() {
	defer close(lr.exited)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			for {
				select {
				case ev := <-lr.events:
					lr.apply(ev)
					continue
				default:
				}
				break
			}
			lr.render(true)
			return
		case ev := <-lr.events:
			lr.apply(ev)
		case <-ticker.C:
			if lr.supports {
				lr.render(false)
			}
		}
	}
}

func (lr *LiveRenderer) apply(ev ghfolder.ProgressEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if ev.Ref != "" {
		lr.target.Ref = ev.Ref
	}
	if ev.QuotaRemaining != 0 {
		lr.quotaLeft = ev.QuotaRemaining
	}

	switch ev.Event {
	case "plan_item":
		fs := lr.ensure(ev.Path)
		fs.total = ev.Total
		fs.status = "queued"
		lr.planned++
		lr.totalBytes += ev.Total
	case "file_start":
		fs := lr.ensure(ev.Path)
		fs.total = ev.Total
		fs.status = "downloading"
		if fs.started.IsZero() {
			fs.started = time.Now()
		}
	case "file_progress":
		fs := lr.ensure(ev.Path)
		if ev.Total > 0 {
			fs.total = ev.Total
		}
		fs.bytes = ev.Downloaded
		if fs.lastTime.IsZero() {
			fs.lastTime = time.Now()
			fs.lastBytes = fs.bytes
		}
	case "file_done":
		fs := lr.ensure(ev.Path)
		fs.status = "done"
		fs.bytes = ev.Bytes
		fs.attempt = ev.Attempt
		fs.finished = time.Now()
	case "file_skip":
		fs := lr.ensure(ev.Path)
		fs.status = "skip"
		fs.bytes = fs.total
		fs.finished = time.Now()
	case "file_error":
		fs := lr.ensure(ev.Path)
		fs.status = "error"
		fs.attempt = ev.Attempt
		fs.err = string(ev.Kind)
		fs.bytes = 0
		fs.finished = time.Now()
	case "retry":
		fs := lr.ensure(ev.Path)
		fs.attempt = ev.Attempt + 1
		fs.bytes = 0
		lr.retries++
	case "quota_wait":
		lr.quotaWait += ev.Duration
	case "error":
		lr.lastError = ev.Message
	}
}

func (lr *LiveRenderer) ensure(path string) *fileState {
	if fs, ok := lr.files[path]; ok {
		return fs
	}
	fs := &fileState{path: path, status: "queued"}
	lr.files[path] = fs
	return fs
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	w, h := termSize()
	if w < 70 {
		w = 70
	}
	if h < 12 {
		h = 12
	}

	var aggBytes int64
	var active, finished []*fileState
	var doneCnt, skipCnt, errCnt int
	for _, fs := range lr.files {
		switch fs.status {
		case "downloading":
			active = append(active, fs)
		case "done":
			doneCnt++
			finished = append(finished, fs)
		case "skip":
			skipCnt++
			finished = append(finished, fs)
		case "error":
			errCnt++
			finished = append(finished, fs)
		}
		aggBytes += fs.bytes
	}
	queued := lr.planned - (len(active) + doneCnt + skipCnt + errCnt)
	if queued < 0 {
		queued = 0
	}

	now := time.Now()
	if lr.lastTick.IsZero() {
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	} else if dt := now.Sub(lr.lastTick).Seconds(); dt > 0.05 {
		if inst := float64(aggBytes-lr.lastTotalBytes) / dt; inst >= 0 {
			lr.smoothedSpeed = smoothSpeed(inst, lr.smoothedSpeed)
		}
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	}
	speed := lr.smoothedSpeed

	eta := "-"
	if speed > 0 && lr.totalBytes > aggBytes {
		eta = fmtDuration(time.Duration(float64(lr.totalBytes-aggBytes)/speed) * time.Second)
	}

	if lr.supports {
		fmt.Fprint(lr.out, "\x1b[H\x1b[2J")
	}

	ref := lr.target.Ref
	if ref == "" {
		ref = "(default)"
	}
	path := lr.target.Path
	if path == "" {
		path = "/"
	}
	fmt.Fprintln(lr.out, cyan(fmt.Sprintf("Repo: %s   Ref: %s   Path: %s", lr.target.FullName(), ref, path)))

	workers := lr.cfg.MaxConcurrency
	if lr.cfg.Sequential {
		workers = 1
	}
	quota := "?"
	if lr.quotaLeft >= 0 {
		quota = fmt.Sprint(lr.quotaLeft)
	}
	fmt.Fprintln(lr.out, faint(fmt.Sprintf("Out: %s   Workers: %d   Verify: %s   Retries: %d   Quota: %s",
		lr.cfg.OutputDir, workers, lr.cfg.Verify, lr.cfg.MaxRetries, quota)))

	prog := ratio(aggBytes, lr.totalBytes)
	fmt.Fprintf(lr.out, "%s  %s  %s/%s  %s/s  ETA %s\n",
		green(renderBar(int(float64(w)*0.4), prog)),
		percent(prog),
		ghfolder.HumanBytes(aggBytes), ghfolder.HumanBytes(lr.totalBytes),
		ghfolder.HumanBytes(int64(speed)), eta,
	)
	counts := fmt.Sprintf("done %d  skip %d  failed %d  active %d  queued %d  retries %d",
		doneCnt, skipCnt, errCnt, len(active), queued, lr.retries)
	if lr.quotaWait > 0 {
		counts += fmt.Sprintf("  quota wait %s", fmtDuration(lr.quotaWait))
	}
	fmt.Fprintln(lr.out, counts)
	if lr.lastError != "" {
		fmt.Fprintln(lr.out, red("error: "+lr.lastError))
	}

	fmt.Fprintln(lr.out)
	fmt.Fprintln(lr.out, headerRow([]string{"Status", "File", "Progress", "Speed", "ETA"}, w))

	maxRows := h - 9
	if maxRows < 3 {
		maxRows = 3
	}
	if final {
		maxRows = len(active) + len(finished)
	}

	sort.Slice(active, func(i, j int) bool { return active[i].path < active[j].path })
	sort.Slice(finished, func(i, j int) bool { return finished[i].finished.After(finished[j].finished) })

	shown := 0
	for _, group := range [][]*fileState{active, finished} {
		for _, fs := range group {
			if shown >= maxRows {
				break
			}
			fmt.Fprintln(lr.out, renderFileRow(fs, w))
			shown++
		}
	}

	if lr.supports && !final {
		fmt.Fprintln(lr.out, faint(fmt.Sprintf("Press Ctrl+C to cancel - %s/%s", runtime.GOOS, runtime.GOARCH)))
	}
}

func renderFileRow(fs *fileState, w int) string {
	statusW, speedW, etaW := 11, 11, 8
	remain := w - (statusW + speedW + etaW + 8)
	if remain < 20 {
		remain = 20
	}
	fileW := remain / 2
	if fileW < 18 {
		fileW = 18
	}
	progressW := remain - fileW

	var st string
	switch fs.status {
	case "downloading":
		st = yellow(pad("> active", statusW))
		if fs.attempt > 1 {
			st = yellow(pad(fmt.Sprintf("> try %d", fs.attempt), statusW))
		}
	case "done":
		st = green(pad("ok done", statusW))
	case "skip":
		st = blue(pad("= cached", statusW))
	case "error":
		st = red(pad("x "+fs.err, statusW))
	default:
		st = magenta(pad(". queued", statusW))
	}

	p := ratio(fs.bytes, fs.total)
	progress := renderBar(progressW-20, p) + fmt.Sprintf(" %s/%s %s",
		ghfolder.HumanBytes(fs.bytes), ghfolder.HumanBytes(fs.total), percent(p))
	if utf8.RuneCountInString(progress) > progressW {
		progress = string([]rune(progress)[:progressW])
	}

	now := time.Now()
	if fs.lastTime.IsZero() {
		fs.lastTime = now
		fs.lastBytes = fs.bytes
	} else if dt := now.Sub(fs.lastTime).Seconds(); dt > 0.05 {
		if inst := float64(fs.bytes-fs.lastBytes) / dt; inst >= 0 {
			fs.smoothedSpeed = smoothSpeed(inst, fs.smoothedSpeed)
		}
		fs.lastTime = now
		fs.lastBytes = fs.bytes
	}
	speed := fs.smoothedSpeed
	if fs.status != "downloading" {
		speed = 0
	}

	eta := "-"
	if speed > 0 && fs.total > fs.bytes {
		eta = fmtDuration(time.Duration(float64(fs.total-fs.bytes)/speed) * time.Second)
	}

	return fmt.Sprintf("%s  %s  %s  %s  %s", st, ellipsizeMiddle(fs.path, fileW), progress,
		pad(ghfolder.HumanBytes(int64(speed))+"/s", speedW), pad(eta, etaW))
}

func ratio(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(n) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func headerRow(cols []string, w int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = bold(c)
	}
	return strings.Join(parts, "  ")
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func renderBar(width int, p float64) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
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

func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ansiOkay reports whether escape sequences may be used.
func ansiOkay() bool {
	if color.NoColor && os.Getenv("NO_COLOR") != "" {
		return false
	}
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
