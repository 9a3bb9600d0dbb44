package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"fetchledger/internal/scheduler"
)

// progressView renders scheduler snapshots of one pass as a progress bar
// counting finished units.
type progressView struct {
	mu    sync.Mutex
	out   io.Writer
	pass  int
	total int
	bar   *progressbar.ProgressBar
}

func newProgressView(out io.Writer, pass int) *progressView {
	return &progressView{out: out, pass: pass}
}

func (v *progressView) render(snap scheduler.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := snap.Active + snap.Parked + snap.Pending + snap.Completed + snap.Failed
	if total == 0 {
		return
	}
	if v.bar == nil {
		v.total = total
		v.bar = progressbar.NewOptions(
			total,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(v.out)
			}),
		)
	} else if total != v.total {
		v.total = total
		v.bar.ChangeMax(total)
	}
	v.bar.Describe(describeSnapshot(v.pass, snap))
	_ = v.bar.Set(snap.Completed + snap.Failed)
}

// close ends the bar, leaving it on screen when the pass stopped early.
func (v *progressView) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar == nil || v.bar.IsFinished() {
		return
	}
	_ = v.bar.Exit()
	fmt.Fprintln(v.out)
}

func describeSnapshot(pass int, snap scheduler.Snapshot) string {
	desc := fmt.Sprintf("pass %d %s %s/s", pass,
		humanize.IBytes(uint64(max(snap.TotalBytes, 0))),
		humanize.IBytes(uint64(max(snap.Speed, 0))),
	)
	if snap.Failed > 0 {
		desc += fmt.Sprintf(" failed=%d", snap.Failed)
	}
	if snap.State == scheduler.Paused {
		desc += " (paused)"
	}
	return desc
}
